package dashboard

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/zulandar/switchboard/internal/calls"
	"github.com/zulandar/switchboard/internal/telephony"
)

// webhookForm is the subset of provider callback parameters we act on.
type webhookForm struct {
	CallSid             string `form:"CallSid"`
	CallStatus          string `form:"CallStatus"`
	From                string `form:"From"`
	To                  string `form:"To"`
	RecordingSid        string `form:"RecordingSid"`
	RecordingURL        string `form:"RecordingUrl"`
	ConferenceSid       string `form:"ConferenceSid"`
	StatusCallbackEvent string `form:"StatusCallbackEvent"`
}

// webhook kinds, used for logging and metrics.
const (
	kindRecording  = "recording"
	kindConference = "conference"
	kindStatus     = "status"
	kindIncoming   = "incoming"
)

// classify picks the handler for a callback. Recording fields win over
// conference fields, which win over a call status.
func (f webhookForm) classify() string {
	switch {
	case f.RecordingSid != "" || f.RecordingURL != "":
		return kindRecording
	case f.ConferenceSid != "" && f.StatusCallbackEvent != "":
		return kindConference
	case f.CallStatus != "":
		return kindStatus
	default:
		return kindIncoming
	}
}

func (s *server) handleWebhook(c *gin.Context) {
	var form webhookForm
	if err := c.ShouldBind(&form); err != nil {
		log.Printf("dashboard: webhook: bad form: %v", err)
		c.String(http.StatusBadRequest, "Bad Request")
		return
	}
	reqID := uuid.NewString()
	kind := form.classify()
	s.metrics.WebhookEvent(kind)
	log.Printf("dashboard: webhook %s: %s call=%s status=%q", reqID, kind, form.CallSid, form.CallStatus)

	ctx := c.Request.Context()
	switch kind {
	case kindRecording:
		s.machine.Handle(ctx, calls.RecordingReady{
			RecordingSid:  form.RecordingSid,
			RecordingURL:  form.RecordingURL,
			CallSid:       form.CallSid,
			ConferenceSid: form.ConferenceSid,
		})
		c.String(http.StatusOK, "OK")
	case kindConference:
		s.machine.Handle(ctx, calls.ConferenceChanged{
			ConferenceSid: form.ConferenceSid,
			Event:         form.StatusCallbackEvent,
			CallSid:       form.CallSid,
		})
		c.String(http.StatusOK, "OK")
	default:
		res := s.machine.Handle(ctx, calls.StatusChanged{
			CallSid:      form.CallSid,
			Status:       form.CallStatus,
			From:         form.From,
			To:           form.To,
			FirstContact: kind == kindIncoming,
		})
		if !res.FirstContact && kind != kindIncoming {
			c.String(http.StatusOK, "OK")
			return
		}
		s.writeTwiML(c, reqID, res.AssistantCall)
	}
}

func (s *server) writeTwiML(c *gin.Context, reqID string, assistant bool) {
	body, err := telephony.VoiceResponse(assistant, s.streamURL).Marshal()
	if err != nil {
		log.Printf("dashboard: webhook %s: render twiml: %v", reqID, err)
		c.String(http.StatusInternalServerError, "Internal Server Error")
		return
	}
	c.Data(http.StatusOK, "text/xml", body)
}

package dashboard

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/zulandar/switchboard/internal/calls"
	"github.com/zulandar/switchboard/internal/hub"
)

const (
	writeWait        = 10 * time.Second
	statsTimeout     = 10 * time.Second
	maxDashboardRead = 4096
)

type socketKind int

const (
	audioSocket socketKind = iota
	dashboardSocket
)

// classifySocket routes an upgrade request by path. Anything that is not a
// dashboard path is an audio stream.
func classifySocket(path string) socketKind {
	if strings.HasPrefix(path, "/ws") || strings.HasPrefix(path, "/dashboard") {
		return dashboardSocket
	}
	return audioSocket
}

// Origins are not checked: the provider and the dashboard frontend both
// connect cross-origin.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsConn adapts a websocket connection to hub.Conn. Writes are serialized
// and bounded by writeWait.
type wsConn struct {
	ws     *websocket.Conn
	mu     sync.Mutex
	closed bool
}

func (c *wsConn) Send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return hub.ErrClosed
	}
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, msg)
}

func (c *wsConn) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *wsConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.ws.Close()
}

func (s *server) handleSocket(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("dashboard: upgrade %s: %v", c.Request.URL.Path, err)
		return
	}
	if !s.trackSocket(ws) {
		ws.Close()
		return
	}
	defer s.untrackSocket(ws)
	switch classifySocket(c.Request.URL.Path) {
	case dashboardSocket:
		s.serveDashboard(ws)
	default:
		s.serveAudio(ws)
	}
}

// trackSocket records an open socket. It reports false once shutdown has
// begun.
func (s *server) trackSocket(ws *websocket.Conn) bool {
	s.sockMu.Lock()
	defer s.sockMu.Unlock()
	if s.closing {
		return false
	}
	s.sockets[ws] = struct{}{}
	s.sockWG.Add(1)
	return true
}

func (s *server) untrackSocket(ws *websocket.Conn) {
	s.sockMu.Lock()
	delete(s.sockets, ws)
	s.sockMu.Unlock()
	s.sockWG.Done()
}

// closeSockets closes every open socket and waits for their handlers to
// finish, including the stream stop an audio handler sends on close.
func (s *server) closeSockets() {
	s.sockMu.Lock()
	s.closing = true
	open := make([]*websocket.Conn, 0, len(s.sockets))
	for ws := range s.sockets {
		open = append(open, ws)
	}
	s.sockMu.Unlock()

	if len(open) > 0 {
		log.Printf("dashboard: closing %d open sockets", len(open))
	}
	for _, ws := range open {
		ws.Close()
	}
	s.sockWG.Wait()
}

// dashboardMessage is a request from a dashboard observer.
type dashboardMessage struct {
	Type string `json:"type"`
}

// serveDashboard subscribes the connection to broadcasts and answers ping
// and requestStats until the peer goes away.
func (s *server) serveDashboard(ws *websocket.Conn) {
	conn := &wsConn{ws: ws}
	s.hub.Subscribe(conn)
	log.Printf("dashboard: observer connected from %s (%d open)", ws.RemoteAddr(), s.hub.Len())
	defer func() {
		s.hub.Unsubscribe(conn)
		conn.Close()
		log.Printf("dashboard: observer disconnected (%d open)", s.hub.Len())
	}()

	initial := time.AfterFunc(s.initialStatsDelay, func() {
		if conn.Open() {
			s.sendStats(conn)
		}
	})
	defer initial.Stop()

	ws.SetReadLimit(maxDashboardRead)
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("dashboard: observer read: %v", err)
			}
			return
		}
		var msg dashboardMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("dashboard: malformed observer message dropped: %v", err)
			continue
		}
		switch msg.Type {
		case "ping":
			if err := s.hub.SendTo(conn, hub.Pong()); err != nil {
				return
			}
		case "requestStats":
			s.sendStats(conn)
		default:
			log.Printf("dashboard: unknown observer message %q", msg.Type)
		}
	}
}

func (s *server) sendStats(conn hub.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), statsTimeout)
	defer cancel()
	if err := s.hub.SendTo(conn, hub.StatsUpdate(s.agg.Compute(ctx))); err != nil {
		log.Printf("dashboard: send stats: %v", err)
	}
}

// streamMessage is one event on the provider's media stream.
type streamMessage struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
	Start     *struct {
		CallSid   string `json:"callSid"`
		StreamSid string `json:"streamSid"`
	} `json:"start"`
	Media *struct {
		Payload string `json:"payload"`
	} `json:"media"`
}

// serveAudio feeds a provider media stream into the machine. A connection
// that closes without a stop event is treated as stopped.
func (s *server) serveAudio(ws *websocket.Conn) {
	defer ws.Close()
	ctx := context.Background()
	var callSid string
	stopped := false

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("dashboard: audio stream %s read: %v", callSid, err)
			}
			break
		}
		var msg streamMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("dashboard: malformed stream message dropped: %v", err)
			continue
		}

		switch msg.Event {
		case "connected":
			log.Printf("dashboard: audio stream connected")
		case "start":
			if msg.Start == nil || msg.Start.CallSid == "" {
				log.Printf("dashboard: stream start without call sid dropped")
				continue
			}
			callSid = msg.Start.CallSid
			streamSid := msg.Start.StreamSid
			if streamSid == "" {
				streamSid = msg.StreamSid
			}
			stopped = false
			s.machine.Handle(ctx, calls.StreamStarted{CallSid: callSid, StreamSid: streamSid})
		case "media":
			if callSid == "" || msg.Media == nil {
				continue
			}
			payload, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
			if err != nil {
				log.Printf("dashboard: %s: undecodable media payload dropped: %v", callSid, err)
				continue
			}
			s.machine.Handle(ctx, calls.StreamMedia{CallSid: callSid, Payload: payload})
		case "stop":
			if callSid != "" {
				s.machine.Handle(ctx, calls.StreamStopped{CallSid: callSid})
				stopped = true
			}
		default:
			log.Printf("dashboard: unknown stream event %q", msg.Event)
		}
	}

	if callSid != "" && !stopped {
		s.machine.Handle(ctx, calls.StreamStopped{CallSid: callSid})
	}
}

package telephony

import (
	"encoding/xml"
	"fmt"
)

const (
	assistantGreeting = "Aurora AI Assistant connected. Audio streaming started."
	regularGreeting   = "Hello, this call will be recorded for quality purposes."

	// Assistant calls stay open up to an hour so they can be merged; regular
	// calls are held for five minutes.
	assistantHoldSeconds = 3600
	regularHoldSeconds   = 300
)

// Response is a TwiML <Response> document.
type Response struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []interface{}
}

// Say speaks text to the caller.
type Say struct {
	XMLName  xml.Name `xml:"Say"`
	Voice    string   `xml:"voice,attr,omitempty"`
	Language string   `xml:"language,attr,omitempty"`
	Text     string   `xml:",chardata"`
}

// Start begins asynchronous media streaming.
type Start struct {
	XMLName xml.Name `xml:"Start"`
	Stream  Stream
}

// Stream forks call audio to a WebSocket endpoint.
type Stream struct {
	XMLName xml.Name `xml:"Stream"`
	URL     string   `xml:"url,attr"`
	Track   string   `xml:"track,attr,omitempty"`
}

// Pause holds the line for Length seconds.
type Pause struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr"`
}

// VoiceResponse builds the answer for a newly arrived call. Assistant calls
// are greeted and streamed to streamURL; everyone else gets the recording
// notice.
func VoiceResponse(assistant bool, streamURL string) Response {
	if assistant {
		return Response{Verbs: []interface{}{
			Say{Voice: "alice", Language: "en-US", Text: assistantGreeting},
			Start{Stream: Stream{URL: streamURL, Track: "both_tracks"}},
			Pause{Length: assistantHoldSeconds},
		}}
	}
	return Response{Verbs: []interface{}{
		Say{Text: regularGreeting},
		Pause{Length: regularHoldSeconds},
	}}
}

// Marshal renders the document with an XML declaration.
func (r Response) Marshal() ([]byte, error) {
	body, err := xml.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("telephony: marshal twiml: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}

// Package notify posts call lifecycle events to chat platforms.
package notify

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/zulandar/switchboard/internal/hub"
	"github.com/zulandar/switchboard/internal/store"
	"gorm.io/gorm"
)

const defaultSendTimeout = 30 * time.Second

// Sender delivers a formatted message to one chat platform.
type Sender interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// Message is a platform-neutral chat notification.
type Message struct {
	Title  string
	Body   string
	Color  string // sidebar color hint, e.g. "#36a64f"
	Fields []Field
}

// Field is a key-value pair rendered alongside a message.
type Field struct {
	Name  string
	Value string
	Short bool
}

// Opts holds parameters for creating a Notifier.
type Opts struct {
	Senders     []Sender
	DB          *gorm.DB // optional; used to attach notes to noteCreated
	BaseContext context.Context
	SendTimeout time.Duration
}

// Notifier turns hub events into chat messages. It is attached to the hub
// with Tap and never blocks the broadcaster.
type Notifier struct {
	senders []Sender
	db      *gorm.DB
	baseCtx context.Context
	timeout time.Duration
	wg      sync.WaitGroup
}

// New creates a Notifier.
func New(opts Opts) (*Notifier, error) {
	if len(opts.Senders) == 0 {
		return nil, fmt.Errorf("notify: at least one sender is required")
	}
	n := &Notifier{
		senders: opts.Senders,
		db:      opts.DB,
		baseCtx: opts.BaseContext,
		timeout: opts.SendTimeout,
	}
	if n.baseCtx == nil {
		n.baseCtx = context.Background()
	}
	if n.timeout <= 0 {
		n.timeout = defaultSendTimeout
	}
	return n, nil
}

// Listen is a hub.Listener. Events other than callEnded and noteCreated are
// ignored.
func (n *Notifier) Listen(evt hub.Event) {
	switch evt.Type {
	case hub.TypeCallEnded, hub.TypeNoteCreated:
	default:
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(n.baseCtx, n.timeout)
		defer cancel()
		n.deliver(ctx, evt)
	}()
}

// Wait blocks until all pending deliveries have finished.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) deliver(ctx context.Context, evt hub.Event) {
	var msg Message
	switch evt.Type {
	case hub.TypeCallEnded:
		msg = FormatCallEnded(evt.CallSid, evt.Status)
	case hub.TypeNoteCreated:
		var notes string
		if n.db != nil {
			note, err := store.LatestNote(n.db.WithContext(ctx), evt.CallSid)
			if err != nil {
				log.Printf("notify: load note for %s: %v", evt.CallSid, err)
			} else {
				notes = note.Notes
			}
		}
		msg = FormatNoteCreated(evt.CallSid, evt.Source, notes)
	}
	for _, s := range n.senders {
		if err := s.Send(ctx, msg); err != nil {
			log.Printf("notify: %s: %v", s.Name(), err)
		}
	}
}

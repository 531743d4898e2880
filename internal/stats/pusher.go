package stats

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/switchboard/internal/hub"
)

// scheduleParser accepts 5-field cron expressions and descriptors such as
// "@every 30s".
var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// PusherOpts configures a Pusher.
type PusherOpts struct {
	Aggregator *Aggregator
	Hub        *hub.Hub
	Schedule   string // defaults to "@every 30s"
}

// Pusher periodically broadcasts a stats snapshot to dashboard observers.
type Pusher struct {
	agg      *Aggregator
	hub      *hub.Hub
	schedule cron.Schedule
}

// NewPusher validates opts and parses the schedule.
func NewPusher(opts PusherOpts) (*Pusher, error) {
	if opts.Aggregator == nil {
		return nil, fmt.Errorf("stats: aggregator is required")
	}
	if opts.Hub == nil {
		return nil, fmt.Errorf("stats: hub is required")
	}
	if opts.Schedule == "" {
		opts.Schedule = "@every 30s"
	}
	sched, err := scheduleParser.Parse(opts.Schedule)
	if err != nil {
		return nil, fmt.Errorf("stats: parse schedule %q: %w", opts.Schedule, err)
	}
	return &Pusher{agg: opts.Aggregator, hub: opts.Hub, schedule: sched}, nil
}

// Run fires Push on every scheduled tick until ctx is cancelled.
func (p *Pusher) Run(ctx context.Context) {
	timer := time.NewTimer(p.untilNext())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			p.Push(ctx)
			timer.Reset(p.untilNext())
		}
	}
}

// Push computes and broadcasts one snapshot. Nothing is computed while no
// observer is connected. It reports whether a broadcast happened.
func (p *Pusher) Push(ctx context.Context) bool {
	if p.hub.Len() == 0 {
		return false
	}
	snap := p.agg.Compute(ctx)
	n := p.hub.Broadcast(hub.StatsUpdate(snap))
	log.Printf("stats: pushed snapshot to %d observers", n)
	return true
}

func (p *Pusher) untilNext() time.Duration {
	d := time.Until(p.schedule.Next(time.Now()))
	if d < 0 {
		return 0
	}
	return d
}

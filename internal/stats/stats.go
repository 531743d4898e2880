// Package stats computes the dashboard summary counts.
package stats

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
)

// UserStats summarizes dashboard accounts.
type UserStats struct {
	Total   int64 `json:"total"`
	Active  int64 `json:"active"`
	Admins  int64 `json:"admins"`
	Regular int64 `json:"regular"`
	Recent  int64 `json:"recent"`
}

// CallStats summarizes call volume.
type CallStats struct {
	Total          int64 `json:"total"`
	Today          int64 `json:"today"`
	ThisWeek       int64 `json:"thisWeek"`
	AssistantCalls int64 `json:"assistantCalls"`
}

// NoteStats summarizes generated notes.
type NoteStats struct {
	Total         int64 `json:"total"`
	FromStream    int64 `json:"fromStream"`
	FromRecording int64 `json:"fromRecording"`
	Recent        int64 `json:"recent"`
}

// Snapshot is one complete stats payload.
type Snapshot struct {
	Users UserStats `json:"users"`
	Calls CallStats `json:"calls"`
	Notes NoteStats `json:"notes"`
}

// Aggregator runs the stats queries.
type Aggregator struct {
	db  *gorm.DB
	now func() time.Time
}

// NewAggregator returns an aggregator reading from db.
func NewAggregator(db *gorm.DB) *Aggregator {
	return &Aggregator{db: db, now: time.Now}
}

// Compute gathers all three groups concurrently. A group whose queries fail
// is reported as zeros; the other groups are unaffected.
func (a *Aggregator) Compute(ctx context.Context) Snapshot {
	var snap Snapshot
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		snap.Users = a.users(ctx)
	}()
	go func() {
		defer wg.Done()
		snap.Calls = a.calls(ctx)
	}()
	go func() {
		defer wg.Done()
		snap.Notes = a.notes(ctx)
	}()
	wg.Wait()
	return snap
}

func (a *Aggregator) users(ctx context.Context) UserStats {
	weekAgo := a.now().Add(-7 * 24 * time.Hour)
	q := func() *gorm.DB { return a.db.WithContext(ctx).Model(&models.User{}) }
	counts, err := countAll(
		func(n *int64) error { return q().Count(n).Error },
		func(n *int64) error { return q().Where("is_active = ?", true).Count(n).Error },
		func(n *int64) error { return q().Where("role = ?", "admin").Count(n).Error },
		func(n *int64) error { return q().Where("created_at >= ?", weekAgo).Count(n).Error },
	)
	if err != nil {
		log.Printf("stats: users: %v", err)
		return UserStats{}
	}
	return UserStats{
		Total:   counts[0],
		Active:  counts[1],
		Admins:  counts[2],
		Regular: counts[0] - counts[2],
		Recent:  counts[3],
	}
}

func (a *Aggregator) calls(ctx context.Context) CallStats {
	now := a.now()
	todayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	weekAgo := now.Add(-7 * 24 * time.Hour)
	q := func() *gorm.DB { return a.db.WithContext(ctx).Model(&models.Call{}) }
	counts, err := countAll(
		func(n *int64) error { return q().Count(n).Error },
		func(n *int64) error { return q().Where("start_time >= ?", todayStart).Count(n).Error },
		func(n *int64) error { return q().Where("start_time >= ?", weekAgo).Count(n).Error },
		func(n *int64) error { return q().Where("is_assistant_call = ?", true).Count(n).Error },
	)
	if err != nil {
		log.Printf("stats: calls: %v", err)
		return CallStats{}
	}
	return CallStats{
		Total:          counts[0],
		Today:          counts[1],
		ThisWeek:       counts[2],
		AssistantCalls: counts[3],
	}
}

func (a *Aggregator) notes(ctx context.Context) NoteStats {
	dayAgo := a.now().Add(-24 * time.Hour)
	q := func() *gorm.DB { return a.db.WithContext(ctx).Model(&models.CallNote{}) }
	counts, err := countAll(
		func(n *int64) error { return q().Count(n).Error },
		func(n *int64) error { return q().Where("source = ?", models.SourceAudioStream).Count(n).Error },
		func(n *int64) error { return q().Where("source = ?", models.SourceRecording).Count(n).Error },
		func(n *int64) error { return q().Where("created_at >= ?", dayAgo).Count(n).Error },
	)
	if err != nil {
		log.Printf("stats: notes: %v", err)
		return NoteStats{}
	}
	return NoteStats{
		Total:         counts[0],
		FromStream:    counts[1],
		FromRecording: counts[2],
		Recent:        counts[3],
	}
}

// countAll runs each counter in its own goroutine and returns the results in
// argument order, or the first error.
func countAll(counters ...func(*int64) error) ([]int64, error) {
	out := make([]int64, len(counters))
	errs := make([]error, len(counters))
	var wg sync.WaitGroup
	for i, fn := range counters {
		wg.Add(1)
		go func(i int, fn func(*int64) error) {
			defer wg.Done()
			errs[i] = fn(&out[i])
		}(i, fn)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

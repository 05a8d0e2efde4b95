package gateway

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lhdbsbz/analystdesk/internal/stream"
)

// heartbeat owns the cron job that sends update envelopes to idle sockets.
type heartbeat struct {
	mu       sync.Mutex
	cron     *cron.Cron // nil until started
	entry    cron.EntryID
	schedule string
}

// startHeartbeat schedules the update envelopes that keep idle sockets busy.
// An empty schedule leaves the scheduler idle until a reload sets one.
func (s *Server) startHeartbeat() (stop func(), err error) {
	hb := &s.heartbeat
	c := cron.New()
	hb.mu.Lock()
	hb.cron = c
	hb.mu.Unlock()

	if err := hb.reschedule(s.Settings().Heartbeat, s.beat); err != nil {
		hb.mu.Lock()
		hb.cron = nil
		hb.mu.Unlock()
		return nil, err
	}
	c.Start()
	return func() {
		hb.mu.Lock()
		hb.cron = nil
		hb.entry = 0
		hb.schedule = ""
		hb.mu.Unlock()
		<-c.Stop().Done()
	}, nil
}

// reschedule replaces the heartbeat job. Before the scheduler starts only
// the schedule is validated.
func (hb *heartbeat) reschedule(schedule string, beat func()) error {
	hb.mu.Lock()
	defer hb.mu.Unlock()

	if hb.cron == nil {
		if schedule == "" {
			return nil
		}
		if _, err := cron.ParseStandard(schedule); err != nil {
			return fmt.Errorf("schedule heartbeat %q: %w", schedule, err)
		}
		return nil
	}

	var id cron.EntryID
	if schedule != "" {
		var err error
		if id, err = hb.cron.AddFunc(schedule, beat); err != nil {
			return fmt.Errorf("schedule heartbeat %q: %w", schedule, err)
		}
	}
	if hb.entry != 0 {
		hb.cron.Remove(hb.entry)
	}
	hb.entry = id
	hb.schedule = schedule
	if schedule == "" {
		slog.Info("heartbeat disabled")
	} else {
		slog.Info("heartbeat scheduled", "schedule", schedule)
	}
	return nil
}

// scheduled returns the schedule of the running heartbeat job.
func (hb *heartbeat) scheduled() string {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	return hb.schedule
}

func (s *Server) beat() {
	n := s.Conns.Broadcast(stream.NewEnvelope(stream.TypeUpdate, "", map[string]any{
		"status": "alive",
		"time":   time.Now().UTC().Format(time.RFC3339),
	}))
	if n > 0 {
		slog.Debug("heartbeat sent", "sockets", n)
	}
}

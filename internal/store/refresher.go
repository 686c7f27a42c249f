package store

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

// StartRefresher begins a periodic sweep that refetches detail cache
// entries whose freshness window elapsed while they were still being
// watched. Returns an error for an invalid cron spec; StopRefresher (or a
// second StartRefresher) stops the previous schedule.
func (s *Store) StartRefresher(spec string) error {
	s.StopRefresher()

	c := cron.New()
	if _, err := c.AddFunc(spec, s.refreshStale); err != nil {
		return err
	}
	c.Start()

	s.mu.Lock()
	s.cronStop = func() {
		c.Stop()
	}
	s.mu.Unlock()
	return nil
}

// StopRefresher halts the periodic sweep, if running.
func (s *Store) StopRefresher() {
	s.mu.Lock()
	stop := s.cronStop
	s.cronStop = nil
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
}

func (s *Store) refreshStale() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for id, item := range s.details.Items() {
		cached, ok := item.Object.(cachedDetail)
		if !ok || time.Since(cached.lastFetchedAt) < s.ttl {
			continue
		}
		if err := s.refreshDetail(ctx, id); err != nil {
			s.log.Warn("Stale detail refresh failed", "auction_id", id, "error", err)
		}
	}
}

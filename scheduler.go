package main

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"twin-chat/internal/chat"
)

const evictSchedule = "@every 1m"

// Scheduler snapshots dirty workspaces and evicts idle ones.
type Scheduler struct {
	chat    *chat.Service
	cron    *cron.Cron
	idleTTL time.Duration
	logger  zerolog.Logger
}

// NewScheduler registers the snapshot job on schedule and the idle eviction
// job. Nothing runs until Start.
func NewScheduler(svc *chat.Service, schedule string, idleTTL time.Duration) (*Scheduler, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	s := &Scheduler{
		chat:    svc,
		cron:    c,
		idleTTL: idleTTL,
		logger:  log.With().Str("component", "scheduler").Logger(),
	}

	if _, err := c.AddFunc(schedule, s.snapshotAll); err != nil {
		return nil, fmt.Errorf("failed to schedule snapshots %q: %w", schedule, err)
	}
	if idleTTL > 0 {
		if _, err := c.AddFunc(evictSchedule, s.evictIdle); err != nil {
			return nil, fmt.Errorf("failed to schedule eviction: %w", err)
		}
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Int("jobs", len(s.cron.Entries())).Msg("Scheduler started")
}

func (s *Scheduler) snapshotAll() {
	n, err := s.chat.SnapshotAll()
	if err != nil {
		s.logger.Error().Err(err).Msg("Snapshot failed")
	}
	if n > 0 {
		s.logger.Debug().Int("workspaces", n).Msg("Snapshots written")
	}
}

func (s *Scheduler) evictIdle() {
	if n := s.chat.EvictIdle(s.idleTTL); n > 0 {
		s.logger.Info().Int("workspaces", n).Dur("idle_ttl", s.idleTTL).Msg("Evicted idle workspaces")
	}
}

// Stop waits for running jobs and then writes a final snapshot.
func (s *Scheduler) Stop() {
	s.logger.Info().Msg("Stopping scheduler...")
	<-s.cron.Stop().Done()
	s.snapshotAll()
	s.logger.Info().Msg("Scheduler stopped")
}

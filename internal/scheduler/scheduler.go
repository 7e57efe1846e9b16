// Package scheduler runs Blockgate's periodic background tasks: daily
// maintenance of the access database and log directory, and an hourly
// activity summary.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/blockgate/internal/config"
	"github.com/energizer-project/blockgate/internal/players"
	"github.com/energizer-project/blockgate/internal/util"
)

const statsInterval = time.Hour

// BanPurger removes lapsed bans.
type BanPurger interface {
	PurgeExpiredBans(ctx context.Context) (int64, error)
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	cfg     *config.Config
	bans    BanPurger
	players *players.Manager
	now     func() time.Time
}

// NewScheduler creates a scheduler. bans and pm may be nil.
func NewScheduler(cfg *config.Config, bans BanPurger, pm *players.Manager) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		bans:    bans,
		players: pm,
		now:     time.Now,
	}
}

// Start runs the scheduled tasks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	log.Info().Msg("scheduler started")

	go s.runMaintenanceLoop(ctx)
	go s.runStatsLoop(ctx)

	<-ctx.Done()
	log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) runMaintenanceLoop(ctx context.Context) {
	for {
		nextRun := s.nextMaintenance(s.now())
		sleep := nextRun.Sub(s.now())
		if sleep <= 0 {
			sleep = 24 * time.Hour
		}

		log.Info().
			Time("next_run", nextRun).
			Dur("sleep", sleep).
			Msg("maintenance scheduled")

		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
			s.RunMaintenance(ctx)
		}
	}
}

// RunMaintenance purges expired bans and prunes old log files.
func (s *Scheduler) RunMaintenance(ctx context.Context) {
	if s.bans != nil {
		n, err := s.bans.PurgeExpiredBans(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("maintenance: ban purge failed")
		} else {
			log.Info().Int64("purged", n).Msg("maintenance: expired bans purged")
		}
	}

	logging := s.cfg.Logging
	util.PruneLogs(logging.Directory, logging.MaxBackups)
	log.Info().Str("directory", logging.Directory).Msg("maintenance: log directory pruned")
}

func (s *Scheduler) runStatsLoop(ctx context.Context) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.collectStats()
		}
	}
}

// collectStats logs the current player count.
func (s *Scheduler) collectStats() int {
	online := 0
	if s.players != nil {
		online = s.players.Count()
	}
	log.Info().
		Int("online", online).
		Dur("uptime", util.Uptime().Truncate(time.Second)).
		Msg("activity summary")
	return online
}

// nextMaintenance returns the first configured HH:MM after now.
func (s *Scheduler) nextMaintenance(now time.Time) time.Time {
	hour, minute := 4, 0
	if t, err := time.Parse("15:04", s.cfg.Storage.MaintenanceTime); err == nil {
		hour, minute = t.Hour(), t.Minute()
	}

	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}

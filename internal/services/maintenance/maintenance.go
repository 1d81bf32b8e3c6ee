// Package maintenance runs the worker's housekeeping loop: Badger
// value-log garbage collection, dead-letter pruning, and report-artifact
// expiry, each on its own cron schedule.
package maintenance

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/autobolt/internal/common"
	"github.com/ternarybob/autobolt/internal/interfaces"
)

// deadLetterKeep bounds retained dead-letter batches between reporter
// prunes; matches the reporter's own cap
const deadLetterKeep = 100

// Service schedules the housekeeping jobs
type Service struct {
	config  *common.MaintenanceConfig
	reports *common.ReportsConfig
	store   interfaces.WorkerStore
	cron    *cron.Cron
	logger  arbor.ILogger
}

// NewService creates the maintenance service
func NewService(config *common.MaintenanceConfig, reports *common.ReportsConfig, store interfaces.WorkerStore, logger arbor.ILogger) *Service {
	if logger == nil {
		logger = common.GetLogger()
	}
	return &Service{
		config:  config,
		reports: reports,
		store:   store,
		cron:    cron.New(),
		logger:  logger,
	}
}

// Start registers the cron entries and begins the loop. Disabled config
// makes Start a no-op.
func (s *Service) Start() error {
	if !s.config.Enabled {
		return nil
	}

	if _, err := s.cron.AddFunc(s.config.GCSchedule, s.runValueLogGC); err != nil {
		return fmt.Errorf("invalid gc_schedule %q: %w", s.config.GCSchedule, err)
	}
	if _, err := s.cron.AddFunc(s.config.PruneSchedule, s.runPrune); err != nil {
		return fmt.Errorf("invalid prune_schedule %q: %w", s.config.PruneSchedule, err)
	}

	s.cron.Start()
	s.logger.Info().
		Str("gc_schedule", s.config.GCSchedule).
		Str("prune_schedule", s.config.PruneSchedule).
		Msg("Maintenance scheduler started")
	return nil
}

// Stop halts the cron loop, waiting for a running entry to finish
func (s *Service) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Service) runValueLogGC() {
	// ErrNoRewrite is normal when there is nothing to reclaim
	if err := s.store.RunValueLogGC(); err != nil {
		s.logger.Debug().Err(err).Msg("Value-log GC pass finished without rewrite")
		return
	}
	s.logger.Debug().Msg("Value-log GC reclaimed space")
}

func (s *Service) runPrune() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	removed, err := s.store.PruneDeadLetters(ctx, deadLetterKeep)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Dead-letter pruning failed")
	} else if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("Pruned dead-letter batches")
	}

	s.pruneReports()
}

// pruneReports removes report artifacts older than the retention window
func (s *Service) pruneReports() {
	if !s.reports.Enabled || s.reports.KeepDays <= 0 {
		return
	}
	cutoff := time.Now().Add(-time.Duration(s.reports.KeepDays) * 24 * time.Hour)

	entries, err := os.ReadDir(s.reports.OutputDir)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn().Err(err).Msg("Failed to read report directory")
		}
		return
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.reports.OutputDir, entry.Name())); err != nil {
			s.logger.Warn().Err(err).Str("file", entry.Name()).Msg("Failed to remove expired report")
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("Pruned expired report artifacts")
	}
}

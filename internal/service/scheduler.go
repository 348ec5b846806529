package service

import (
	"context"
	"sync"
	"time"

	"onionchat/internal/constants"
	"onionchat/internal/metrics"

	"github.com/sirupsen/logrus"
)

// RecordCleaner deletes local state older than the retention window.
type RecordCleaner interface {
	CleanupOldRecords(ctx context.Context, retentionDays int) (int64, error)
}

type Scheduler struct {
	cleaner       RecordCleaner
	retentionDays int
	interval      time.Duration
	logger        *logrus.Logger
	stopCh        chan struct{}
	stopOnce      sync.Once
}

func NewScheduler(cleaner RecordCleaner, retentionDays int, interval time.Duration, logger *logrus.Logger) *Scheduler {
	if interval <= 0 {
		interval = constants.DefaultCleanupIntervalMin * time.Minute
	}
	if retentionDays <= 0 {
		retentionDays = constants.DefaultRetentionDays
	}
	return &Scheduler{
		cleaner:       cleaner,
		retentionDays: retentionDays,
		interval:      interval,
		logger:        logger,
		stopCh:        make(chan struct{}),
	}
}

// Start runs a cleanup immediately and then on every interval until ctx
// ends or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Starting cleanup scheduler")

	s.runCleanup(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler context cancelled, stopping")
			return
		case <-s.stopCh:
			s.logger.Info("Scheduler stop signal received, stopping")
			return
		case <-ticker.C:
			s.runCleanup(ctx)
		}
	}
}

func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Scheduler) runCleanup(ctx context.Context) {
	s.logger.WithField("retentionDays", s.retentionDays).Info("Running scheduled cleanup")

	removed, err := s.cleaner.CleanupOldRecords(ctx, s.retentionDays)
	if err != nil {
		s.logger.WithError(err).Error("Failed to cleanup old records")
		return
	}

	metrics.OutboxCleanedTotal.Add(float64(removed))
	s.logger.WithField(LogFieldCount, removed).Info("Successfully completed cleanup")
}

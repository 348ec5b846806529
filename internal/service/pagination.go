package service

import (
	"context"
	"time"

	"onionchat/internal/errors"
	"onionchat/internal/metrics"
	"onionchat/internal/models"
	"onionchat/internal/tracing"
	"onionchat/pkg/daemon/types"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// Reload triggers.
const (
	triggerContact = "contact"
	triggerHistory = "history"
	triggerSend    = "send"
	triggerPush    = "push"
	triggerManual  = "manual"
)

type reloadRequest struct {
	contactID  string
	epoch      uint64
	generation uint64
	batch      int
	limit      int
	trigger    string
	started    time.Time
}

// RequestMoreHistory asks for one more batch of older messages. It reports
// false when a history request is already pending.
func (s *ChatSession) RequestMoreHistory(ctx context.Context) (bool, error) {
	var fired bool
	err := s.exec(ctx, "request_more_history", func() error {
		if s.contactID == "" {
			return errors.NewValidationError("contact", "", "no active contact")
		}
		fired = s.requestMoreHistory(ctx)
		s.publish()
		return nil
	})
	return fired, err
}

// Reload re-fetches the timeline at the current batch.
func (s *ChatSession) Reload(ctx context.Context) error {
	return s.exec(ctx, "reload", func() error {
		if s.contactID == "" {
			return errors.NewValidationError("contact", "", "no active contact")
		}
		s.issueReload(triggerManual)
		return nil
	})
}

// requestMoreHistory sets the batch from the visible message count,
// placeholders included, and reloads. Runs on the actor.
func (s *ChatSession) requestMoreHistory(ctx context.Context) bool {
	if s.historyPending {
		return false
	}

	count := s.store.Snapshot().Len()
	s.batchNumber = count/s.config.BatchSize + 1
	s.historyPending = true
	s.historyGen = s.issueReload(triggerHistory)

	metrics.HistoryBatch.Set(float64(s.batchNumber))
	sessionEntry(ctx, s.logger, s.contactID).WithFields(logrus.Fields{
		LogFieldBatch: s.batchNumber,
		LogFieldCount: count,
	}).Info("Requesting more history")
	return true
}

// issueReload starts a full reload of the active contact and returns its
// generation. Runs on the actor.
func (s *ChatSession) issueReload(trigger string) uint64 {
	s.issuedGen++
	req := reloadRequest{
		contactID:  s.contactID,
		epoch:      s.epoch,
		generation: s.issuedGen,
		batch:      s.batchNumber,
		limit:      s.batchNumber * s.config.BatchSize,
		trigger:    trigger,
		started:    s.now(),
	}

	s.goCall(func(ctx context.Context) {
		ctx, span := tracing.StartSpan(ctx, "session.reload",
			attribute.String("reload.trigger", req.trigger),
			attribute.Int("reload.limit", req.limit),
			attribute.Int64("reload.generation", int64(req.generation)),
		)
		defer span.End()

		resp, err := s.gateway.LoadChat(ctx, req.contactID, 0, req.limit)
		if err != nil {
			tracing.RecordError(ctx, err)
		}
		s.post(func() { s.applyReload(req, resp, err) })
	})
	return req.generation
}

// applyReload installs a completed reload. Runs on the actor.
func (s *ChatSession) applyReload(req reloadRequest, resp *types.LoadChatResponse, err error) {
	elapsed := s.now().Sub(req.started)
	log := s.logger.WithFields(logrus.Fields{
		LogFieldComponent:  "chat_session",
		LogFieldTrigger:    req.trigger,
		LogFieldGeneration: req.generation,
		LogFieldBatch:      req.batch,
	})

	if req.epoch != s.epoch {
		metrics.ObserveReload(req.trigger, "stale", elapsed)
		log.Debug("Skipping reload result: contact changed")
		return
	}

	if err != nil {
		metrics.ObserveReload(req.trigger, "error", elapsed)
		if req.generation >= s.appliedGen {
			s.lastError = errors.GetUserMessage(err)
			s.publish()
		}
		errors.LogRetryableError(s.logger, err, "Failed to reload timeline")
		return
	}

	if s.config.DropStaleReloads && req.generation < s.appliedGen {
		metrics.ObserveReload(req.trigger, "stale", elapsed)
		log.WithField("applied_generation", s.appliedGen).Debug("Skipping reload result: newer reload already applied")
		return
	}

	authoritative := chronological(resp.Messages)
	kept := s.reconcileOptimistic(authoritative)

	// A deeper batch than the one shown prepends older messages, whichever
	// reload happens to deliver it first.
	s.tracker.PrepareMutation(req.batch > s.loadedBatch)
	snap := s.store.Replace(append(authoritative, kept...))
	s.loadedBatch = req.batch

	if req.generation > s.appliedGen {
		s.appliedGen = req.generation
	}
	if s.historyPending && req.generation >= s.historyGen {
		s.historyPending = false
	}
	s.history = historyState(resp, req.limit)
	s.lastError = ""

	metrics.ObserveReload(req.trigger, "applied", elapsed)
	metrics.TimelineMessages.Set(float64(snap.Len()))
	log.WithFields(logrus.Fields{
		LogFieldCount:    len(authoritative),
		LogFieldDuration: elapsed.Milliseconds(),
	}).Debug("Reload completed")

	s.saveReadMarker(authoritative)
	s.publish()
}

// chronological reverses a newest-first page into timeline order.
func chronological(page []types.Message) []models.Message {
	out := make([]models.Message, len(page))
	for i, m := range page {
		out[len(page)-1-i] = models.Message{
			ID:             m.ID,
			Body:           m.Body,
			Timestamp:      m.Timestamp,
			IsIncoming:     m.IsIncoming,
			SentStatus:     m.SentStatus,
			VerifiedStatus: m.VerifiedStatus,
		}
	}
	return out
}

// historyState reads the daemon's has_more flag. Without it, a short page
// means the oldest message is loaded.
func historyState(resp *types.LoadChatResponse, limit int) models.HistoryState {
	switch {
	case resp.HasMore != nil && *resp.HasMore:
		return models.HistoryMore
	case resp.HasMore != nil:
		return models.HistoryExhausted
	case len(resp.Messages) < limit:
		return models.HistoryExhausted
	default:
		return models.HistoryUnknown
	}
}

func (s *ChatSession) saveReadMarker(msgs []models.Message) {
	if s.outbox == nil || len(msgs) == 0 {
		return
	}

	var newest int64
	for _, m := range msgs {
		if m.ID > newest {
			newest = m.ID
		}
	}
	if newest <= s.lastMarker {
		return
	}
	s.lastMarker = newest

	contactID := s.contactID
	s.goCall(func(ctx context.Context) {
		if err := s.outbox.SaveReadMarker(ctx, contactID, newest); err != nil {
			errors.Entry(s.logger, err).Warn("Failed to save read marker")
		}
	})
}

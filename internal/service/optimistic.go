package service

import (
	"context"
	"fmt"
	"path/filepath"

	"onionchat/internal/constants"
	"onionchat/internal/errors"
	"onionchat/internal/metrics"
	"onionchat/internal/models"
	"onionchat/internal/tracing"
	"onionchat/internal/validation"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// pendingSend is the bookkeeping for a placeholder whose send call has not
// returned yet.
type pendingSend struct {
	kind     models.SendKind
	text     string
	path     string
	baseline int64 // highest authoritative id when the send started
	attempts int
	retried  bool
}

// Send shows text at the end of the timeline at once and sends it. The
// timeline and contacts reload when the daemon answers, whatever the answer.
func (s *ChatSession) Send(ctx context.Context, text string) (models.Message, error) {
	if err := validation.ValidateMessageText(text); err != nil {
		return models.Message{}, err
	}
	return s.startSend(ctx, "send", &pendingSend{kind: models.SendKindText, text: text})
}

// SendAttachment sends the image at path. The placeholder names the file.
// Files the daemon would refuse are rejected before anything is shown.
func (s *ChatSession) SendAttachment(ctx context.Context, path string) (models.Message, error) {
	info, err := s.attachments.Validate(path)
	if err != nil {
		return models.Message{}, errors.NewValidationError("attachment", filepath.Base(path), err.Error())
	}
	return s.startSend(ctx, "send_attachment", &pendingSend{kind: models.SendKindAttachment, path: info.Path})
}

// Retry re-sends a failed message.
func (s *ChatSession) Retry(ctx context.Context, localRef string) error {
	var attempts int
	if s.outbox != nil {
		if f, err := s.outbox.GetFailedSend(ctx, localRef); err == nil && f != nil {
			attempts = f.Attempts
		}
	}

	return s.exec(ctx, "retry", func() error {
		msg, ok := s.findOptimistic(localRef)
		if !ok || msg.SendState != models.SendStateFailed {
			return errors.NewNotFoundError("failed message", localRef)
		}

		p := &pendingSend{
			kind:     models.SendKindText,
			baseline: s.maxAuthoritativeID(),
			path:     msg.AttachmentPath,
			retried:  true,
		}
		if msg.AttachmentPath != "" {
			p.kind = models.SendKindAttachment
		} else {
			p.text = msg.Content().Text
		}
		p.attempts = attempts

		s.store.UpdateOptimistic(localRef, func(m *models.Message) {
			m.SendState = models.SendStatePending
			m.SendError = ""
		})
		delete(s.failed, localRef)
		s.inflight[localRef] = p
		s.dispatchSend(ctx, localRef, p)
		s.publish()
		return nil
	})
}

// Discard drops a failed message from the timeline and the outbox.
func (s *ChatSession) Discard(ctx context.Context, localRef string) error {
	err := s.exec(ctx, "discard", func() error {
		msg, ok := s.findOptimistic(localRef)
		if !ok || msg.SendState != models.SendStateFailed {
			return errors.NewNotFoundError("failed message", localRef)
		}
		s.store.RemoveOptimistic(localRef)
		delete(s.failed, localRef)
		s.publish()
		return nil
	})
	if err != nil {
		return err
	}

	if s.outbox != nil {
		if err := s.outbox.DeleteFailedSend(ctx, localRef); err != nil {
			return errors.NewDatabaseError("delete failed send", err)
		}
	}
	return nil
}

func (s *ChatSession) startSend(ctx context.Context, op string, p *pendingSend) (models.Message, error) {
	var placed models.Message
	err := s.exec(ctx, op, func() error {
		if s.contactID == "" {
			return errors.NewValidationError("contact", "", "no active contact")
		}

		p.baseline = s.maxAuthoritativeID()
		ref := uuid.NewString()

		s.tracker.PrepareMutation(false)
		placed, _ = s.store.AppendOptimistic(models.Message{
			Body:           placeholderBody(p.kind, p.text, p.path),
			Timestamp:      s.now().Unix(),
			VerifiedStatus: true,
			LocalRef:       ref,
			AttachmentPath: p.path,
		})
		s.inflight[ref] = p

		LogSend(ctx, s.logger, s.contactID, ref, string(p.kind), p.text)
		s.dispatchSend(ctx, ref, p)
		s.publish()
		return nil
	})
	return placed, err
}

// dispatchSend issues the daemon call for a placeholder. Runs on the actor.
func (s *ChatSession) dispatchSend(ctx context.Context, ref string, p *pendingSend) {
	contactID, epoch := s.contactID, s.epoch
	p.attempts++
	verbose := IsVerboseLogging(ctx)

	s.goCall(func(ctx context.Context) {
		ctx = WithVerbose(ctx, verbose)
		ctx, span := tracing.StartSpan(ctx, "session.send",
			attribute.String("send.kind", string(p.kind)),
			attribute.String("send.local_ref", ref),
		)
		defer span.End()

		var err error
		switch p.kind {
		case models.SendKindAttachment:
			resp, callErr := s.gateway.SendAttachment(ctx, contactID, p.path)
			err = callErr
			if err == nil && !resp.Success {
				metrics.SendsTotal.WithLabelValues(string(p.kind), "refused").Inc()
				s.logger.WithFields(logrus.Fields{
					LogFieldComponent: "chat_session",
					LogFieldLocalRef:  ref,
					LogFieldFilePath:  SanitizeContent(ctx, filepath.Base(p.path)),
					"daemon_error":    resp.Error,
				}).Warn("Daemon refused attachment")
			}
		default:
			err = s.gateway.SendMessage(ctx, contactID, p.text)
		}

		if err != nil {
			tracing.RecordError(ctx, err)
			metrics.SendsTotal.WithLabelValues(string(p.kind), "failed").Inc()
			s.persistFailure(ctx, contactID, ref, p, err)
		} else {
			metrics.SendsTotal.WithLabelValues(string(p.kind), "sent").Inc()
			if s.outbox != nil && p.retried {
				if delErr := s.outbox.DeleteFailedSend(context.WithoutCancel(ctx), ref); delErr != nil {
					errors.Entry(s.logger, delErr).Warn("Failed to clear retried send from outbox")
				}
			}
		}

		s.post(func() { s.settleSend(epoch, ref, p, err) })
	})
}

// settleSend runs when a send call returns. Runs on the actor.
func (s *ChatSession) settleSend(epoch uint64, ref string, p *pendingSend, err error) {
	if epoch != s.epoch {
		return
	}
	delete(s.inflight, ref)

	if err != nil {
		_, ok := s.store.UpdateOptimistic(ref, func(m *models.Message) {
			m.SendState = models.SendStateFailed
			m.SendError = errors.GetUserMessage(err)
		})
		if ok {
			s.failed[ref] = p
		}
		errors.LogRetryableError(s.logger, err, "Failed to send message")
		s.publish()
	}

	s.issueReload(triggerSend)
	s.refreshContacts()
}

// persistFailure keeps a rejected send in the outbox so it survives
// restarts and contact switches.
func (s *ChatSession) persistFailure(ctx context.Context, contactID, ref string, p *pendingSend, sendErr error) {
	if s.outbox == nil {
		return
	}
	// The call context may have timed out; the outbox write must still happen.
	ctx = context.WithoutCancel(ctx)
	err := s.outbox.SaveFailedSend(ctx, &models.FailedSend{
		LocalRef:       ref,
		ContactID:      contactID,
		Kind:           p.kind,
		Text:           p.text,
		AttachmentPath: p.path,
		Error:          errors.GetUserMessage(sendErr),
		Timestamp:      s.now().Unix(),
		Attempts:       p.attempts,
		BaselineID:     p.baseline,
	})
	if err != nil {
		errors.Entry(s.logger, err).Error("Failed to save failed send")
	}
}

// reconcileOptimistic decides which placeholders survive a reload of
// authoritative. Placeholders whose send returned are dropped. In-flight and
// failed ones stay unless the daemon already lists the message; a failed
// send can still have been delivered after the call gave up. Runs on the
// actor.
func (s *ChatSession) reconcileOptimistic(authoritative []models.Message) []models.Message {
	consumed := make(map[int64]bool)
	optimistic := s.store.Optimistic()
	drop := make(map[string]bool)

	// In-flight sends claim their authoritative copies first.
	for _, m := range optimistic {
		if m.SendState == models.SendStateFailed {
			continue
		}
		p, ok := s.inflight[m.LocalRef]
		if !ok {
			drop[m.LocalRef] = true
			continue
		}
		if p.kind == models.SendKindText && matchAuthoritative(authoritative, p, consumed) {
			drop[m.LocalRef] = true
		}
	}

	for _, m := range optimistic {
		if m.SendState != models.SendStateFailed {
			continue
		}
		p, ok := s.failed[m.LocalRef]
		if ok && p.kind == models.SendKindText && matchAuthoritative(authoritative, p, consumed) {
			drop[m.LocalRef] = true
			s.forgetFailed(m.LocalRef)
		}
	}

	var kept []models.Message
	for _, m := range optimistic {
		if !drop[m.LocalRef] {
			kept = append(kept, m)
		}
	}
	return kept
}

// forgetFailed drops a failed send that turned out to be delivered. Runs on
// the actor.
func (s *ChatSession) forgetFailed(ref string) {
	delete(s.failed, ref)
	sessionEntry(s.baseCtx, s.logger, s.contactID).WithField(LogFieldLocalRef, ref).
		Info("Failed send found in timeline, dropping placeholder")
	if s.outbox == nil {
		return
	}
	s.goCall(func(ctx context.Context) {
		if err := s.outbox.DeleteFailedSend(ctx, ref); err != nil {
			errors.Entry(s.logger, err).Warn("Failed to clear delivered send from outbox")
		}
	})
}

// matchAuthoritative finds an outgoing message newer than the send's
// baseline carrying the same text.
func matchAuthoritative(authoritative []models.Message, p *pendingSend, consumed map[int64]bool) bool {
	for _, a := range authoritative {
		if a.IsIncoming || a.ID <= p.baseline || consumed[a.ID] {
			continue
		}
		if c := a.Content(); c.Type == models.BodyText && c.Text == p.text {
			consumed[a.ID] = true
			return true
		}
	}
	return false
}

func (s *ChatSession) findOptimistic(localRef string) (models.Message, bool) {
	for _, m := range s.store.Optimistic() {
		if m.LocalRef == localRef {
			return m, true
		}
	}
	return models.Message{}, false
}

func (s *ChatSession) maxAuthoritativeID() int64 {
	var max int64
	for _, m := range s.store.Snapshot().Messages {
		if !m.Optimistic && m.ID > max {
			max = m.ID
		}
	}
	return max
}

// placeholderBody is the body shown for a local send.
func placeholderBody(kind models.SendKind, text, path string) string {
	if kind == models.SendKindAttachment {
		return models.NewTextBody(fmt.Sprintf(constants.DefaultAttachmentLabelTmpl, filepath.Base(path)))
	}
	return models.NewTextBody(text)
}

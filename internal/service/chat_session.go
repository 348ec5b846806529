package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"onionchat/internal/constants"
	"onionchat/internal/errors"
	"onionchat/internal/models"
	"onionchat/internal/timeline"
	"onionchat/internal/validation"
	"onionchat/internal/viewport"
	"onionchat/pkg/attachment"
	"onionchat/pkg/daemon"

	"github.com/sirupsen/logrus"
)

// OutboxStore persists rejected sends and read markers.
type OutboxStore interface {
	SaveFailedSend(ctx context.Context, send *models.FailedSend) error
	GetFailedSend(ctx context.Context, localRef string) (*models.FailedSend, error)
	ListFailedSends(ctx context.Context, contactID string) ([]models.FailedSend, error)
	DeleteFailedSend(ctx context.Context, localRef string) error
	SaveReadMarker(ctx context.Context, contactID string, lastSeenID int64) error
}

// ChatSessionDeps are the collaborators of a ChatSession. Contacts, Outbox
// and Attachments are optional.
type ChatSessionDeps struct {
	Gateway     daemon.Client
	Events      daemon.EventSource
	Contacts    ContactDirectory
	Outbox      OutboxStore
	Attachments *attachment.Validator
	Logger      *logrus.Logger
}

// ChatSession keeps the timeline of the active contact consistent with the
// daemon. Every state change runs on one actor goroutine; daemon calls run
// beside it and post their results back.
type ChatSession struct {
	gateway     daemon.Client
	contacts    ContactDirectory
	outbox      OutboxStore
	attachments *attachment.Validator
	listener    *LiveUpdateListener
	store       *timeline.Store
	tracker     *viewport.Tracker
	config      models.SessionConfig
	callTimeout time.Duration
	logger      *logrus.Logger
	now         func() time.Time

	actions chan func()
	quit    chan struct{}
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	calls   sync.WaitGroup

	lifecycle sync.Mutex
	running   atomic.Bool
	stopped   bool

	current atomic.Pointer[models.View]

	// Owned by the actor.
	contactID      string
	epoch          uint64
	batchNumber    int
	loadedBatch    int
	historyPending bool
	historyGen     uint64
	history        models.HistoryState
	issuedGen      uint64
	appliedGen     uint64
	inflight       map[string]*pendingSend
	failed         map[string]*pendingSend
	lastMarker     int64
	lastError      string
	watchers       map[int]chan models.View
	nextWatcher    int
}

func NewChatSession(deps ChatSessionDeps, config models.SessionConfig, callTimeout time.Duration) *ChatSession {
	if deps.Logger == nil {
		deps.Logger = logrus.New()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = constants.DefaultBatchSize
	}
	if callTimeout <= 0 {
		callTimeout = constants.DefaultDaemonTimeoutMs * time.Millisecond
	}

	s := &ChatSession{
		gateway:     deps.Gateway,
		contacts:    deps.Contacts,
		outbox:      deps.Outbox,
		attachments: deps.Attachments,
		store:       timeline.NewStore(),
		config:      config,
		callTimeout: callTimeout,
		logger:      deps.Logger,
		now:         time.Now,
		actions:     make(chan func(), constants.DefaultActorQueueSize),
		quit:        make(chan struct{}),
		batchNumber: 1,
		loadedBatch: 1,
		history:     models.HistoryUnknown,
		inflight:    make(map[string]*pendingSend),
		failed:      make(map[string]*pendingSend),
		watchers:    make(map[int]chan models.View),
	}
	if s.attachments == nil {
		s.attachments = attachment.NewValidator(attachment.DefaultConfig())
	}

	s.tracker = viewport.NewTracker(viewport.Config{
		TopThreshold:    float64(config.TopThresholdPx),
		BottomTolerance: float64(config.BottomTolerancePx),
		LabelHideDelay:  time.Duration(config.LabelHideMs) * time.Millisecond,
		LabelProbe:      float64(config.LabelProbePx),
		OnLabelChange:   func(viewport.Label) { s.post(s.publish) },
	})

	if deps.Events != nil {
		s.listener = NewLiveUpdateListener(deps.Events, s.onIncoming, deps.Logger)
	}

	s.current.Store(&models.View{BatchNumber: 1, History: models.HistoryUnknown, Messages: []models.Message{}})
	return s
}

// Start launches the actor and subscribes to push events. A session can be
// started once.
func (s *ChatSession) Start(ctx context.Context) (err error) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.running.Load() || s.stopped {
		return fmt.Errorf("chat session already started")
	}

	s.baseCtx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.wg.Add(1)
	go s.run()

	defer func() {
		if err != nil {
			s.shutdown()
		}
	}()

	if s.listener != nil {
		if err := s.listener.Start(s.baseCtx); err != nil {
			return fmt.Errorf("failed to start live update listener: %w", err)
		}
	}

	s.running.Store(true)
	s.logger.WithField(LogFieldComponent, "chat_session").Info("Chat session started")
	return nil
}

// Stop unsubscribes from push events, cancels timers and stops the actor.
// Daemon calls still in flight finish, but their results are discarded.
func (s *ChatSession) Stop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if !s.running.Load() {
		return
	}
	s.running.Store(false)
	s.shutdown()
	s.logger.WithField(LogFieldComponent, "chat_session").Info("Chat session stopped")
}

func (s *ChatSession) shutdown() {
	s.stopped = true
	if s.listener != nil {
		s.listener.Stop()
	}
	s.tracker.Stop()
	close(s.quit)
	s.wg.Wait()

	for id, ch := range s.watchers {
		close(ch)
		delete(s.watchers, id)
	}
	s.cancel()
}

// Wait blocks until daemon calls started by the session have returned.
func (s *ChatSession) Wait() {
	s.calls.Wait()
}

// IsRunning reports whether the session accepts operations.
func (s *ChatSession) IsRunning() bool {
	return s.running.Load()
}

func (s *ChatSession) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.quit:
			return
		case fn := <-s.actions:
			fn()
		}
	}
}

// post queues fn on the actor. It reports false once the session stopped.
func (s *ChatSession) post(fn func()) bool {
	select {
	case <-s.quit:
		return false
	default:
	}
	select {
	case s.actions <- fn:
		return true
	case <-s.quit:
		return false
	}
}

// exec runs fn on the actor and waits for its result.
func (s *ChatSession) exec(ctx context.Context, op string, fn func() error) error {
	if !s.running.Load() {
		return errors.NewSessionClosedError(op)
	}

	done := make(chan error, 1)
	if !s.postCtx(ctx, func() { done <- fn() }) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.NewSessionClosedError(op)
	}

	select {
	case err := <-done:
		return err
	case <-s.quit:
		return errors.NewSessionClosedError(op)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ChatSession) postCtx(ctx context.Context, fn func()) bool {
	select {
	case s.actions <- fn:
		return true
	case <-s.quit:
		return false
	case <-ctx.Done():
		return false
	}
}

// goCall runs a daemon call off the actor with its own timeout. Calls are
// detached from the session context so teardown does not cancel them.
func (s *ChatSession) goCall(fn func(ctx context.Context)) {
	s.calls.Add(1)
	go func() {
		defer s.calls.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(s.baseCtx), s.callTimeout)
		defer cancel()
		fn(ctx)
	}()
}

// SetActiveContact switches the session to contactID: the timeline is
// cleared, paging restarts at batch 1, stored failed sends come back and a
// reload is issued. Switching to the current contact is a no-op.
func (s *ChatSession) SetActiveContact(ctx context.Context, contactID string) error {
	if err := validation.ValidateOnionID(contactID); err != nil {
		return err
	}

	var failed []models.FailedSend
	if s.outbox != nil {
		var err error
		failed, err = s.outbox.ListFailedSends(ctx, contactID)
		if err != nil {
			errors.Entry(s.logger, err).Warn("Failed to load outbox for contact")
		}
	}

	return s.exec(ctx, "set_active_contact", func() error {
		if s.contactID == contactID {
			return nil
		}

		s.contactID = contactID
		s.epoch++
		s.batchNumber = 1
		s.loadedBatch = 1
		s.historyPending = false
		s.history = models.HistoryUnknown
		s.inflight = make(map[string]*pendingSend)
		s.failed = make(map[string]*pendingSend)
		s.lastMarker = 0
		s.lastError = ""
		s.store.Clear()
		s.tracker.Reset()

		for _, f := range failed {
			s.store.AppendOptimistic(f.Placeholder(placeholderBody(f.Kind, f.Text, f.AttachmentPath)))
			s.failed[f.LocalRef] = &pendingSend{
				kind:     f.Kind,
				text:     f.Text,
				path:     f.AttachmentPath,
				baseline: f.BaselineID,
				attempts: f.Attempts,
			}
		}

		sessionEntry(ctx, s.logger, contactID).WithField(LogFieldEpoch, s.epoch).Info("Active contact changed")
		s.issueReload(triggerContact)
		s.publish()
		return nil
	})
}

// ActiveContact returns the contact currently shown.
func (s *ChatSession) ActiveContact() string {
	return s.View().ContactID
}

// View returns the latest published snapshot.
func (s *ChatSession) View() models.View {
	return *s.current.Load()
}

// Watch streams views, starting with the current one. Slow watchers only
// see the newest view. The channel closes when cancel is called or the
// session stops.
func (s *ChatSession) Watch(ctx context.Context) (<-chan models.View, func(), error) {
	ch := make(chan models.View, constants.DefaultWatchBufferSize)
	var id int

	err := s.exec(ctx, "watch", func() error {
		id = s.nextWatcher
		s.nextWatcher++
		s.watchers[id] = ch
		ch <- s.View()
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.post(func() {
				if w, ok := s.watchers[id]; ok {
					close(w)
					delete(s.watchers, id)
				}
			})
		})
	}
	return ch, cancel, nil
}

// OnScroll feeds renderer scroll geometry and date markers to the viewport
// tracker. Reaching the top requests older history.
func (s *ChatSession) OnScroll(ctx context.Context, m viewport.Metrics, markers []viewport.Marker) (viewport.ScrollResult, error) {
	var res viewport.ScrollResult
	err := s.exec(ctx, "scroll", func() error {
		res = s.tracker.OnScroll(m, markers)
		if res.NearTop && s.contactID != "" {
			s.requestMoreHistory(ctx)
		}
		s.publish()
		return nil
	})
	return res, err
}

// CommitLayout reports the content height after the renderer laid out the
// latest view. It returns the scroll offset to apply, if any.
func (s *ChatSession) CommitLayout(ctx context.Context, scrollHeight float64) (float64, bool, error) {
	var (
		top     float64
		changed bool
	)
	err := s.exec(ctx, "commit_layout", func() error {
		top, changed = s.tracker.CommitLayout(scrollHeight)
		return nil
	})
	return top, changed, err
}

// publish builds a view from actor state and fans it out to watchers.
func (s *ChatSession) publish() {
	snap := s.store.Snapshot()
	label := s.tracker.Label()

	view := &models.View{
		ContactID:       s.contactID,
		Messages:        snap.Messages,
		BatchNumber:     s.batchNumber,
		HistoryPending:  s.historyPending,
		History:         s.history,
		Generation:      s.appliedGen,
		LastError:       s.lastError,
		DayLabel:        label.Text,
		DayLabelVisible: label.Visible,
	}
	if view.Messages == nil {
		view.Messages = []models.Message{}
	}
	s.current.Store(view)

	for _, ch := range s.watchers {
		select {
		case ch <- *view:
		default:
			// Drop the oldest queued view for this watcher.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- *view:
			default:
			}
		}
	}
}

// onIncoming runs for every well-formed incoming-message push event.
func (s *ChatSession) onIncoming(onionID string) {
	s.post(func() {
		s.refreshContacts()

		if s.contactID == "" {
			return
		}
		if s.config.FilterPushByContact && onionID != s.contactID {
			s.logger.WithField(LogFieldComponent, "chat_session").Debug("Skipping reload: push event for another contact")
			return
		}
		s.issueReload(triggerPush)
	})
}

func (s *ChatSession) refreshContacts() {
	if s.contacts == nil {
		return
	}
	s.goCall(func(ctx context.Context) {
		if err := s.contacts.Refresh(ctx); err != nil {
			errors.LogRetryableError(s.logger, err, "Failed to refresh contacts")
		}
	})
}

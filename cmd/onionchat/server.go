package main

import (
	"context"
	"io"
	"net/http"
	"time"

	"onionchat/internal/constants"
	"onionchat/internal/errors"
	"onionchat/internal/middleware"
	"onionchat/internal/models"
	"onionchat/internal/service"
	"onionchat/internal/tracing"
	"onionchat/internal/viewport"

	"github.com/bytedance/sonic"
	"github.com/coder/websocket"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const (
	maxRequestBodyBytes = 64 * 1024
	viewWriteTimeout    = 5 * time.Second
)

// chatSession is the part of service.ChatSession the view API drives.
type chatSession interface {
	IsRunning() bool
	View() models.View
	Watch(ctx context.Context) (<-chan models.View, func(), error)
	SetActiveContact(ctx context.Context, contactID string) error
	Send(ctx context.Context, text string) (models.Message, error)
	SendAttachment(ctx context.Context, path string) (models.Message, error)
	RequestMoreHistory(ctx context.Context) (bool, error)
	Reload(ctx context.Context) error
	OnScroll(ctx context.Context, m viewport.Metrics, markers []viewport.Marker) (viewport.ScrollResult, error)
	CommitLayout(ctx context.Context, scrollHeight float64) (float64, bool, error)
	Retry(ctx context.Context, localRef string) error
	Discard(ctx context.Context, localRef string) error
}

type contactLister interface {
	Contacts() []models.Contact
	RefreshedAt() time.Time
}

type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

type Server struct {
	router   *mux.Router
	logger   *logrus.Logger
	session  chatSession
	contacts contactLister
	db       healthChecker
	addr     string
	server   *http.Server
}

func NewServer(addr string, session chatSession, contacts contactLister, db healthChecker, logger *logrus.Logger) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		logger:   logger,
		session:  session,
		contacts: contacts,
		db:       db,
		addr:     addr,
	}

	s.setupRoutes()
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  constants.DefaultServerReadTimeoutSec * time.Second,
		WriteTimeout: constants.DefaultServerWriteTimeoutSec * time.Second,
		IdleTimeout:  constants.DefaultServerIdleTimeoutSec * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.ObservabilityMiddleware(s.logger))
	s.router.Use(middleware.LocalOnlyMiddleware(s.logger))

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.router.HandleFunc("/view", s.handleView()).Methods(http.MethodGet)
	s.router.HandleFunc("/ws", s.handleViewStream()).Methods(http.MethodGet)
	s.router.HandleFunc("/contact", s.handleSetContact()).Methods(http.MethodPut)
	s.router.HandleFunc("/contacts", s.handleContacts()).Methods(http.MethodGet)

	s.router.HandleFunc("/messages", s.handleSend()).Methods(http.MethodPost)
	s.router.HandleFunc("/attachments", s.handleSendAttachment()).Methods(http.MethodPost)
	s.router.HandleFunc("/history", s.handleHistory()).Methods(http.MethodPost)
	s.router.HandleFunc("/reload", s.handleReload()).Methods(http.MethodPost)

	viewportRouter := s.router.PathPrefix("/viewport").Subrouter()
	viewportRouter.HandleFunc("/scroll", s.handleScroll()).Methods(http.MethodPost)
	viewportRouter.HandleFunc("/layout", s.handleLayout()).Methods(http.MethodPost)

	outbox := s.router.PathPrefix("/outbox").Subrouter()
	outbox.HandleFunc("/{ref}/retry", s.handleRetry()).Methods(http.MethodPost)
	outbox.HandleFunc("/{ref}", s.handleDiscard()).Methods(http.MethodDelete)
}

// Start serves until Shutdown; after Shutdown it returns http.ErrServerClosed.
func (s *Server) Start() error {
	s.logger.Infof("Starting view API on %s", s.addr)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type healthResponse struct {
	Status             string `json:"status"`
	Session            string `json:"session"`
	Database           string `json:"database"`
	ContactsRefreshed  string `json:"contacts_refreshed_at,omitempty"`
	ActiveContact      string `json:"active_contact,omitempty"`
	TimelineGeneration uint64 `json:"timeline_generation"`
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "healthy", Session: "running", Database: "ok"}
		status := http.StatusOK

		if !s.session.IsRunning() {
			resp.Session = "stopped"
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		}
		if err := s.db.HealthCheck(r.Context()); err != nil {
			s.logger.WithError(err).Warn("Database health check failed")
			resp.Database = "unavailable"
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		}
		if at := s.contacts.RefreshedAt(); !at.IsZero() {
			resp.ContactsRefreshed = at.UTC().Format(time.RFC3339)
		}
		view := s.session.View()
		resp.ActiveContact = service.SanitizeContact(r.Context(), view.ContactID)
		resp.TimelineGeneration = view.Generation

		s.writeJSON(w, status, resp)
	}
}

func (s *Server) handleView() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, s.session.View())
	}
}

// handleViewStream pushes every published view over a websocket until the
// client goes away or the session stops.
func (s *Server) handleViewStream() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		views, cancel, err := s.session.Watch(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		defer cancel()

		// The server write timeout must not end a long-lived stream.
		_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: []string{"localhost:*", "127.0.0.1:*", "[::1]:*"},
		})
		if err != nil {
			s.logger.WithError(err).Warn("Failed to accept view stream")
			return
		}
		defer conn.CloseNow()

		// Client frames are ignored; reading only notices the close.
		ctx := conn.CloseRead(r.Context())

		for {
			select {
			case <-ctx.Done():
				return
			case view, ok := <-views:
				if !ok {
					conn.Close(websocket.StatusGoingAway, "chat session stopped")
					return
				}
				data, err := sonic.Marshal(view)
				if err != nil {
					s.logger.WithError(err).Error("Failed to encode view")
					conn.Close(websocket.StatusInternalError, "encode failure")
					return
				}
				writeCtx, cancelWrite := context.WithTimeout(ctx, viewWriteTimeout)
				err = conn.Write(writeCtx, websocket.MessageText, data)
				cancelWrite()
				if err != nil {
					s.logger.WithError(err).Debug("View stream closed")
					return
				}
			}
		}
	}
}

type setContactRequest struct {
	ContactID string `json:"contact_id"`
}

func (s *Server) handleSetContact() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req setContactRequest
		if err := decodeBody(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := s.session.SetActiveContact(r.Context(), req.ContactID); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, s.session.View())
	}
}

type contactResponse struct {
	OnionID        string `json:"onion_id"`
	Nickname       string `json:"nickname,omitempty"`
	DisplayName    string `json:"display_name"`
	UnreadMessages int    `json:"unread_messages"`
}

func (s *Server) handleContacts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		contacts := s.contacts.Contacts()
		out := make([]contactResponse, 0, len(contacts))
		for _, c := range contacts {
			out = append(out, contactResponse{
				OnionID:        c.OnionID,
				Nickname:       c.Nickname,
				DisplayName:    c.DisplayName(),
				UnreadMessages: c.UnreadMessages,
			})
		}
		s.writeJSON(w, http.StatusOK, out)
	}
}

type sendRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleSend() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sendRequest
		if err := decodeBody(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		msg, err := s.session.Send(r.Context(), req.Text)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusAccepted, msg)
	}
}

type attachmentRequest struct {
	Path string `json:"path"`
}

func (s *Server) handleSendAttachment() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req attachmentRequest
		if err := decodeBody(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		msg, err := s.session.SendAttachment(r.Context(), req.Path)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusAccepted, msg)
	}
}

type historyResponse struct {
	Requested bool `json:"requested"`
}

func (s *Server) handleHistory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requested, err := s.session.RequestMoreHistory(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusAccepted, historyResponse{Requested: requested})
	}
}

func (s *Server) handleReload() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.session.Reload(r.Context()); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

type scrollRequest struct {
	viewport.Metrics
	Markers []viewport.Marker `json:"markers"`
}

type scrollResponse struct {
	NearTop         bool   `json:"near_top"`
	AtBottom        bool   `json:"at_bottom"`
	DayLabel        string `json:"day_label"`
	DayLabelVisible bool   `json:"day_label_visible"`
}

func (s *Server) handleScroll() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req scrollRequest
		if err := decodeBody(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		res, err := s.session.OnScroll(r.Context(), req.Metrics, req.Markers)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, scrollResponse{
			NearTop:         res.NearTop,
			AtBottom:        res.AtBottom,
			DayLabel:        res.Label.Text,
			DayLabelVisible: res.Label.Visible,
		})
	}
}

type layoutRequest struct {
	ScrollHeight float64 `json:"scroll_height"`
}

type layoutResponse struct {
	ScrollTop float64 `json:"scroll_top"`
	Changed   bool    `json:"changed"`
}

func (s *Server) handleLayout() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req layoutRequest
		if err := decodeBody(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		top, changed, err := s.session.CommitLayout(r.Context(), req.ScrollHeight)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, layoutResponse{ScrollTop: top, Changed: changed})
	}
}

func (s *Server) handleRetry() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.session.Retry(r.Context(), mux.Vars(r)["ref"]); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func (s *Server) handleDiscard() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.session.Discard(r.Context(), mux.Vars(r)["ref"]); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidInput, "failed to read request body").
			WithUserMessage("Request body could not be read")
	}
	if err := sonic.Unmarshal(body, v); err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidInput, "malformed JSON body").
			WithUserMessage("Request body is not valid JSON")
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := sonic.Marshal(v)
	if err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := tracing.GetRequestID(r.Context())
	status := errors.HTTPStatusCode(err)

	entry := errors.Entry(s.logger, err).WithField(service.LogFieldRequestID, requestID)
	if status >= http.StatusInternalServerError {
		entry.Error("View API request failed")
	} else {
		entry.Debug("View API request rejected")
	}

	s.writeJSON(w, status, errors.ToHTTPResponse(err, requestID))
}

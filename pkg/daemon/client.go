package daemon

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"onionchat/internal/errors"
	"onionchat/internal/metrics"
	"onionchat/internal/tracing"
	"onionchat/pkg/circuitbreaker"
	"onionchat/pkg/constants"
	"onionchat/pkg/daemon/types"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

const maxErrorBodyBytes = 64 * 1024

// Client is the request side of the Remote Session Gateway.
type Client interface {
	LoadChat(ctx context.Context, onionID string, offset, limit int) (*types.LoadChatResponse, error)
	SendMessage(ctx context.Context, to, text string) error
	SendAttachment(ctx context.Context, to, path string) (*types.SendAttachmentResponse, error)
	LoadContacts(ctx context.Context) ([]types.Contact, error)
}

// ClientConfig configures a DaemonClient.
type ClientConfig struct {
	// RPCURL is http(s)://host[:port] or unix:///path/to/socket.
	RPCURL     string
	AuthToken  string
	Timeout    time.Duration
	HTTPClient *http.Client
	Breaker    *circuitbreaker.CircuitBreaker
	Logger     *logrus.Logger
	// MaxResponseBytes caps a reply body. Larger replies fail instead of
	// being decoded.
	MaxResponseBytes int64
}

type DaemonClient struct {
	endpoint  string
	authToken string
	client    *http.Client
	breaker   *circuitbreaker.CircuitBreaker
	logger    *logrus.Logger
	maxBody   int64
}

func NewClient(cfg ClientConfig) (*DaemonClient, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
		cfg.Logger.SetLevel(logrus.WarnLevel)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = constants.DefaultDaemonHTTPTimeoutSec * time.Second
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = constants.DefaultRPCResponseLimitBytes
	}

	base, transport, err := resolveEndpoint(cfg.RPCURL)
	if err != nil {
		return nil, err
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
		if transport != nil {
			httpClient.Transport = transport
		}
	}

	return &DaemonClient{
		endpoint:  base + "/rpc",
		authToken: cfg.AuthToken,
		client:    httpClient,
		breaker:   cfg.Breaker,
		logger:    cfg.Logger,
		maxBody:   cfg.MaxResponseBytes,
	}, nil
}

// resolveEndpoint turns the configured URL into an HTTP base URL, plus a
// transport dialing the unix socket for unix:// URLs.
func resolveEndpoint(raw string) (string, http.RoundTripper, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", nil, fmt.Errorf("invalid daemon URL: %w", err)
	}

	switch u.Scheme {
	case "http", "https":
		return strings.TrimSuffix(u.String(), "/"), nil, nil
	case "unix":
		socket := u.Path
		if socket == "" {
			return "", nil, fmt.Errorf("unix daemon URL has no socket path")
		}
		transport := &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socket)
			},
		}
		return "http://daemon", transport, nil
	default:
		return "", nil, fmt.Errorf("unsupported daemon URL scheme %q", u.Scheme)
	}
}

func (c *DaemonClient) LoadChat(ctx context.Context, onionID string, offset, limit int) (*types.LoadChatResponse, error) {
	req := types.LoadChatRequest{
		Cmd:     types.CmdLoadChat,
		OnionID: onionID,
		Offset:  offset,
		Limit:   limit,
	}

	var resp types.LoadChatResponse
	if err := c.call(ctx, types.CmdLoadChat, &req.ID, &req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *DaemonClient) SendMessage(ctx context.Context, to, text string) error {
	req := types.SendMessageRequest{
		Cmd:  types.CmdSendMessage,
		To:   to,
		Text: text,
	}
	return c.call(ctx, types.CmdSendMessage, &req.ID, &req, nil)
}

func (c *DaemonClient) SendAttachment(ctx context.Context, to, path string) (*types.SendAttachmentResponse, error) {
	req := types.SendAttachmentRequest{
		Cmd:  types.CmdSendAttachment,
		To:   to,
		Path: path,
	}

	var resp types.SendAttachmentResponse
	if err := c.call(ctx, types.CmdSendAttachment, &req.ID, &req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *DaemonClient) LoadContacts(ctx context.Context) ([]types.Contact, error) {
	req := types.LoadContactsRequest{Cmd: types.CmdLoadContacts}

	var resp types.LoadContactsResponse
	if err := c.call(ctx, types.CmdLoadContacts, &req.ID, &req, &resp); err != nil {
		return nil, err
	}
	return resp.Contacts, nil
}

// call stamps a request id into *id, posts req and decodes the reply into
// out (which may be nil), going through the circuit breaker when set.
func (c *DaemonClient) call(ctx context.Context, cmd string, id *string, req, out interface{}) error {
	*id = uuid.NewString()

	ctx, span := tracing.StartSpan(ctx, "daemon."+cmd,
		attribute.String("rpc.method", cmd),
		attribute.String("rpc.request_id", *id),
	)
	defer span.End()

	start := time.Now()
	do := func(ctx context.Context) error { return c.do(ctx, cmd, *id, req, out) }

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(ctx, do)
	} else {
		err = do(ctx)
	}

	if isTimeout(err) {
		timeoutErr := errors.NewTimeoutError("daemon "+cmd, time.Since(start).Round(time.Millisecond).String())
		timeoutErr.Cause = err
		timeoutErr.Retryable = true
		err = timeoutErr
	}

	outcome := "ok"
	switch {
	case err == nil:
	case circuitbreaker.IsCircuitBreakerError(err):
		outcome = "breaker_open"
		err = errors.WrapRetryable(err, errors.ErrCodeDaemonUnavailable, "daemon calls suspended").
			WithContext("cmd", cmd).
			WithUserMessage("Chat daemon is not reachable")
	case errors.HasCode(err, errors.ErrCodeDaemonRPC) && !errors.IsRetryable(err):
		outcome = "rejected"
	case errors.HasCode(err, errors.ErrCodeTimeout):
		outcome = "timeout"
	default:
		outcome = "error"
	}
	metrics.ObserveRPC(cmd, outcome, time.Since(start))

	if err != nil {
		tracing.RecordError(ctx, err)
	}
	return err
}

func (c *DaemonClient) do(ctx context.Context, cmd, requestID string, req, out interface{}) error {
	payload, err := sonic.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", cmd, err)
	}

	c.logger.WithFields(logrus.Fields{
		"cmd":        cmd,
		"request_id": requestID,
	}).Debug("Sending daemon RPC")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-ID", requestID)
	if c.authToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("daemon %s aborted: %w", cmd, ctxErr)
		}
		return errors.NewDaemonError(cmd, 0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return errors.NewDaemonError(cmd, 0, fmt.Errorf("failed to read response: %w", err))
	}
	tooLarge := int64(len(body)) > c.maxBody
	if tooLarge {
		body = body[:c.maxBody]
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.NewDaemonError(cmd, resp.StatusCode, fmt.Errorf("status %d: %s", resp.StatusCode, errorMessage(body)))
	}

	if tooLarge {
		return errors.New(errors.ErrCodeDaemonRPC, fmt.Sprintf("daemon %s response exceeds %d bytes", cmd, c.maxBody)).
			WithContext("cmd", cmd).
			WithContext("limit_bytes", c.maxBody).
			WithUserMessage("Chat daemon reply is too large")
	}

	var envelope types.ErrorResponse
	if err := sonic.Unmarshal(body, &envelope); err == nil && envelope.Error != nil {
		return errors.NewDaemonError(cmd, resp.StatusCode, fmt.Errorf("%s: %s", envelope.Error.Code, envelope.Error.Message))
	}

	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(body, out); err != nil {
		return errors.NewDecodeError(cmd+" response", err)
	}
	return nil
}

// errorMessage extracts a readable message from an error body.
func errorMessage(body []byte) string {
	var envelope types.ErrorResponse
	if err := sonic.Unmarshal(body, &envelope); err == nil && envelope.Error != nil {
		return envelope.Error.Message
	}
	if len(body) > maxErrorBodyBytes {
		body = body[:maxErrorBodyBytes]
	}
	return strings.TrimSpace(string(body))
}

// IsBreakerFailure tells the circuit breaker which errors mean the daemon is
// unhealthy. Rejections and caller cancellations do not count; timeouts do.
func IsBreakerFailure(err error) bool {
	if stderrors.Is(err, context.Canceled) {
		return false
	}
	if isTimeout(err) {
		return true
	}
	return errors.IsRetryable(err)
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return stderrors.As(err, &netErr) && netErr.Timeout()
}

package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"sync"

	"github.com/asteroid-belt/fieldsync/internal/hash"
	"github.com/asteroid-belt/fieldsync/internal/models"
	"github.com/asteroid-belt/fieldsync/pkg/version"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// MinClientHeader carries the oldest client version the service accepts.
const MinClientHeader = "X-Min-Client-Version"

// DefaultRateLimit is the request rate used when none is configured.
const DefaultRateLimit = 10

// maxErrorBody bounds how much of a failed response is kept in the error.
const maxErrorBody = 1024

// StatusError is returned for non-2xx responses. It wraps ErrTransient or
// ErrPermanent depending on the status.
type StatusError struct {
	Code int
	Body string
	kind error
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("remote returned %d", e.Code)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func (e *StatusError) Unwrap() error { return e.kind }

// classifyStatus decides whether a status is worth retrying. Auth failures
// are retried because credentials may be refreshed between attempts.
func classifyStatus(code int) error {
	switch {
	case code == http.StatusRequestTimeout,
		code == http.StatusTooEarly,
		code == http.StatusTooManyRequests,
		code == http.StatusUnauthorized,
		code == http.StatusForbidden,
		code >= 500:
		return ErrTransient
	default:
		return ErrPermanent
	}
}

// HTTPClient applies mutations over HTTP with bearer auth and rate limiting.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter

	mu        sync.Mutex
	minClient string
	deviceID  string
}

// NewHTTPClient creates a client for the sync API at baseURL. An empty token
// sends unauthenticated requests; rateLimit is requests per second.
func NewHTTPClient(baseURL, token string, rateLimit float64) *HTTPClient {
	httpClient := &http.Client{}
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		httpClient = oauth2.NewClient(context.Background(), ts)
	}

	if rateLimit <= 0 {
		rateLimit = DefaultRateLimit
	}
	burst := int(rateLimit)
	if burst < 1 {
		burst = 1
	}

	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(rateLimit), burst),
	}
}

type syncRequest struct {
	QueueID uint64          `json:"queue_id"`
	Action  models.Action   `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

// Apply sends m to the remote.
func (c *HTTPClient) Apply(ctx context.Context, m Mutation) error {
	if c.baseURL == "" {
		return fmt.Errorf("%w: no remote URL configured", ErrTransient)
	}
	if min := c.MinClientVersion(); min != "" && !version.Satisfies(">= "+min) {
		return fmt.Errorf("%w: service requires client %s or newer", ErrTransient, min)
	}

	req, err := c.newRequest(ctx, m)
	if err != nil {
		return err
	}

	// Wait for rate limiter
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limit wait: %w", ErrTransient, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrTransient, req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if min := resp.Header.Get(MinClientHeader); min != "" {
		c.mu.Lock()
		c.minClient = min
		c.mu.Unlock()
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{
		Code: resp.StatusCode,
		Body: strings.TrimSpace(string(body)),
		kind: classifyStatus(resp.StatusCode),
	}
}

// MinClientVersion returns the last minimum version the service advertised.
func (c *HTTPClient) MinClientVersion() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.minClient
}

func (c *HTTPClient) newRequest(ctx context.Context, m Mutation) (*http.Request, error) {
	if m.Action == models.ActionUpload {
		return c.newUploadRequest(ctx, m)
	}

	payload := m.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	body, err := json.Marshal(syncRequest{QueueID: m.QueueID, Action: m.Action, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("%w: encode mutation %d: %w", ErrPermanent, m.QueueID, err)
	}

	endpoint := fmt.Sprintf("%s/sync/%s/%s", c.baseURL, url.PathEscape(m.TargetType), url.PathEscape(m.TargetID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", ErrPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", c.idempotencyKey(m.QueueID))
	req.Header.Set("User-Agent", version.UserAgent())
	return req, nil
}

// newUploadRequest sends a photo as multipart/form-data: a JSON "manifest"
// part with the queued metadata followed by the raw "photo" part.
func (c *HTTPClient) newUploadRequest(ctx context.Context, m Mutation) (*http.Request, error) {
	if m.Photo == nil {
		return nil, fmt.Errorf("%w: upload %s without photo data", ErrPermanent, m.TargetID)
	}

	manifest, err := json.Marshal(models.PhotoManifest{
		ID:         m.TargetID,
		ParentType: m.Photo.ParentType,
		ParentID:   m.Photo.ParentID,
		MIMEType:   m.Photo.MIMEType,
		Size:       int64(len(m.Photo.Data)),
		SHA256:     m.Photo.SHA256,
		Caption:    m.Photo.Caption,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encode manifest %s: %w", ErrPermanent, m.TargetID, err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	manifestHeader := make(textproto.MIMEHeader)
	manifestHeader.Set("Content-Disposition", mime.FormatMediaType("form-data", map[string]string{"name": "manifest"}))
	manifestHeader.Set("Content-Type", "application/json")
	part, err := mw.CreatePart(manifestHeader)
	if err == nil {
		_, err = part.Write(manifest)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: write manifest part: %w", ErrPermanent, err)
	}

	photoHeader := make(textproto.MIMEHeader)
	photoHeader.Set("Content-Disposition", mime.FormatMediaType("form-data", map[string]string{
		"name":     "photo",
		"filename": m.TargetID,
	}))
	photoHeader.Set("Content-Type", m.Photo.MIMEType)
	part, err = mw.CreatePart(photoHeader)
	if err == nil {
		_, err = part.Write(m.Photo.Data)
	}
	if err == nil {
		err = mw.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: write photo part: %w", ErrPermanent, err)
	}

	endpoint := fmt.Sprintf("%s/photos/%s", c.baseURL, url.PathEscape(m.TargetID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", ErrPermanent, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Parent-Type", m.Photo.ParentType)
	req.Header.Set("X-Parent-Id", m.Photo.ParentID)
	req.Header.Set("Idempotency-Key", c.idempotencyKey(m.QueueID))
	req.Header.Set("User-Agent", version.UserAgent())
	return req, nil
}

// idempotencyKey lets the remote discard a replay of an item whose
// acknowledgement was lost.
func (c *HTTPClient) idempotencyKey(queueID uint64) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return hash.IdempotencyKey(c.deviceID, queueID)
}

// SetDeviceID scopes idempotency keys to one device.
func (c *HTTPClient) SetDeviceID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deviceID = id
}

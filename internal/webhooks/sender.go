package webhooks

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"supportdesk/api/internal/store"
)

const (
	// maxResponseRead bounds how much of a subscriber's response we consume.
	maxResponseRead = 4 << 10
	// maxResponseStored bounds the response body kept in the delivery log.
	maxResponseStored = 1 << 10

	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Result is the outcome of one delivery attempt.
type Result struct {
	WebhookID      string
	DeliveryID     string
	EventID        string
	EventType      EventType
	Status         string
	ResponseStatus *int
	ResponseBody   string
	Error          string
	Duration       time.Duration
	Payload        []byte
}

func (r Result) OK() bool {
	return r.Status == StatusSuccess
}

// Sender performs the HTTP POST for a single subscriber.
type Sender struct {
	client    *http.Client
	userAgent string
	now       func() time.Time
}

// NewSender creates a sender whose attempts are bounded by timeout.
func NewSender(timeout time.Duration, userAgent string) *Sender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Sender{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		now:       time.Now,
	}
}

// Send POSTs event to hook once. It never returns an error; failures are
// reported through Result.Status and Result.Error.
func (s *Sender) Send(ctx context.Context, hook store.Webhook, event Event) Result {
	result := Result{
		WebhookID: hook.ID,
		EventID:   event.ID,
		EventType: event.Type,
		Status:    StatusFailed,
	}

	body, err := event.Payload()
	if err != nil {
		result.Error = fmt.Sprintf("encode payload: %v", err)
		return result
	}
	result.Payload = body

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		result.Error = fmt.Sprintf("build request: %v", err)
		return result
	}

	timestamp := strconv.FormatInt(s.now().Unix(), 10)
	req.Header.Set("Content-Type", "application/json")
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}
	req.Header.Set(HeaderEvent, string(event.Type))
	req.Header.Set(HeaderDelivery, event.ID)
	req.Header.Set(HeaderTimestamp, timestamp)
	applyAuth(req, hook, timestamp, body)

	started := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		result.Duration = time.Since(started)
		result.Error = err.Error()
		return result
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseRead))
	result.Duration = time.Since(started)
	code := resp.StatusCode
	result.ResponseStatus = &code
	result.ResponseBody = truncate(raw, maxResponseStored)

	if code < 200 || code >= 300 {
		result.Error = fmt.Sprintf("unexpected status %d", code)
		return result
	}
	result.Status = StatusSuccess
	return result
}

// truncate returns at most limit bytes of raw as valid UTF-8 without NUL,
// which Postgres text columns reject.
func truncate(raw []byte, limit int) string {
	if len(raw) > limit {
		raw = raw[:limit]
	}
	raw = bytes.ReplaceAll(raw, []byte{0}, nil)
	return string(bytes.ToValidUTF8(raw, nil))
}

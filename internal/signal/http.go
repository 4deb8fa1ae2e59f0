package signal

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/brianly1003/pressd/internal/domain"
	"github.com/brianly1003/pressd/internal/domain/messages"
	"github.com/rs/zerolog"
)

// Request headers set on every HTTP signal.
const (
	SignatureHeader  = "X-Pressd-Signature"
	SignalTypeHeader = "X-Pressd-Signal-Type"
)

// HTTPConfig configures HTTP delivery.
type HTTPConfig struct {
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration

	// Secret signs request bodies with HMAC-SHA256 when set.
	Secret string
}

// HTTPTransport posts signals as JSON-RPC notifications.
type HTTPTransport struct {
	client     *http.Client
	retries    int
	retryDelay time.Duration
	secret     []byte
	logger     zerolog.Logger
}

// NewHTTPTransport creates an HTTP transport.
func NewHTTPTransport(cfg HTTPConfig, logger zerolog.Logger) *HTTPTransport {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &HTTPTransport{
		client:     &http.Client{Timeout: cfg.Timeout},
		retries:    cfg.Retries,
		retryDelay: cfg.RetryDelay,
		secret:     []byte(cfg.Secret),
		logger:     logger.With().Str("component", "signal-http").Logger(),
	}
}

// statusError is a non-2xx answer.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("http status %d", e.code)
}

// Deliver implements ports.SignalTransport. Server errors and network
// failures are retried with exponential backoff; client errors are not.
func (t *HTTPTransport) Deliver(ctx context.Context, sig messages.Signal, url string) error {
	body, err := Encode(sig)
	if err != nil {
		return fmt.Errorf("%w: encode: %w", domain.ErrDeliveryFailed, err)
	}

	var lastErr error
	for attempt := 1; attempt <= t.retries; attempt++ {
		lastErr = t.post(ctx, url, sig.Type, body)
		if lastErr == nil {
			return nil
		}
		if se, ok := lastErr.(*statusError); ok && se.code < 500 {
			break
		}
		if attempt == t.retries {
			break
		}

		backoff := t.retryDelay * time.Duration(1<<(attempt-1))
		t.logger.Debug().
			Err(lastErr).
			Str("url", url).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Msg("signal delivery retry")
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", domain.ErrDeliveryFailed, ctx.Err())
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrDeliveryFailed, url, lastErr)
}

func (t *HTTPTransport) post(ctx context.Context, url, signalType string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignalTypeHeader, signalType)
	if len(t.secret) > 0 {
		req.Header.Set(SignatureHeader, Sign(body, t.secret))
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusError{code: resp.StatusCode}
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body.
func Sign(body, secret []byte) string {
	h := hmac.New(sha256.New, secret)
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Verify checks a signature produced by Sign.
func Verify(body, secret []byte, signature string) bool {
	want, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	h := hmac.New(sha256.New, secret)
	h.Write(body)
	return hmac.Equal(h.Sum(nil), want)
}

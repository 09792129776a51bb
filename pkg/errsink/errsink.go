// Package errsink forwards gateway failures to an external error-correlation
// service.
package errsink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Categories.
const (
	CategoryValidation = "validation"
	CategoryBudget     = "budget"
	CategoryProvider   = "provider"
	CategoryCircuit    = "circuit_open"
	CategoryStorage    = "storage"
	CategoryInternal   = "internal"
)

// Severities.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Report is the payload accepted by the correlation service.
type Report struct {
	Timestamp     time.Time      `json:"timestamp"`
	Message       string         `json:"message"`
	Code          string         `json:"code"`
	Category      string         `json:"category"`
	Severity      string         `json:"severity"`
	Context       map[string]any `json:"context,omitempty"`
	Stack         string         `json:"stack,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	RequestID     string         `json:"request_id,omitempty"`
	UserID        string         `json:"user_id,omitempty"`
}

// Reporter posts reports. A Reporter without a URL drops everything.
type Reporter struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

// New creates a reporter for url.
func New(url string, timeout time.Duration, logger *zap.Logger) *Reporter {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger.Named("errsink"),
	}
}

// Enabled reports whether reports are sent anywhere.
func (r *Reporter) Enabled() bool {
	return r != nil && r.url != ""
}

// Report sends rep. A zero Timestamp is set to now.
func (r *Reporter) Report(ctx context.Context, rep Report) error {
	if !r.Enabled() {
		return nil
	}
	if rep.Timestamp.IsZero() {
		rep.Timestamp = time.Now().UTC()
	}
	body, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("send report: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("error sink returned %d", resp.StatusCode)
	}
	return nil
}

// Go sends rep in the background, detached from the caller's cancellation.
// Failures are logged.
func (r *Reporter) Go(ctx context.Context, rep Report) {
	if !r.Enabled() {
		return
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		if err := r.Report(ctx, rep); err != nil {
			r.logger.Warn("error report dropped", zap.String("code", rep.Code), zap.Error(err))
		}
	}()
}

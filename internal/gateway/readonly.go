package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/web3money/portal/internal/domain"
	"github.com/web3money/portal/internal/metrics"
	"github.com/web3money/portal/internal/normalize"
)

const pathApplicants = "applicants"

// ReadonlySource reads raw form submissions straight from the read-only
// spreadsheet endpoint, bypassing the proxy. It is for the diagnostic
// applicant view only and must not back any voting path.
type ReadonlySource struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewReadonlySource(baseURL string, timeout time.Duration, logger *slog.Logger, m *metrics.Metrics) *ReadonlySource {
	return &ReadonlySource{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
		metrics: m,
	}
}

// Applicants returns every readable row normalized in received order. A
// response without success or data yields an empty list.
func (s *ReadonlySource) Applicants(ctx context.Context) ([]domain.Applicant, error) {
	start := time.Now()
	rows, err := s.fetch(ctx)
	if err != nil {
		s.metrics.ObserveGateway("readonly-"+pathApplicants, "error", time.Since(start))
		s.logger.Warn("readonly applicants request failed", "error", err)
		return nil, fmt.Errorf("failed to load applicants from readonly source: %w", err)
	}
	s.metrics.ObserveGateway("readonly-"+pathApplicants, "ok", time.Since(start))

	applicants := make([]domain.Applicant, 0, len(rows))
	for i, raw := range rows {
		var row normalize.Row
		if err := json.Unmarshal(raw, &row); err != nil {
			s.logger.Warn("skipping malformed readonly row", "index", i, "error", err)
			continue
		}
		applicants = append(applicants, normalize.Applicant(row, i+1))
	}
	return applicants, nil
}

func (s *ReadonlySource) fetch(ctx context.Context) ([]json.RawMessage, error) {
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return nil, &TransportError{Path: pathApplicants, Err: err}
	}
	q := u.Query()
	q.Set("path", pathApplicants)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &TransportError{Path: pathApplicants, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &TransportError{Path: pathApplicants, Err: err}
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			s.logger.Error("failed to close readonly response body", "error", cerr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{Path: pathApplicants, Status: resp.StatusCode}
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, &TransportError{Path: pathApplicants, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	if !env.Success || len(env.Data) == 0 {
		return nil, nil
	}

	var data struct {
		Applicants []json.RawMessage `json:"applicants"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		s.logger.Warn("readonly data is not an object", "error", err)
		return nil, nil
	}
	return data.Applicants, nil
}

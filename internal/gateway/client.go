// Package gateway is the typed client for the spreadsheet backend. Every call
// goes through one endpoint selected by the "path" query parameter and returns
// the envelope {success, data, error, message}.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/web3money/portal/internal/domain"
	"github.com/web3money/portal/internal/metrics"
	"github.com/web3money/portal/internal/normalize"
)

// Logical operations understood by the proxy.
const (
	PathNotices              = "notices"
	PathCampaigns            = "campaigns"
	PathCampaign             = "campaign"
	PathVotes                = "votes"
	PathAuthenticatedVote    = "authenticated-vote"
	PathTestConnection       = "test-connection"
	PathFormFields           = "form-fields"
	PathCampaignSettings     = "campaign-settings"
	PathAllCampaignSettings  = "all-campaign-settings"
	PathUser                 = "user"
	PathUserVotes            = "user-votes"
	PathCanVote              = "can-vote"
	PathRegisterLogin        = "register-login"
	PathSystemStats          = "system-stats-auth"
	PathInitializeAuthSheets = "initialize-auth-sheets"
)

const defaultFailure = "request failed"

type envelope struct {
	Success bool                     `json:"success"`
	Data    json.RawMessage          `json:"data"`
	Error   string                   `json:"error"`
	Message string                   `json:"message"`
	Guide   *domain.RemediationGuide `json:"guide"`
}

func (e *envelope) failure(path string) *APIError {
	msg := e.Error
	if msg == "" {
		msg = e.Message
	}
	if msg == "" {
		msg = defaultFailure
	}
	return &APIError{Path: path, Message: msg}
}

type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewClient returns a client for the proxy endpoint at baseURL. m may be nil.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger, m *metrics.Metrics) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
		metrics: m,
	}
}

// call performs one round trip and decodes the envelope. Only transport
// failures are returned as errors.
func (c *Client) call(ctx context.Context, method, path string, query url.Values, body any) (*envelope, error) {
	start := time.Now()
	env, err := c.roundTrip(ctx, method, path, query, body)
	elapsed := time.Since(start)

	switch {
	case err != nil:
		c.metrics.ObserveGateway(path, "error", elapsed)
		c.logger.Warn("gateway request failed", "method", method, "path", path, "error", err)
	case !env.Success:
		c.metrics.ObserveGateway(path, "rejected", elapsed)
		c.logger.Debug("gateway request rejected", "method", method, "path", path, "duration_ms", elapsed.Milliseconds())
	default:
		c.metrics.ObserveGateway(path, "ok", elapsed)
		c.logger.Debug("gateway request", "method", method, "path", path, "duration_ms", elapsed.Milliseconds())
	}
	return env, err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, query url.Values, body any) (*envelope, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, &TransportError{Path: path, Err: fmt.Errorf("failed to parse gateway url: %w", err)}
	}
	q := u.Query()
	q.Set("path", path)
	for k, vs := range query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, &TransportError{Path: path, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &TransportError{Path: path, Err: err}
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Error("failed to close gateway response body", "error", cerr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{Path: path, Status: resp.StatusCode}
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, &TransportError{Path: path, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return &env, nil
}

// do unwraps the envelope into out. out may be nil when the caller only
// needs to know the call succeeded.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	env, err := c.call(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	if !env.Success {
		return env.failure(path)
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &TransportError{Path: path, Err: fmt.Errorf("failed to decode data: %w", err)}
	}
	return nil
}

func (c *Client) ListNotices(ctx context.Context) ([]domain.Notice, error) {
	var notices []domain.Notice
	if err := c.do(ctx, http.MethodGet, PathNotices, nil, nil, &notices); err != nil {
		return nil, err
	}
	return notices, nil
}

func (c *Client) CreateNotice(ctx context.Context, in domain.NoticeInput) (*domain.Notice, error) {
	var n domain.Notice
	if err := c.do(ctx, http.MethodPost, PathNotices, nil, in, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

func (c *Client) UpdateNotice(ctx context.Context, id string, in domain.NoticeInput) (*domain.Notice, error) {
	var n domain.Notice
	if err := c.do(ctx, http.MethodPut, PathNotices, url.Values{"id": {id}}, in, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

func (c *Client) DeleteNotice(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, PathNotices, url.Values{"id": {id}}, nil, nil)
}

// ListCampaigns lists campaigns, optionally filtered by status on the backend.
func (c *Client) ListCampaigns(ctx context.Context, status domain.CampaignStatus) ([]domain.Campaign, error) {
	var query url.Values
	if status != "" {
		query = url.Values{"status": {string(status)}}
	}
	var campaigns []domain.Campaign
	if err := c.do(ctx, http.MethodGet, PathCampaigns, query, nil, &campaigns); err != nil {
		return nil, err
	}
	return campaigns, nil
}

// GetCampaign returns a campaign with its applicants normalized and ordered
// by vote count. Applicant rows that are not JSON objects are skipped.
func (c *Client) GetCampaign(ctx context.Context, id string) (*domain.CampaignDetail, error) {
	var raw struct {
		domain.Campaign
		Applicants []json.RawMessage `json:"applicants"`
	}
	if err := c.do(ctx, http.MethodGet, PathCampaign, url.Values{"id": {id}}, nil, &raw); err != nil {
		return nil, err
	}
	return &domain.CampaignDetail{
		Campaign:   raw.Campaign,
		Applicants: normalize.Ranked(decodeRows(raw.Applicants, c.logger)),
	}, nil
}

func (c *Client) CreateCampaign(ctx context.Context, in domain.CampaignInput) (*domain.Campaign, error) {
	var campaign domain.Campaign
	if err := c.do(ctx, http.MethodPost, PathCampaigns, nil, in, &campaign); err != nil {
		return nil, err
	}
	return &campaign, nil
}

func (c *Client) UpdateCampaignStatus(ctx context.Context, id string, status domain.CampaignStatus) error {
	body := map[string]domain.CampaignStatus{"status": status}
	return c.do(ctx, http.MethodPut, PathCampaigns, url.Values{"id": {id}}, body, nil)
}

// AddVote records an anonymous vote through the legacy votes sheet.
func (c *Client) AddVote(ctx context.Context, campaignID, applicantID string) error {
	body := map[string]string{"campaignId": campaignID, "applicantId": applicantID}
	return c.do(ctx, http.MethodPost, PathVotes, nil, body, nil)
}

// TestFormConnection checks that the backend can read the sheet at sheetURL.
// It never returns an error: failures are folded into the result.
func (c *Client) TestFormConnection(ctx context.Context, sheetURL string) domain.ConnectionTestResult {
	env, err := c.call(ctx, http.MethodPost, PathTestConnection, nil, map[string]string{"sheetUrl": sheetURL})
	if err != nil {
		return domain.ConnectionTestResult{Message: "Connection test failed: " + err.Error()}
	}
	if !env.Success {
		return domain.ConnectionTestResult{Message: env.failure(PathTestConnection).Message, Guide: env.Guide}
	}

	var data struct {
		Message string `json:"message"`
		Status  string `json:"status"`
		domain.SheetInfo
	}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			c.logger.Warn("unexpected test-connection data", "error", err)
		}
	}
	msg := data.Message
	if msg == "" {
		msg = data.Status
	}
	if msg == "" {
		msg = "Connection successful"
	}
	info := data.SheetInfo
	return domain.ConnectionTestResult{Success: true, Message: msg, Data: &info}
}

func (c *Client) FormFields(ctx context.Context, sheetURL string) (*domain.FormFieldsResult, error) {
	var result domain.FormFieldsResult
	if err := c.do(ctx, http.MethodPost, PathFormFields, nil, map[string]string{"sheetUrl": sheetURL}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) RegisterOrLogin(ctx context.Context, financeID, email, name string) (*domain.RegisterLoginResponse, error) {
	body := map[string]string{"financeId": financeID, "email": email, "name": name}
	var resp domain.RegisterLoginResponse
	if err := c.do(ctx, http.MethodPost, PathRegisterLogin, nil, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// User returns nil without error when the backend knows no such user.
func (c *Client) User(ctx context.Context, financeID string) (*domain.User, error) {
	var user *domain.User
	if err := c.do(ctx, http.MethodGet, PathUser, url.Values{"financeId": {financeID}}, nil, &user); err != nil {
		return nil, err
	}
	return user, nil
}

// UserVotes lists a user's votes, optionally limited to one campaign.
func (c *Client) UserVotes(ctx context.Context, financeID, campaignID string) ([]domain.UserVote, error) {
	query := url.Values{"financeId": {financeID}}
	if campaignID != "" {
		query.Set("campaignId", campaignID)
	}
	var votes []domain.UserVote
	if err := c.do(ctx, http.MethodGet, PathUserVotes, query, nil, &votes); err != nil {
		return nil, err
	}
	return votes, nil
}

func (c *Client) CanVote(ctx context.Context, financeID, campaignID, applicantID string) (*domain.VoteEligibility, error) {
	body := map[string]string{"financeId": financeID, "campaignId": campaignID, "applicantId": applicantID}
	var check domain.VoteEligibility
	if err := c.do(ctx, http.MethodPost, PathCanVote, nil, body, &check); err != nil {
		return nil, err
	}
	return &check, nil
}

// AddAuthenticatedVote casts a vote. The backend decides duplicates, limits
// and weighting; a rejection comes back as *APIError.
func (c *Client) AddAuthenticatedVote(ctx context.Context, req domain.VoteRequest) (*domain.VoteReceipt, error) {
	if req.VotePage == "" {
		req.VotePage = domain.TierBasic
	}
	var receipt domain.VoteReceipt
	if err := c.do(ctx, http.MethodPost, PathAuthenticatedVote, nil, req, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

func (c *Client) CampaignSettings(ctx context.Context, campaignID string) (*domain.CampaignSettings, error) {
	var settings domain.CampaignSettings
	if err := c.do(ctx, http.MethodGet, PathCampaignSettings, url.Values{"campaignId": {campaignID}}, nil, &settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

func (c *Client) AllCampaignSettings(ctx context.Context) ([]domain.CampaignSettings, error) {
	var settings []domain.CampaignSettings
	if err := c.do(ctx, http.MethodGet, PathAllCampaignSettings, nil, nil, &settings); err != nil {
		return nil, err
	}
	return settings, nil
}

func (c *Client) UpdateCampaignSettings(ctx context.Context, campaignID string, allowMultipleVotes bool, maxVotesPerUser int) error {
	body := struct {
		AllowMultipleVotes bool `json:"allowMultipleVotes"`
		MaxVotesPerUser    int  `json:"maxVotesPerUser"`
	}{allowMultipleVotes, maxVotesPerUser}
	return c.do(ctx, http.MethodPut, PathCampaignSettings, url.Values{"campaignId": {campaignID}}, body, nil)
}

func (c *Client) SystemStats(ctx context.Context) (*domain.SystemStats, error) {
	var stats domain.SystemStats
	if err := c.do(ctx, http.MethodGet, PathSystemStats, nil, nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (c *Client) InitializeAuthSheets(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, PathInitializeAuthSheets, nil, nil, nil)
}

// decodeRows decodes each raw applicant independently so one bad row does
// not hide the rest.
func decodeRows(raws []json.RawMessage, logger *slog.Logger) []normalize.Row {
	rows := make([]normalize.Row, 0, len(raws))
	for i, raw := range raws {
		var row normalize.Row
		if err := json.Unmarshal(raw, &row); err != nil {
			logger.Warn("skipping malformed applicant row", "index", i, "error", err)
			continue
		}
		rows = append(rows, row)
	}
	return rows
}

// IsRejection reports whether err is a backend business-rule rejection
// rather than a transport failure.
func IsRejection(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

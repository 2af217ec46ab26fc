package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/web3money/portal/internal/domain"
	"github.com/web3money/portal/internal/gateway"
	"github.com/web3money/portal/internal/normalize"
)

var (
	ErrCampaignNotFound  = errors.New("campaign not found")
	ErrApplicantNotFound = errors.New("applicant not found")
)

// backend is the subset of gateway.Client that PortalService requires.
type backend interface {
	ListNotices(ctx context.Context) ([]domain.Notice, error)
	ListCampaigns(ctx context.Context, status domain.CampaignStatus) ([]domain.Campaign, error)
	GetCampaign(ctx context.Context, id string) (*domain.CampaignDetail, error)
}

// readonlySource is the subset of gateway.ReadonlySource used by the
// diagnostic view.
type readonlySource interface {
	Applicants(ctx context.Context) ([]domain.Applicant, error)
}

// attemptRepository is the subset of store.AttemptStore that PortalService
// requires.
type attemptRepository interface {
	Recent(ctx context.Context, limit int) ([]domain.VoteAttempt, error)
	CountByOutcome(ctx context.Context) (map[string]int, error)
}

type NoticeList struct {
	Notices []domain.Notice
	Failed  bool
}

// Board is the voting tab: active campaigns and the selected one with its
// applicants ranked by votes.
type Board struct {
	Campaigns []domain.Campaign
	Selected  *domain.CampaignDetail
	Now       time.Time
	Failed    bool
}

type Diagnostics struct {
	Applicants []domain.Applicant
	Failed     bool
}

type AttemptSummary struct {
	Recent []domain.VoteAttempt
	Counts map[string]int
}

type PortalService struct {
	backend  backend
	readonly readonlySource
	attempts attemptRepository
	retry    gateway.RetryConfig
	loc      *time.Location
	now      func() time.Time
	logger   *slog.Logger
}

// NewPortalService wires the page loaders. readonly may be nil, which
// disables the diagnostic view.
func NewPortalService(
	b backend,
	readonly readonlySource,
	attempts attemptRepository,
	retry gateway.RetryConfig,
	loc *time.Location,
	logger *slog.Logger,
) *PortalService {
	if loc == nil {
		loc = time.UTC
	}
	return &PortalService{
		backend:  b,
		readonly: readonly,
		attempts: attempts,
		retry:    retry,
		loc:      loc,
		now:      time.Now,
		logger:   logger,
	}
}

func (s *PortalService) clock() time.Time {
	return s.now().In(s.loc)
}

// Notices loads the notice list. A failed load yields an empty list with
// Failed set so the page can offer a retry.
func (s *PortalService) Notices(ctx context.Context) NoticeList {
	notices, err := gateway.Retry(ctx, s.retry, s.logger, s.backend.ListNotices)
	if err != nil {
		s.logger.Error("load notices failed", "error", err)
		return NoticeList{Failed: true}
	}

	today := s.clock()
	for _, n := range notices {
		if !n.DisplayableOn(today) {
			s.logger.Warn("backend returned notice outside its display window", "notice_id", n.ID)
		}
	}
	return NoticeList{Notices: notices}
}

func (s *PortalService) ActiveCampaigns(ctx context.Context) ([]domain.Campaign, error) {
	campaigns, err := gateway.Retry(ctx, s.retry, s.logger, func(ctx context.Context) ([]domain.Campaign, error) {
		return s.backend.ListCampaigns(ctx, domain.CampaignActive)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list active campaigns: %w", err)
	}

	active := campaigns[:0]
	for _, c := range campaigns {
		if c.Votable() {
			active = append(active, c)
		}
	}
	return active, nil
}

// CampaignBoard loads the voting tab. An empty id selects the first active
// campaign.
func (s *PortalService) CampaignBoard(ctx context.Context, id string) Board {
	board := Board{Now: s.clock()}

	campaigns, err := s.ActiveCampaigns(ctx)
	if err != nil {
		s.logger.Error("load campaigns failed", "error", err)
		board.Failed = true
		return board
	}
	board.Campaigns = campaigns

	if id == "" {
		if len(campaigns) == 0 {
			return board
		}
		id = campaigns[0].ID
	}

	detail, err := s.Campaign(ctx, id)
	if err != nil {
		s.logger.Error("load campaign failed", "campaign_id", id, "error", err)
		board.Failed = true
		return board
	}
	board.Selected = detail
	return board
}

// Campaign loads one campaign with its applicants ranked by vote count.
func (s *PortalService) Campaign(ctx context.Context, id string) (*domain.CampaignDetail, error) {
	detail, err := gateway.Retry(ctx, s.retry, s.logger, func(ctx context.Context) (*domain.CampaignDetail, error) {
		return s.backend.GetCampaign(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	normalize.SortByVotes(detail.Applicants)
	return detail, nil
}

// VoteTarget resolves the campaign and applicant a vote form is opened for.
func (s *PortalService) VoteTarget(ctx context.Context, campaignID, applicantID string) (*domain.Campaign, *domain.Applicant, error) {
	detail, err := s.Campaign(ctx, campaignID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load campaign: %w", err)
	}
	if detail.ID == "" {
		return nil, nil, ErrCampaignNotFound
	}
	for i := range detail.Applicants {
		if detail.Applicants[i].ID == applicantID {
			return &detail.Campaign, &detail.Applicants[i], nil
		}
	}
	return &detail.Campaign, nil, ErrApplicantNotFound
}

func (s *PortalService) DiagnosticsEnabled() bool {
	return s.readonly != nil
}

// DiagnosticApplicants reads raw form submissions from the read-only source.
func (s *PortalService) DiagnosticApplicants(ctx context.Context) Diagnostics {
	if s.readonly == nil {
		return Diagnostics{}
	}
	applicants, err := s.readonly.Applicants(ctx)
	if err != nil {
		s.logger.Error("load readonly applicants failed", "error", err)
		return Diagnostics{Failed: true}
	}
	return Diagnostics{Applicants: applicants}
}

func (s *PortalService) RecentAttempts(ctx context.Context, limit int) (*AttemptSummary, error) {
	recent, err := s.attempts.Recent(ctx, limit)
	if err != nil {
		return nil, err
	}
	counts, err := s.attempts.CountByOutcome(ctx)
	if err != nil {
		return nil, err
	}
	return &AttemptSummary{Recent: recent, Counts: counts}, nil
}

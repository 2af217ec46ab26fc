package domain

import (
	"math"
	"strings"
	"time"
)

// Tier is a contract level. The same values name the vote page a ballot was
// cast from.
type Tier string

const (
	TierBasic   Tier = "basic"
	TierPremium Tier = "premium"
)

func (t Tier) Valid() bool {
	return t == TierBasic || t == TierPremium
}

type Notice struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Content     string `json:"content"`
	StartDate   string `json:"startDate,omitempty"`
	EndDate     string `json:"endDate,omitempty"`
	IsPermanent bool   `json:"isPermanent,omitempty"`
	CreatedAt   string `json:"createdAt"`
}

// NoticeInput is the writable part of a Notice.
type NoticeInput struct {
	Title       string `json:"title"`
	Content     string `json:"content"`
	StartDate   string `json:"startDate,omitempty"`
	EndDate     string `json:"endDate,omitempty"`
	IsPermanent bool   `json:"isPermanent,omitempty"`
}

// DisplayableOn reports whether the notice falls inside its display window on
// the calendar day of t. Permanent notices and notices without a complete,
// parseable date range are always displayable.
func (n Notice) DisplayableOn(t time.Time) bool {
	if n.IsPermanent {
		return true
	}
	start, okStart := ParseDate(n.StartDate, t.Location())
	end, okEnd := ParseDate(n.EndDate, t.Location())
	if !okStart || !okEnd {
		return true
	}
	day := truncateDay(t)
	return !day.Before(truncateDay(start)) && !day.After(truncateDay(end))
}

type CampaignStatus string

const (
	CampaignDraft    CampaignStatus = "draft"
	CampaignActive   CampaignStatus = "active"
	CampaignEnded    CampaignStatus = "ended"
	CampaignArchived CampaignStatus = "archived"
)

type FormField struct {
	Key         string `json:"key"`
	DisplayName string `json:"displayName"`
	Type        string `json:"type"`
	Visible     bool   `json:"visible"`
	Order       int    `json:"order"`
}

type FormFieldsResult struct {
	Success bool        `json:"success"`
	Fields  []FormField `json:"fields,omitempty"`
	Message string      `json:"message,omitempty"`
}

type Campaign struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	FormURL   string         `json:"formUrl,omitempty"`
	SheetURL  string         `json:"sheetUrl"`
	Status    CampaignStatus `json:"status"`
	StartDate string         `json:"startDate"`
	EndDate   string         `json:"endDate"`
	Fields    []FormField    `json:"fields,omitempty"`
	CreatedAt string         `json:"createdAt"`
}

// CampaignInput is the payload for creating a campaign; the backend assigns
// id, status and createdAt.
type CampaignInput struct {
	Title     string      `json:"title"`
	FormURL   string      `json:"formUrl,omitempty"`
	SheetURL  string      `json:"sheetUrl"`
	StartDate string      `json:"startDate"`
	EndDate   string      `json:"endDate"`
	Fields    []FormField `json:"fields,omitempty"`
}

// Votable reports whether ballots may be cast for the campaign.
func (c Campaign) Votable() bool {
	return c.Status == CampaignActive
}

// NearExpiry reports whether the campaign ends within three days of now.
func (c Campaign) NearExpiry(now time.Time) bool {
	end, ok := ParseDate(c.EndDate, now.Location())
	if !ok {
		return false
	}
	days := math.Ceil(end.Sub(now).Hours() / 24)
	return days <= 3
}

// CampaignDetail is a campaign together with its applicants, already
// normalized and ordered for display.
type CampaignDetail struct {
	Campaign
	Applicants []Applicant `json:"applicants"`
}

type Applicant struct {
	ID                string         `json:"id"`
	CampaignID        string         `json:"campaignId,omitempty"`
	Name              string         `json:"name"`
	Reason            string         `json:"reason"`
	Amount            string         `json:"amount"`
	SNS               string         `json:"sns"`
	DetailedReason    string         `json:"detailedReason"`
	Thoughts          string         `json:"thoughts"`
	Timestamp         string         `json:"timestamp"`
	VoteCount         int            `json:"voteCount"`
	WeightedVoteScore float64        `json:"weightedVoteScore"`
	BasicVoteCount    int            `json:"basicVoteCount"`
	PremiumVoteCount  int            `json:"premiumVoteCount"`
	YouTubeOptInCount int            `json:"youtubeOptInCount"`
	Extra             map[string]any `json:"-"`
}

type VoteRequest struct {
	FinanceID    string `json:"financeId"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	CampaignID   string `json:"campaignId"`
	ApplicantID  string `json:"applicantId"`
	VotePage     Tier   `json:"votePage"`
	YouTubeOptIn *bool  `json:"youtubeOptIn,omitempty"`
}

type VoteReceipt struct {
	VoteID string `json:"voteId"`
}

type User struct {
	ID          string `json:"id"`
	FinanceID   string `json:"financeId"`
	Email       string `json:"email"`
	Name        string `json:"name"`
	CreatedAt   string `json:"createdAt"`
	LastLoginAt string `json:"lastLoginAt"`
	IsNewUser   bool   `json:"isNewUser,omitempty"`
}

type UserVote struct {
	ID           string  `json:"id"`
	FinanceID    string  `json:"financeId"`
	Email        string  `json:"email"`
	CampaignID   string  `json:"campaignId"`
	ApplicantID  string  `json:"applicantId"`
	VotedAt      string  `json:"votedAt"`
	VotePage     Tier    `json:"votePage"`
	VoteWeight   float64 `json:"voteWeight"`
	YouTubeOptIn bool    `json:"youtubeOptIn,omitempty"`
}

type RegisterLoginResponse struct {
	ID        string `json:"id"`
	FinanceID string `json:"financeId"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	IsNewUser bool   `json:"isNewUser"`
}

type VoteEligibility struct {
	CanVote        bool   `json:"canVote"`
	Reason         string `json:"reason,omitempty"`
	RemainingVotes int    `json:"remainingVotes,omitempty"`
}

// CampaignSettings is displayed as returned; vote weights are computed by the
// backend only.
type CampaignSettings struct {
	CampaignID          string  `json:"campaignId"`
	AllowMultipleVotes  bool    `json:"allowMultipleVotes"`
	MaxVotesPerUser     int     `json:"maxVotesPerUser"`
	CreatedAt           string  `json:"createdAt,omitempty"`
	EnableTwoPageVoting bool    `json:"enableTwoPageVoting,omitempty"`
	BasicPageWeight     float64 `json:"basicPageWeight,omitempty"`
	PremiumPageWeight   float64 `json:"premiumPageWeight,omitempty"`
}

type SystemStats struct {
	Notices          int    `json:"notices"`
	Campaigns        int    `json:"campaigns"`
	Votes            int    `json:"votes"`
	Users            int    `json:"users"`
	UserVotes        int    `json:"userVotes"`
	CampaignSettings int    `json:"campaignSettings"`
	LastUpdated      string `json:"lastUpdated"`
}

type SheetInfo struct {
	SheetName string   `json:"sheetName"`
	RowCount  int      `json:"rowCount"`
	Headers   []string `json:"headers"`
}

type RemediationGuide struct {
	Title string   `json:"title"`
	Steps []string `json:"steps"`
}

// ConnectionTestResult is always returned, never an error, so the caller can
// render remediation steps for a failed spreadsheet connection.
type ConnectionTestResult struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Data    *SheetInfo        `json:"data,omitempty"`
	Guide   *RemediationGuide `json:"guide,omitempty"`
}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
	"2006/1/2",
}

// ParseDate parses the date formats the spreadsheet backend is known to emit.
// Dates without a zone are interpreted in loc.
func ParseDate(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.In(loc), true
		}
	}
	return time.Time{}, false
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Vote attempt outcomes recorded in the local journal.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
	OutcomeInvalid  = "invalid"
)

// VoteAttempt is one submission as seen by this portal. It carries no voter
// identity; the backend remains the record of votes.
type VoteAttempt struct {
	ID          string    `json:"id"`
	CampaignID  string    `json:"campaignId"`
	ApplicantID string    `json:"applicantId"`
	VotePage    Tier      `json:"votePage"`
	Outcome     string    `json:"outcome"`
	Message     string    `json:"message"`
	CreatedAt   time.Time `json:"createdAt"`
}

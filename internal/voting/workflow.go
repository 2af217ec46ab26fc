// Package voting runs a single vote submission: pre-filling the form from the
// session cache, validating identity fields, calling the backend and
// remembering the identity for the next vote.
package voting

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/web3money/portal/internal/domain"
	"github.com/web3money/portal/internal/gateway"
	"github.com/web3money/portal/internal/metrics"
	"github.com/web3money/portal/internal/session"
)

type State string

const (
	StateIdle       State = "idle"
	StateFormOpen   State = "formOpen"
	StateSubmitting State = "submitting"
	StateSuccess    State = "success"
	StateFailure    State = "failure"
)

const (
	MsgFinanceIDRequired = "フィナンシェIDを入力してください"
	MsgEmailRequired     = "メールアドレスを入力してください"
	MsgNameRequired      = "お名前を入力してください"
	MsgEmailInvalid      = "有効なメールアドレスを入力してください"
	MsgThanks            = "応援ありがとうございました！"
	MsgVoteFailed        = "投票に失敗しました。時間をおいて再度お試しください"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Voter is the backend call the workflow depends on.
type Voter interface {
	AddAuthenticatedVote(ctx context.Context, req domain.VoteRequest) (*domain.VoteReceipt, error)
}

// Journal records submissions for diagnostics.
type Journal interface {
	Record(ctx context.Context, a domain.VoteAttempt) error
}

// Target is the applicant being voted for and the page the vote comes from.
type Target struct {
	CampaignID  string
	ApplicantID string
	Page        domain.Tier
}

type Form struct {
	FinanceID    string
	Email        string
	Name         string
	YouTubeOptIn bool
}

func (f Form) identity() session.Identity {
	return session.Identity{FinanceID: f.FinanceID, Email: f.Email, Name: f.Name}
}

// Prompt is what the vote form opens with.
type Prompt struct {
	State  State
	Target Target
	Form   Form
	// AskYouTubeOptIn is set only on the premium page.
	AskYouTubeOptIn bool
}

// Outcome ends a submission. On a validation failure State stays formOpen and
// Form echoes the input; otherwise State is success or failure and the form
// closes.
type Outcome struct {
	State   State
	Message string
	Form    Form
	VoteID  string
	// Refresh asks the caller to reload applicant data.
	Refresh bool
}

type Workflow struct {
	voter   Voter
	cache   session.Cache
	journal Journal
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
	flight  singleflight.Group
}

// New creates a Workflow. journal and m may be nil.
func New(voter Voter, cache session.Cache, journal Journal, m *metrics.Metrics, logger *slog.Logger) *Workflow {
	return &Workflow{
		voter:   voter,
		cache:   cache,
		journal: journal,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// Open starts the form for target, pre-filled from the cached identity of
// session sid when one is present and unexpired.
func (w *Workflow) Open(ctx context.Context, sid string, target Target) Prompt {
	target = normalizeTarget(target)
	p := Prompt{
		State:           StateFormOpen,
		Target:          target,
		AskYouTubeOptIn: target.Page == domain.TierPremium,
	}
	if sid == "" {
		return p
	}
	id, err := w.cache.Lookup(ctx, sid)
	if err != nil {
		w.logger.Warn("identity lookup failed", "error", err)
		return p
	}
	if id != nil {
		p.Form = Form{FinanceID: id.FinanceID, Email: id.Email, Name: id.Name}
	}
	return p
}

// Submit validates form and, if it passes, casts the vote. Concurrent
// submissions for the same session and applicant share one backend call:
// the callers that join it receive the first caller's outcome, which was
// cast with the first caller's form. The shared call is detached from the
// first caller's cancellation and is bounded by the gateway timeout.
func (w *Workflow) Submit(ctx context.Context, sid string, target Target, form Form) Outcome {
	target = normalizeTarget(target)
	form = trimForm(form)

	if msg := validate(form); msg != "" {
		w.metrics.VoteSubmission(string(target.Page), domain.OutcomeInvalid)
		return Outcome{State: StateFormOpen, Message: msg, Form: form}
	}

	key := strings.Join([]string{sid, target.CampaignID, target.ApplicantID}, "|")
	v, _, _ := w.flight.Do(key, func() (any, error) {
		return w.submit(context.WithoutCancel(ctx), sid, target, form), nil
	})
	return v.(Outcome)
}

func (w *Workflow) submit(ctx context.Context, sid string, target Target, form Form) Outcome {
	req := domain.VoteRequest{
		FinanceID:   form.FinanceID,
		Email:       form.Email,
		Name:        form.Name,
		CampaignID:  target.CampaignID,
		ApplicantID: target.ApplicantID,
		VotePage:    target.Page,
	}
	if target.Page == domain.TierPremium {
		optIn := form.YouTubeOptIn
		req.YouTubeOptIn = &optIn
	}

	receipt, err := w.voter.AddAuthenticatedVote(ctx, req)

	var out Outcome
	var result string
	switch {
	case err == nil:
		out = Outcome{State: StateSuccess, Message: MsgThanks, Refresh: true}
		if receipt != nil {
			out.VoteID = receipt.VoteID
		}
		result = domain.OutcomeSuccess
	case gateway.IsRejection(err):
		out = Outcome{State: StateFailure, Message: err.Error()}
		result = domain.OutcomeRejected
	default:
		w.logger.Error("vote submission failed",
			"campaign_id", target.CampaignID, "applicant_id", target.ApplicantID, "error", err)
		out = Outcome{State: StateFailure, Message: MsgVoteFailed}
		result = domain.OutcomeError
	}

	if form.identity().Complete() {
		w.remember(ctx, sid, form.identity())
	}
	w.metrics.VoteSubmission(string(target.Page), result)
	w.record(ctx, target, result, out.Message)
	return out
}

func (w *Workflow) remember(ctx context.Context, sid string, id session.Identity) {
	if sid == "" {
		return
	}
	if err := w.cache.Save(ctx, sid, id); err != nil {
		w.logger.Warn("identity save failed", "error", err)
	}
}

func (w *Workflow) record(ctx context.Context, target Target, result, message string) {
	if w.journal == nil {
		return
	}
	err := w.journal.Record(ctx, domain.VoteAttempt{
		ID:          uuid.NewString(),
		CampaignID:  target.CampaignID,
		ApplicantID: target.ApplicantID,
		VotePage:    target.Page,
		Outcome:     result,
		Message:     message,
		CreatedAt:   w.now().UTC(),
	})
	if err != nil {
		w.logger.Warn("vote journal write failed", "error", err)
	}
}

// validate applies the guards in the order the form shows them and returns
// the first failure message, or "".
func validate(f Form) string {
	switch {
	case f.FinanceID == "":
		return MsgFinanceIDRequired
	case f.Email == "":
		return MsgEmailRequired
	case f.Name == "":
		return MsgNameRequired
	case !emailPattern.MatchString(f.Email):
		return MsgEmailInvalid
	}
	return ""
}

func trimForm(f Form) Form {
	f.FinanceID = strings.TrimSpace(f.FinanceID)
	f.Email = strings.TrimSpace(f.Email)
	f.Name = strings.TrimSpace(f.Name)
	return f
}

func normalizeTarget(t Target) Target {
	if !t.Page.Valid() {
		t.Page = domain.TierBasic
	}
	return t
}

package voting

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3money/portal/internal/domain"
	"github.com/web3money/portal/internal/gateway"
	"github.com/web3money/portal/internal/session"
)

type fakeVoter struct {
	calls   atomic.Int32
	mu      sync.Mutex
	last    domain.VoteRequest
	err     error
	release chan struct{}
}

func (f *fakeVoter) AddAuthenticatedVote(ctx context.Context, req domain.VoteRequest) (*domain.VoteReceipt, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.last = req
	f.mu.Unlock()
	if f.release != nil {
		<-f.release
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	return &domain.VoteReceipt{VoteID: "v-1"}, nil
}

type fakeJournal struct {
	mu       sync.Mutex
	attempts []domain.VoteAttempt
}

func (j *fakeJournal) Record(_ context.Context, a domain.VoteAttempt) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.attempts = append(j.attempts, a)
	return nil
}

func newWorkflow(voter Voter) (*Workflow, *session.MemoryCache, *fakeJournal) {
	cache := session.NewMemoryCache()
	journal := &fakeJournal{}
	return New(voter, cache, journal, nil, slog.New(slog.DiscardHandler)), cache, journal
}

var (
	basicTarget   = Target{CampaignID: "c1", ApplicantID: "a1", Page: domain.TierBasic}
	premiumTarget = Target{CampaignID: "c1", ApplicantID: "a1", Page: domain.TierPremium}
	validForm     = Form{FinanceID: "F-001", Email: "alice@example.com", Name: "Alice"}
)

func TestSubmitValidationMakesNoCall(t *testing.T) {
	tests := []struct {
		name string
		form Form
		want string
	}{
		{name: "empty finance id", form: Form{Email: "alice@example.com", Name: "Alice"}, want: MsgFinanceIDRequired},
		{name: "blank finance id", form: Form{FinanceID: "   ", Email: "alice@example.com", Name: "Alice"}, want: MsgFinanceIDRequired},
		{name: "empty email", form: Form{FinanceID: "F", Name: "Alice"}, want: MsgEmailRequired},
		{name: "empty name", form: Form{FinanceID: "F", Email: "alice@example.com"}, want: MsgNameRequired},
		{name: "malformed email", form: Form{FinanceID: "F", Email: "not-an-email", Name: "Alice"}, want: MsgEmailInvalid},
		{name: "email without dot domain", form: Form{FinanceID: "F", Email: "a@b", Name: "Alice"}, want: MsgEmailInvalid},
		{name: "email with space", form: Form{FinanceID: "F", Email: "a b@c.jp", Name: "Alice"}, want: MsgEmailInvalid},
		{name: "finance id checked first", form: Form{Email: "not-an-email"}, want: MsgFinanceIDRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			voter := &fakeVoter{}
			w, cache, journal := newWorkflow(voter)

			out := w.Submit(context.Background(), "sid", basicTarget, tt.form)

			assert.Equal(t, StateFormOpen, out.State)
			assert.Equal(t, tt.want, out.Message)
			assert.False(t, out.Refresh)
			assert.Equal(t, int32(0), voter.calls.Load())
			assert.Equal(t, 0, cache.Len())
			assert.Empty(t, journal.attempts)
		})
	}
}

func TestSubmitSuccessCachesIdentity(t *testing.T) {
	voter := &fakeVoter{}
	w, cache, journal := newWorkflow(voter)
	ctx := context.Background()

	out := w.Submit(ctx, "sid", basicTarget, Form{FinanceID: " F-001 ", Email: "alice@example.com", Name: "Alice"})

	assert.Equal(t, StateSuccess, out.State)
	assert.Equal(t, MsgThanks, out.Message)
	assert.Equal(t, "v-1", out.VoteID)
	assert.True(t, out.Refresh)

	assert.Equal(t, "F-001", voter.last.FinanceID)
	assert.Equal(t, domain.TierBasic, voter.last.VotePage)
	assert.Nil(t, voter.last.YouTubeOptIn, "opt-in is premium only")

	id, err := cache.Lookup(ctx, "sid")
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, session.Identity{FinanceID: "F-001", Email: "alice@example.com", Name: "Alice"}, *id)

	require.Len(t, journal.attempts, 1)
	assert.Equal(t, domain.OutcomeSuccess, journal.attempts[0].Outcome)
	assert.Equal(t, "a1", journal.attempts[0].ApplicantID)
	assert.NotEmpty(t, journal.attempts[0].ID)
}

func TestOpenPrefillsAfterSuccess(t *testing.T) {
	w, _, _ := newWorkflow(&fakeVoter{})
	ctx := context.Background()

	before := w.Open(ctx, "sid", basicTarget)
	assert.Equal(t, StateFormOpen, before.State)
	assert.Equal(t, Form{}, before.Form)

	require.Equal(t, StateSuccess, w.Submit(ctx, "sid", basicTarget, validForm).State)

	after := w.Open(ctx, "sid", Target{CampaignID: "c1", ApplicantID: "a2", Page: domain.TierBasic})
	assert.Equal(t, validForm, after.Form)

	other := w.Open(ctx, "other-sid", basicTarget)
	assert.Equal(t, Form{}, other.Form)
}

func TestSubmitRejectionShowsBackendMessage(t *testing.T) {
	voter := &fakeVoter{err: &gateway.APIError{Path: "authenticated-vote", Message: "既にこの申請者に投票済みです"}}
	w, cache, journal := newWorkflow(voter)
	ctx := context.Background()

	out := w.Submit(ctx, "sid", basicTarget, validForm)

	assert.Equal(t, StateFailure, out.State)
	assert.Equal(t, "既にこの申請者に投票済みです", out.Message)
	assert.False(t, out.Refresh)

	id, err := cache.Lookup(ctx, "sid")
	require.NoError(t, err)
	assert.NotNil(t, id, "identity kept to save re-entry on retry")

	require.Len(t, journal.attempts, 1)
	assert.Equal(t, domain.OutcomeRejected, journal.attempts[0].Outcome)
}

func TestSubmitTransportFailureIsGeneric(t *testing.T) {
	voter := &fakeVoter{err: &gateway.TransportError{Path: "authenticated-vote", Err: errors.New("dial tcp: refused")}}
	w, _, journal := newWorkflow(voter)

	out := w.Submit(context.Background(), "sid", basicTarget, validForm)

	assert.Equal(t, StateFailure, out.State)
	assert.Equal(t, MsgVoteFailed, out.Message)
	require.Len(t, journal.attempts, 1)
	assert.Equal(t, domain.OutcomeError, journal.attempts[0].Outcome)
}

func TestPremiumForwardsOptIn(t *testing.T) {
	voter := &fakeVoter{}
	w, _, _ := newWorkflow(voter)

	p := w.Open(context.Background(), "sid", premiumTarget)
	assert.True(t, p.AskYouTubeOptIn)

	form := validForm
	form.YouTubeOptIn = true
	w.Submit(context.Background(), "sid", premiumTarget, form)
	require.NotNil(t, voter.last.YouTubeOptIn)
	assert.True(t, *voter.last.YouTubeOptIn)
	assert.Equal(t, domain.TierPremium, voter.last.VotePage)

	w.Submit(context.Background(), "sid", premiumTarget, validForm)
	require.NotNil(t, voter.last.YouTubeOptIn)
	assert.False(t, *voter.last.YouTubeOptIn)
}

func TestBasicIgnoresOptIn(t *testing.T) {
	voter := &fakeVoter{}
	w, _, _ := newWorkflow(voter)

	assert.False(t, w.Open(context.Background(), "sid", basicTarget).AskYouTubeOptIn)

	form := validForm
	form.YouTubeOptIn = true
	w.Submit(context.Background(), "sid", basicTarget, form)
	assert.Nil(t, voter.last.YouTubeOptIn)
}

func TestUnknownPageIsBasic(t *testing.T) {
	voter := &fakeVoter{}
	w, _, _ := newWorkflow(voter)

	w.Submit(context.Background(), "sid", Target{CampaignID: "c1", ApplicantID: "a1", Page: "gold"}, validForm)

	assert.Equal(t, domain.TierBasic, voter.last.VotePage)
}

func TestDoubleSubmitIsCollapsed(t *testing.T) {
	voter := &fakeVoter{release: make(chan struct{})}
	w, _, _ := newWorkflow(voter)

	var wg sync.WaitGroup
	outcomes := make([]Outcome, 2)
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = w.Submit(context.Background(), "sid", basicTarget, validForm)
		}(i)
	}

	require.Eventually(t, func() bool { return voter.calls.Load() == 1 }, time.Second, time.Millisecond)
	// Give the second submission time to join the in-flight call.
	time.Sleep(50 * time.Millisecond)
	close(voter.release)
	wg.Wait()

	assert.Equal(t, int32(1), voter.calls.Load())
	assert.Equal(t, outcomes[0], outcomes[1])
}

func TestCollapsedSubmitSurvivesFirstCallerCancel(t *testing.T) {
	voter := &fakeVoter{release: make(chan struct{})}
	w, _, journal := newWorkflow(voter)

	first, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	outcomes := make([]Outcome, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		outcomes[0] = w.Submit(first, "sid", basicTarget, validForm)
	}()
	require.Eventually(t, func() bool { return voter.calls.Load() == 1 }, time.Second, time.Millisecond)

	wg.Add(1)
	go func() {
		defer wg.Done()
		outcomes[1] = w.Submit(context.Background(), "sid", basicTarget, validForm)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	close(voter.release)
	wg.Wait()

	assert.Equal(t, int32(1), voter.calls.Load())
	assert.Equal(t, StateSuccess, outcomes[0].State)
	assert.Equal(t, StateSuccess, outcomes[1].State)
	journal.mu.Lock()
	defer journal.mu.Unlock()
	require.Len(t, journal.attempts, 1)
	assert.Equal(t, domain.OutcomeSuccess, journal.attempts[0].Outcome)
}

func TestExpiredIdentityIsNotPrefilled(t *testing.T) {
	now := time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)
	cache := session.NewMemoryCacheWithClock(func() time.Time { return now })
	w := New(&fakeVoter{}, cache, nil, nil, slog.New(slog.DiscardHandler))
	ctx := context.Background()

	require.Equal(t, StateSuccess, w.Submit(ctx, "sid", basicTarget, validForm).State)
	now = now.Add(session.TTL + time.Millisecond)

	assert.Equal(t, Form{}, w.Open(ctx, "sid", basicTarget).Form)
}

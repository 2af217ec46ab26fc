package web

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/web3money/portal/internal/domain"
	"github.com/web3money/portal/internal/gateway"
	"github.com/web3money/portal/internal/service"
	"github.com/web3money/portal/internal/voting"
)

// applicantsView is the refreshable applicant list of one campaign.
type applicantsView struct {
	Campaign   domain.Campaign
	Applicants []domain.Applicant
	Page       domain.Tier
	Now        time.Time
	Failed     bool
}

type voteFormView struct {
	Prompt        voting.Prompt
	ApplicantName string
	Action        string
	Message       string
}

type voteResultView struct {
	Success bool
	Message string
}

func pageParam(r *http.Request) domain.Tier {
	page := domain.Tier(strings.TrimSpace(r.FormValue("page")))
	if !page.Valid() {
		return domain.TierBasic
	}
	return page
}

func voteAction(campaignID, applicantID string) string {
	return "/campaigns/" + campaignID + "/applicants/" + applicantID + "/vote"
}

func (s *Server) handleApplicants(w http.ResponseWriter, r *http.Request) {
	view := applicantsView{Page: pageParam(r), Now: time.Now()}

	detail, err := s.service.Campaign(r.Context(), r.PathValue("id"))
	if err != nil {
		s.logger.Error("load applicants failed", "campaign_id", r.PathValue("id"), "error", err)
		view.Failed = true
	} else {
		view.Campaign = detail.Campaign
		view.Applicants = detail.Applicants
	}

	if err := s.renderPartial(w, http.StatusOK, "partials/applicants.html", view); err != nil {
		s.logger.Error("render partial error", "error", err)
	}
}

// allowedPage reports whether the session may vote from page. Premium votes
// need a session verified for the premium tier.
func (s *Server) allowedPage(r *http.Request, page domain.Tier) bool {
	if page != domain.TierPremium {
		return true
	}
	return verifiedFor(flagsOf(s.browserSession(r)), domain.TierPremium)
}

// voteTarget resolves the campaign and applicant named by the request path.
// When it returns false it has already written a 404, 409 or 502 response.
func (s *Server) voteTarget(w http.ResponseWriter, r *http.Request) (*domain.Campaign, *domain.Applicant, bool) {
	campaign, applicant, err := s.service.VoteTarget(r.Context(), r.PathValue("id"), r.PathValue("applicantID"))
	switch {
	case errors.Is(err, service.ErrApplicantNotFound), errors.Is(err, service.ErrCampaignNotFound), gateway.IsRejection(err):
		http.NotFound(w, r)
		return nil, nil, false
	case err != nil:
		s.logger.Error("load vote target failed", "error", err)
		http.Error(w, "failed to load campaign", http.StatusBadGateway)
		return nil, nil, false
	}
	if !campaign.Votable() {
		http.Error(w, "campaign is not accepting votes", http.StatusConflict)
		return nil, nil, false
	}
	return campaign, applicant, true
}

func (s *Server) handleVoteForm(w http.ResponseWriter, r *http.Request) {
	page := pageParam(r)
	if !s.allowedPage(r, page) {
		http.Error(w, "premium access required", http.StatusForbidden)
		return
	}

	campaign, applicant, ok := s.voteTarget(w, r)
	if !ok {
		return
	}

	sess := s.browserSession(r)
	sid, created := sessionID(sess)
	if created {
		s.saveSession(w, r, sess)
	}

	prompt := s.workflow.Open(r.Context(), sid, voting.Target{
		CampaignID:  campaign.ID,
		ApplicantID: applicant.ID,
		Page:        page,
	})
	view := voteFormView{
		Prompt:        prompt,
		ApplicantName: applicant.Name,
		Action:        voteAction(campaign.ID, applicant.ID),
	}
	if err := s.renderPartial(w, http.StatusOK, "partials/vote_form.html", view); err != nil {
		s.logger.Error("render partial error", "error", err)
	}
}

func (s *Server) handleVoteSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	page := pageParam(r)
	if !s.allowedPage(r, page) {
		http.Error(w, "premium access required", http.StatusForbidden)
		return
	}

	campaign, applicant, ok := s.voteTarget(w, r)
	if !ok {
		return
	}

	sess := s.browserSession(r)
	sid, created := sessionID(sess)
	if created {
		s.saveSession(w, r, sess)
	}

	optIn, _ := strconv.ParseBool(r.PostFormValue("youtubeOptIn"))
	target := voting.Target{
		CampaignID:  campaign.ID,
		ApplicantID: applicant.ID,
		Page:        page,
	}
	out := s.workflow.Submit(r.Context(), sid, target, voting.Form{
		FinanceID:    r.PostFormValue("financeId"),
		Email:        r.PostFormValue("email"),
		Name:         r.PostFormValue("name"),
		YouTubeOptIn: optIn,
	})

	if out.State == voting.StateFormOpen {
		view := voteFormView{
			Prompt: voting.Prompt{
				State:           out.State,
				Target:          target,
				Form:            out.Form,
				AskYouTubeOptIn: page == domain.TierPremium,
			},
			ApplicantName: applicant.Name,
			Action:        voteAction(target.CampaignID, target.ApplicantID),
			Message:       out.Message,
		}
		if err := s.renderPartial(w, http.StatusUnprocessableEntity, "partials/vote_form.html", view); err != nil {
			s.logger.Error("render partial error", "error", err)
		}
		return
	}

	if out.Refresh {
		w.Header().Set("HX-Trigger", "applicants-refresh")
	}
	view := voteResultView{Success: out.State == voting.StateSuccess, Message: out.Message}
	if err := s.renderPartial(w, http.StatusOK, "partials/vote_result.html", view); err != nil {
		s.logger.Error("render partial error", "error", err)
	}
}

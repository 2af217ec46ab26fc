package web

import (
	"net/http"
	"time"

	"github.com/gorilla/sessions"

	"github.com/web3money/portal/internal/domain"
	"github.com/web3money/portal/internal/gate"
	"github.com/web3money/portal/internal/service"
)

type relayView struct {
	Decision gate.Decision
	Path     string
	Referrer string
	Seconds  int
}

// portalView backs the aggregator page and both tier pages.
type portalView struct {
	Title   string
	Tab     string
	Notices service.NoticeList
	Board   boardView
}

// boardView is the voting tab of a page; Page is the tier votes are cast
// from.
type boardView struct {
	service.Board
	Page domain.Tier
}

func (b boardView) ApplicantsView() applicantsView {
	v := applicantsView{Page: b.Page, Now: b.Now}
	if b.Selected != nil {
		v.Campaign = b.Selected.Campaign
		v.Applicants = b.Selected.Applicants
	}
	return v
}

var tierTitles = map[domain.Tier]string{
	domain.TierBasic:   "ベーシック会員ページ",
	domain.TierPremium: "プレミアム会員ページ",
}

func (s *Server) handleEntry(w http.ResponseWriter, r *http.Request) {
	if err := s.renderPage(w, http.StatusOK, nil, "base.html", "pages/entry.html"); err != nil {
		s.logger.Error("render page error", "error", err)
	}
}

// evaluate runs the gate for the request path against the session flags.
func (s *Server) evaluate(r *http.Request, sess *sessions.Session) gate.Decision {
	d := s.gate.Evaluate(gate.Check{
		Path:        r.URL.Path,
		Referrer:    r.Referer(),
		Development: s.development,
		Flags:       flagsOf(sess),
	})
	s.metrics.GateDecision(string(d.Kind), d.Granted)
	if !d.Granted {
		s.logger.Info("gate denied",
			"path", r.URL.Path,
			"kind", d.Kind,
			"reason", d.Reason,
			"referrer_host", d.ReferrerHost,
		)
	}
	return d
}

func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	sess := s.browserSession(r)
	d := s.evaluate(r, sess)

	view := relayView{
		Decision: d,
		Path:     r.URL.Path,
		Referrer: r.Referer(),
		Seconds:  int(d.Countdown / time.Second),
	}

	status := http.StatusForbidden
	if d.Granted {
		status = http.StatusOK
		if d.Grant != nil {
			setFlags(sess, *d.Grant)
			s.saveSession(w, r, sess)
		}
	}

	if err := s.renderPage(w, status, view, "base.html", "pages/relay.html"); err != nil {
		s.logger.Error("render page error", "error", err)
	}
}

// handleRelayOverride is the local development control that grants a relay's
// flags without a referrer check.
func (s *Server) handleRelayOverride(w http.ResponseWriter, r *http.Request) {
	if !s.development {
		http.NotFound(w, r)
		return
	}

	var route *gate.RelayRoute
	for _, rr := range s.gate.Config().Relays {
		if rr.Path == r.URL.Path {
			route = &rr
			break
		}
	}
	if route == nil {
		http.NotFound(w, r)
		return
	}

	sess := s.browserSession(r)
	if route.Tier != "" {
		setFlags(sess, gate.Flags{ContractType: string(route.Tier), AccessVerified: gate.VerifiedValue})
		s.saveSession(w, r, sess)
	}
	s.logger.Warn("relay override used", "path", route.Path, "tier", route.Tier)
	http.Redirect(w, r, route.Target, http.StatusSeeOther)
}

func (s *Server) handleMain(w http.ResponseWriter, r *http.Request) {
	sess := s.browserSession(r)
	d := s.evaluate(r, sess)
	if !d.Granted {
		if err := s.renderPage(w, http.StatusForbidden, d, "base.html", "pages/unauthorized.html"); err != nil {
			s.logger.Error("render page error", "error", err)
		}
		return
	}

	s.renderPortal(w, r, "WEB3 MONEY", domain.TierBasic)
}

func (s *Server) handleTierPage(w http.ResponseWriter, r *http.Request) {
	sess := s.browserSession(r)
	d := s.evaluate(r, sess)
	if !d.Granted {
		if d.ClearFlags {
			clearFlags(sess)
			s.saveSession(w, r, sess)
		}
		http.Redirect(w, r, d.Redirect, http.StatusSeeOther)
		return
	}

	tier := domain.TierBasic
	for _, t := range s.gate.Config().Tiers {
		if t.Path == r.URL.Path {
			tier = t.Tier
			break
		}
	}
	s.renderPortal(w, r, tierTitles[tier], tier)
}

func (s *Server) renderPortal(w http.ResponseWriter, r *http.Request, title string, page domain.Tier) {
	ctx := r.Context()
	tab := r.URL.Query().Get("tab")
	if tab != "vote" {
		tab = "notices"
	}

	view := portalView{
		Title:   title,
		Tab:     tab,
		Notices: s.service.Notices(ctx),
		Board: boardView{
			Board: s.service.CampaignBoard(ctx, r.URL.Query().Get("campaign")),
			Page:  page,
		},
	}

	if err := s.renderPage(w, http.StatusOK, view,
		"base.html", "pages/portal.html",
		"partials/notices.html", "partials/board.html", "partials/applicants.html",
	); err != nil {
		s.logger.Error("render page error", "error", err)
	}
}

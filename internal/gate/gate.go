// Package gate decides whether a visitor may see a protected page, based on
// the referrer they arrived with and the tier flags held in their browser
// session.
package gate

import (
	"net/url"
	"strings"
	"time"
)

type Kind string

const (
	KindRelay Kind = "relay"
	KindTier  Kind = "tier"
	KindMain  Kind = "main"
)

type Reason string

const (
	ReasonAllowed          Reason = "allowed"
	ReasonDevelopment      Reason = "development"
	ReasonDevelopmentStage Reason = "development_stage"
	ReasonNoReferrer       Reason = "no_referrer"
	ReasonForeignReferrer  Reason = "foreign_referrer"
	ReasonTierMismatch     Reason = "tier_mismatch"
	ReasonNotVerified      Reason = "not_verified"
	ReasonReferrerRequired Reason = "referrer_required"
	ReasonUnknownRoute     Reason = "unknown_route"
)

const (
	msgNoReferrer      = "リファラー情報が確認できません"
	msgForeignReferrer = "不正なアクセス元からのアクセスです: "
	msgUnauthorized    = "このページへのアクセス権限がありません"
)

// VerifiedValue is the only accessVerified flag value that counts as
// verified.
const VerifiedValue = "true"

// Flags are the gate values kept in the browser session.
type Flags struct {
	ContractType   string
	AccessVerified string
}

type Check struct {
	Path     string
	Referrer string
	// Development is set when running locally; it relaxes referrer checks.
	Development bool
	Flags       Flags
}

type Decision struct {
	Kind    Kind
	Granted bool
	Reason  Reason
	Message string
	// ReferrerHost is the host shown on the rejection view.
	ReferrerHost string
	// Grant holds flags to store on success, nil when nothing changes.
	Grant      *Flags
	ClearFlags bool
	// Redirect is where to send the visitor next: the relay target on
	// success or the entry page after a tier failure.
	Redirect  string
	Countdown time.Duration
	// DevOverride exposes the manual override control on the rejection
	// view.
	DevOverride bool
}

type Gate struct {
	cfg Config
}

func New(cfg Config) *Gate {
	return &Gate{cfg: cfg}
}

func (g *Gate) Config() Config {
	return g.cfg
}

// Evaluate returns the decision for c.Path. It has no side effects; the
// caller applies Grant and ClearFlags to the session.
func (g *Gate) Evaluate(c Check) Decision {
	for _, r := range g.cfg.Relays {
		if r.Path == c.Path {
			return g.relay(r, c)
		}
	}
	for _, t := range g.cfg.Tiers {
		if t.Path == c.Path {
			return g.tier(t, c)
		}
	}
	if g.cfg.Main.Path != "" && g.cfg.Main.Path == c.Path {
		return g.main(c)
	}
	return Decision{Reason: ReasonUnknownRoute, Message: msgUnauthorized}
}

func (g *Gate) relay(r RelayRoute, c Check) Decision {
	d := Decision{Kind: KindRelay, DevOverride: c.Development}

	switch {
	case c.Development:
		d.Granted, d.Reason = true, ReasonDevelopment
	case strings.TrimSpace(c.Referrer) == "":
		d.Reason, d.Message = ReasonNoReferrer, msgNoReferrer
		return d
	case containsAny(c.Referrer, r.AllowList):
		d.Granted, d.Reason = true, ReasonAllowed
	default:
		d.ReferrerHost = referrerHost(c.Referrer)
		d.Reason, d.Message = ReasonForeignReferrer, msgForeignReferrer+d.ReferrerHost
		return d
	}

	d.Redirect = r.Target
	d.Countdown = g.cfg.Countdown
	if r.Tier != "" {
		d.Grant = &Flags{ContractType: string(r.Tier), AccessVerified: VerifiedValue}
	}
	return d
}

func (g *Gate) tier(t TierRoute, c Check) Decision {
	d := Decision{Kind: KindTier}

	switch {
	case c.Flags.ContractType != string(t.Tier):
		d.Reason = ReasonTierMismatch
	case c.Flags.AccessVerified != VerifiedValue:
		d.Reason = ReasonNotVerified
	case t.RequiredReferrer != "" && !c.Development && !strings.Contains(c.Referrer, t.RequiredReferrer):
		d.Reason = ReasonReferrerRequired
	default:
		d.Granted, d.Reason = true, ReasonAllowed
		return d
	}

	d.Message = msgUnauthorized
	d.ClearFlags = true
	d.Redirect = g.cfg.EntryPath
	return d
}

func (g *Gate) main(c Check) Decision {
	d := Decision{Kind: KindMain}

	switch {
	case g.cfg.Main.DevelopmentStage:
		d.Granted, d.Reason = true, ReasonDevelopmentStage
	case c.Development:
		d.Granted, d.Reason = true, ReasonDevelopment
	case strings.TrimSpace(c.Referrer) == "":
		d.Reason, d.Message = ReasonNoReferrer, msgNoReferrer
	case containsAny(c.Referrer, g.cfg.Main.AllowList):
		d.Granted, d.Reason = true, ReasonAllowed
	default:
		d.ReferrerHost = referrerHost(c.Referrer)
		d.Reason, d.Message = ReasonForeignReferrer, msgUnauthorized
	}
	return d
}

// containsAny is a case-insensitive substring match against the allow-list.
func containsAny(referrer string, allow []string) bool {
	ref := strings.ToLower(referrer)
	for _, a := range allow {
		if a != "" && strings.Contains(ref, strings.ToLower(a)) {
			return true
		}
	}
	return false
}

func referrerHost(referrer string) string {
	u, err := url.Parse(referrer)
	if err != nil || u.Hostname() == "" {
		return referrer
	}
	return u.Hostname()
}

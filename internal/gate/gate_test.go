package gate

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3money/portal/internal/domain"
)

func TestRelayGate(t *testing.T) {
	g := New(DefaultConfig())

	tests := []struct {
		name     string
		check    Check
		granted  bool
		reason   Reason
		message  string
		redirect string
	}{
		{
			name:     "allow-listed referrer",
			check:    Check{Path: "/relay", Referrer: "https://www.xmobile.ne.jp/mypage/top"},
			granted:  true,
			reason:   ReasonAllowed,
			redirect: "/main",
		},
		{
			name:     "allow-list is case-insensitive",
			check:    Check{Path: "/relay", Referrer: "HTTPS://XMOBILE.NE.JP/Customer/info"},
			granted:  true,
			reason:   ReasonAllowed,
			redirect: "/main",
		},
		{
			name:    "empty referrer outside development",
			check:   Check{Path: "/relay"},
			reason:  ReasonNoReferrer,
			message: "リファラー情報が確認できません",
		},
		{
			name:    "foreign referrer shows hostname",
			check:   Check{Path: "/relay", Referrer: "https://evil.example.com/xmobile"},
			reason:  ReasonForeignReferrer,
			message: "不正なアクセス元からのアクセスです: evil.example.com",
		},
		{
			name:    "localhost is not trusted in production",
			check:   Check{Path: "/relay", Referrer: "http://localhost:3000/"},
			reason:  ReasonForeignReferrer,
			message: "不正なアクセス元からのアクセスです: localhost",
		},
		{
			name:     "development accepts anything",
			check:    Check{Path: "/relay", Development: true},
			granted:  true,
			reason:   ReasonDevelopment,
			redirect: "/main",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := g.Evaluate(tt.check)

			assert.Equal(t, KindRelay, d.Kind)
			assert.Equal(t, tt.granted, d.Granted)
			assert.Equal(t, tt.reason, d.Reason)
			assert.Equal(t, tt.message, d.Message)
			assert.Equal(t, tt.redirect, d.Redirect)
			assert.False(t, d.ClearFlags)
			if tt.granted {
				assert.Equal(t, 3*time.Second, d.Countdown)
			}
		})
	}
}

func TestRelayGrantsTierFlags(t *testing.T) {
	g := New(DefaultConfig())

	d := g.Evaluate(Check{Path: "/relay-premium", Referrer: "https://xmobile.ne.jp/thanks/"})

	require.True(t, d.Granted)
	require.NotNil(t, d.Grant)
	assert.Equal(t, Flags{ContractType: "premium", AccessVerified: "true"}, *d.Grant)
	assert.Equal(t, "/main-premium", d.Redirect)

	plain := g.Evaluate(Check{Path: "/relay", Referrer: "https://xmobile.ne.jp/thanks/"})
	assert.Nil(t, plain.Grant)

	denied := g.Evaluate(Check{Path: "/relay-basic"})
	assert.False(t, denied.Granted)
	assert.Nil(t, denied.Grant)
}

func TestRelayDevOverrideOnlyInDevelopment(t *testing.T) {
	g := New(DefaultConfig())

	assert.False(t, g.Evaluate(Check{Path: "/relay"}).DevOverride)
	assert.True(t, g.Evaluate(Check{Path: "/relay", Development: true}).DevOverride)
}

func TestTierGate(t *testing.T) {
	g := New(DefaultConfig())
	verifiedBasic := Flags{ContractType: "basic", AccessVerified: "true"}

	tests := []struct {
		name    string
		check   Check
		granted bool
		reason  Reason
	}{
		{name: "matching tier and verified", check: Check{Path: "/main-basic", Flags: verifiedBasic}, granted: true, reason: ReasonAllowed},
		{name: "no flags", check: Check{Path: "/main-basic"}, reason: ReasonTierMismatch},
		{name: "wrong tier", check: Check{Path: "/main-basic", Flags: Flags{ContractType: "premium", AccessVerified: "true"}}, reason: ReasonTierMismatch},
		{name: "verified missing", check: Check{Path: "/main-basic", Flags: Flags{ContractType: "basic"}}, reason: ReasonNotVerified},
		{name: "verified must be literal true", check: Check{Path: "/main-basic", Flags: Flags{ContractType: "basic", AccessVerified: "TRUE"}}, reason: ReasonNotVerified},
		{name: "verified yes is not true", check: Check{Path: "/main-basic", Flags: Flags{ContractType: "basic", AccessVerified: "1"}}, reason: ReasonNotVerified},
		{
			name:    "premium needs premium relay referrer",
			check:   Check{Path: "/main-premium", Referrer: "https://portal.example/relay-basic", Flags: Flags{ContractType: "premium", AccessVerified: "true"}},
			reason:  ReasonReferrerRequired,
			granted: false,
		},
		{
			name:    "premium via premium relay",
			check:   Check{Path: "/main-premium", Referrer: "https://portal.example/relay-premium", Flags: Flags{ContractType: "premium", AccessVerified: "true"}},
			granted: true,
			reason:  ReasonAllowed,
		},
		{
			name:    "premium in development skips referrer",
			check:   Check{Path: "/main-premium", Development: true, Flags: Flags{ContractType: "premium", AccessVerified: "true"}},
			granted: true,
			reason:  ReasonAllowed,
		},
		{
			name:   "development does not bypass flags",
			check:  Check{Path: "/main-premium", Development: true},
			reason: ReasonTierMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := g.Evaluate(tt.check)

			assert.Equal(t, KindTier, d.Kind)
			assert.Equal(t, tt.granted, d.Granted)
			assert.Equal(t, tt.reason, d.Reason)
			if tt.granted {
				assert.False(t, d.ClearFlags)
				assert.Empty(t, d.Redirect)
			} else {
				assert.True(t, d.ClearFlags, "any failure clears all flags")
				assert.Equal(t, "/", d.Redirect)
			}
		})
	}
}

func TestMainGate(t *testing.T) {
	tests := []struct {
		name    string
		stage   bool
		check   Check
		granted bool
		reason  Reason
	}{
		{name: "from relay", check: Check{Path: "/main", Referrer: "https://portal.example/relay"}, granted: true, reason: ReasonAllowed},
		{name: "from localhost", check: Check{Path: "/main", Referrer: "http://localhost:8080/"}, granted: true, reason: ReasonAllowed},
		{name: "no referrer", check: Check{Path: "/main"}, reason: ReasonNoReferrer},
		{name: "foreign referrer", check: Check{Path: "/main", Referrer: "https://google.com/"}, reason: ReasonForeignReferrer},
		{name: "development stage bypass", stage: true, check: Check{Path: "/main"}, granted: true, reason: ReasonDevelopmentStage},
		{name: "development context", check: Check{Path: "/main", Development: true}, granted: true, reason: ReasonDevelopment},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Main.DevelopmentStage = tt.stage

			d := New(cfg).Evaluate(tt.check)

			assert.Equal(t, KindMain, d.Kind)
			assert.Equal(t, tt.granted, d.Granted)
			assert.Equal(t, tt.reason, d.Reason)
			assert.Empty(t, d.Redirect, "main page never redirects")
			assert.False(t, d.ClearFlags)
		})
	}
}

func TestUnknownRouteDenied(t *testing.T) {
	d := New(DefaultConfig()).Evaluate(Check{Path: "/admin", Development: true})

	assert.False(t, d.Granted)
	assert.Equal(t, ReasonUnknownRoute, d.Reason)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
countdown: 5s
relays:
  - path: /relay-premium
    tier: premium
    target: /main-premium
    allow_list: ["partner.example.com/members/"]
main:
  path: /main
  allow_list: ["/relay"]
  development_stage: true
`), 0o600))

	cfg, err := LoadConfig(path)

	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Countdown)
	assert.Equal(t, "/", cfg.EntryPath)
	require.Len(t, cfg.Relays, 1)
	assert.Equal(t, domain.TierPremium, cfg.Relays[0].Tier)
	assert.Equal(t, []string{"partner.example.com/members/"}, cfg.Relays[0].AllowList)
	assert.Len(t, cfg.Tiers, 2, "tiers keep defaults when absent")
	assert.True(t, cfg.Main.DevelopmentStage)

	d := New(cfg).Evaluate(Check{Path: "/relay-premium", Referrer: "https://partner.example.com/members/1"})
	assert.True(t, d.Granted)
	assert.Equal(t, 5*time.Second, d.Countdown)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("tiers:\n  - path: /x\n    tier: gold\n"), 0o600))
	_, err = LoadConfig(bad)
	assert.Error(t, err)
}

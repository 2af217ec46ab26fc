package gate

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/web3money/portal/internal/domain"
)

// RelayRoute checks where the visitor came from and, on success, forwards
// them to Target after a countdown. A non-empty Tier is granted as the
// session's contract tier.
type RelayRoute struct {
	Path      string      `yaml:"path"`
	Tier      domain.Tier `yaml:"tier,omitempty"`
	Target    string      `yaml:"target"`
	AllowList []string    `yaml:"allow_list"`
}

// TierRoute admits only sessions verified for Tier. RequiredReferrer, when
// set, must also appear in the referrer.
type TierRoute struct {
	Path             string      `yaml:"path"`
	Tier             domain.Tier `yaml:"tier"`
	RequiredReferrer string      `yaml:"required_referrer,omitempty"`
}

type MainRoute struct {
	Path      string   `yaml:"path"`
	AllowList []string `yaml:"allow_list"`
	// DevelopmentStage opens the page to everyone. It is a deployment switch
	// and stays off in normal operation.
	DevelopmentStage bool `yaml:"development_stage"`
}

type Config struct {
	EntryPath string        `yaml:"entry_path"`
	Countdown time.Duration `yaml:"countdown"`
	Relays    []RelayRoute  `yaml:"relays"`
	Tiers     []TierRoute   `yaml:"tiers"`
	Main      MainRoute     `yaml:"main"`
}

var upstreamPortal = []string{
	"xmobile.ne.jp/customer/",
	"xmobile.ne.jp/thanks/",
	"xmobile.ne.jp/mypage/",
}

func DefaultConfig() Config {
	return Config{
		EntryPath: "/",
		Countdown: 3 * time.Second,
		Relays: []RelayRoute{
			{Path: "/relay", Target: "/main", AllowList: upstreamPortal},
			{Path: "/relay-basic", Tier: domain.TierBasic, Target: "/main-basic", AllowList: upstreamPortal},
			{Path: "/relay-premium", Tier: domain.TierPremium, Target: "/main-premium", AllowList: upstreamPortal},
		},
		Tiers: []TierRoute{
			{Path: "/main-basic", Tier: domain.TierBasic},
			{Path: "/main-premium", Tier: domain.TierPremium, RequiredReferrer: "/relay-premium"},
		},
		Main: MainRoute{
			Path:      "/main",
			AllowList: []string{"/relay", "localhost", "127.0.0.1"},
		},
	}
}

// LoadConfig reads gate rules from a YAML file. Fields missing from the file
// keep their default values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read gate config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse gate config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	for _, r := range c.Relays {
		if r.Path == "" || r.Target == "" {
			return fmt.Errorf("relay route needs path and target: %+v", r)
		}
		if r.Tier != "" && !r.Tier.Valid() {
			return fmt.Errorf("relay route %s: unknown tier %q", r.Path, r.Tier)
		}
	}
	for _, t := range c.Tiers {
		if t.Path == "" || !t.Tier.Valid() {
			return fmt.Errorf("tier route needs path and a known tier: %+v", t)
		}
	}
	if c.Countdown < 0 {
		return fmt.Errorf("countdown must not be negative")
	}
	return nil
}

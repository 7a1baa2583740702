package moderation

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/scoopsocials/scoop-trust/internal/trust"
	"gopkg.in/yaml.v3"
)

// MinExplanationLength is the trimmed rune count a moderator explanation
// must reach.
const MinExplanationLength = 10

// Policy holds the tunable consequences of moderation outcomes.
type Policy struct {
	// ApprovedFlagComponent loses ApprovedFlagPenalty component points on the
	// flagged user when a flag is approved.
	ApprovedFlagComponent trust.Component
	ApprovedFlagPenalty   float64

	// AccurateFlagReward is added to the flagger's ValidationAccuracy when a
	// flag is approved.
	AccurateFlagReward float64

	// FalseFlagPenalties are visible-score points taken from the flagger on
	// the 1st, 2nd, ... denied flag. The last entry repeats.
	FalseFlagPenalties []float64
	// FalseFlagOrder lists the components a false-flag penalty is drawn
	// from, spilling over when one reaches 0.
	FalseFlagOrder []trust.Component

	// NeedInfoExpiry is how long a flag may wait in NEED_INFO before the
	// expiry sweep denies it. Zero disables the sweep.
	NeedInfoExpiry time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		ApprovedFlagComponent: trust.SocialMediaVerification,
		ApprovedFlagPenalty:   25,
		AccurateFlagReward:    5,
		FalseFlagPenalties:    []float64{5, 10, 15},
		FalseFlagOrder: []trust.Component{
			trust.ValidationAccuracy,
			trust.CommunityNetwork,
			trust.SocialMediaVerification,
		},
	}
}

// FalseFlagPenalty returns the score penalty for the n-th false flag (1-based).
func (p Policy) FalseFlagPenalty(n int) float64 {
	if len(p.FalseFlagPenalties) == 0 || n < 1 {
		return 0
	}
	if n > len(p.FalseFlagPenalties) {
		return p.FalseFlagPenalties[len(p.FalseFlagPenalties)-1]
	}
	return p.FalseFlagPenalties[n-1]
}

func (p Policy) Validate() error {
	if !p.ApprovedFlagComponent.Valid() {
		return fmt.Errorf("unknown approved flag component %q", p.ApprovedFlagComponent)
	}
	if p.ApprovedFlagPenalty < 0 || p.AccurateFlagReward < 0 {
		return errors.New("penalties and rewards must not be negative")
	}
	if len(p.FalseFlagPenalties) == 0 {
		return errors.New("false flag penalty ladder is empty")
	}
	for i, v := range p.FalseFlagPenalties {
		if v < 0 {
			return fmt.Errorf("false flag penalty %d is negative", i+1)
		}
		if i > 0 && v < p.FalseFlagPenalties[i-1] {
			return fmt.Errorf("false flag penalty %d is lower than the previous one", i+1)
		}
	}
	if len(p.FalseFlagOrder) == 0 {
		return errors.New("false flag component order is empty")
	}
	for _, c := range p.FalseFlagOrder {
		if !c.Valid() {
			return fmt.Errorf("unknown false flag component %q", c)
		}
	}
	if p.NeedInfoExpiry < 0 {
		return errors.New("need-info expiry must not be negative")
	}
	return nil
}

type policyFile struct {
	ApprovedFlag struct {
		Component string   `yaml:"component"`
		Penalty   *float64 `yaml:"penalty"`
	} `yaml:"approved_flag"`
	AccurateFlagReward *float64 `yaml:"accurate_flag_reward"`
	FalseFlag          struct {
		Penalties  []float64 `yaml:"penalties"`
		Components []string  `yaml:"components"`
	} `yaml:"false_flag"`
	NeedInfoExpiry string `yaml:"need_info_expiry"`
}

// LoadPolicyFile overlays the YAML policy at path onto DefaultPolicy.
// Fields missing from the file keep their defaults.
func LoadPolicyFile(path string) (Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy file: %w", err)
	}
	return ParsePolicy(raw)
}

// ParsePolicy overlays a YAML policy document onto DefaultPolicy.
func ParsePolicy(raw []byte) (Policy, error) {
	p := DefaultPolicy()

	var f policyFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return Policy{}, fmt.Errorf("parse policy file: %w", err)
	}
	if f.ApprovedFlag.Component != "" {
		p.ApprovedFlagComponent = trust.Component(f.ApprovedFlag.Component)
	}
	if f.ApprovedFlag.Penalty != nil {
		p.ApprovedFlagPenalty = *f.ApprovedFlag.Penalty
	}
	if f.AccurateFlagReward != nil {
		p.AccurateFlagReward = *f.AccurateFlagReward
	}
	if len(f.FalseFlag.Penalties) > 0 {
		p.FalseFlagPenalties = f.FalseFlag.Penalties
	}
	if len(f.FalseFlag.Components) > 0 {
		p.FalseFlagOrder = make([]trust.Component, 0, len(f.FalseFlag.Components))
		for _, c := range f.FalseFlag.Components {
			p.FalseFlagOrder = append(p.FalseFlagOrder, trust.Component(c))
		}
	}
	if f.NeedInfoExpiry != "" {
		d, err := time.ParseDuration(f.NeedInfoExpiry)
		if err != nil {
			return Policy{}, fmt.Errorf("parse need_info_expiry: %w", err)
		}
		p.NeedInfoExpiry = d
	}

	if err := p.Validate(); err != nil {
		return Policy{}, fmt.Errorf("invalid policy: %w", err)
	}
	return p, nil
}

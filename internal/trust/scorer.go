package trust

import "math"

// Component names one of the eight behavioral signals behind a trust score.
type Component string

const (
	SocialMediaVerification Component = "social_media_verification"
	CommunityNetwork        Component = "community_network"
	PlatformActivity        Component = "platform_activity"
	ContentQuality          Component = "content_quality"
	TimeInvestment          Component = "time_investment"
	CommentEngagement       Component = "comment_engagement"
	EventParticipation      Component = "event_participation"
	ValidationAccuracy      Component = "validation_accuracy"
)

const (
	MinValue = 0.0
	MaxValue = 100.0
)

// AllComponents lists every component in weight order.
var AllComponents = []Component{
	SocialMediaVerification,
	CommunityNetwork,
	PlatformActivity,
	ContentQuality,
	TimeInvestment,
	CommentEngagement,
	EventParticipation,
	ValidationAccuracy,
}

// Weights are kept in whole percent so the weighted sum of integral
// components is exact before rounding.
var weightPercent = map[Component]int{
	SocialMediaVerification: 20,
	CommunityNetwork:        20,
	PlatformActivity:        15,
	ContentQuality:          15,
	TimeInvestment:          10,
	CommentEngagement:       10,
	EventParticipation:      5,
	ValidationAccuracy:      5,
}

// Weight returns the share of the score contributed by a component.
func Weight(c Component) float64 {
	return float64(weightPercent[c]) / 100
}

// Valid reports whether c is one of the eight known components.
func (c Component) Valid() bool {
	_, ok := weightPercent[c]
	return ok
}

// Components holds the raw signal values of a user, each in [0,100].
type Components struct {
	SocialMediaVerification float64 `json:"social_media_verification"`
	CommunityNetwork        float64 `json:"community_network"`
	PlatformActivity        float64 `json:"platform_activity"`
	ContentQuality          float64 `json:"content_quality"`
	TimeInvestment          float64 `json:"time_investment"`
	CommentEngagement       float64 `json:"comment_engagement"`
	EventParticipation      float64 `json:"event_participation"`
	ValidationAccuracy      float64 `json:"validation_accuracy"`
}

// DefaultComponents returns the starting signals of a newly onboarded user.
// They are deliberately non-zero so a fresh account does not start at 0.
func DefaultComponents() Components {
	return Components{
		SocialMediaVerification: 0,
		CommunityNetwork:        25,
		PlatformActivity:        10,
		ContentQuality:          50,
		TimeInvestment:          5,
		CommentEngagement:       30,
		EventParticipation:      0,
		ValidationAccuracy:      50,
	}
}

// Get returns the value of a single component. Unknown names return 0.
func (c Components) Get(name Component) float64 {
	switch name {
	case SocialMediaVerification:
		return c.SocialMediaVerification
	case CommunityNetwork:
		return c.CommunityNetwork
	case PlatformActivity:
		return c.PlatformActivity
	case ContentQuality:
		return c.ContentQuality
	case TimeInvestment:
		return c.TimeInvestment
	case CommentEngagement:
		return c.CommentEngagement
	case EventParticipation:
		return c.EventParticipation
	case ValidationAccuracy:
		return c.ValidationAccuracy
	default:
		return 0
	}
}

// Set returns a copy with one component replaced, clamped to [0,100].
func (c Components) Set(name Component, value float64) Components {
	v := clamp(value)
	switch name {
	case SocialMediaVerification:
		c.SocialMediaVerification = v
	case CommunityNetwork:
		c.CommunityNetwork = v
	case PlatformActivity:
		c.PlatformActivity = v
	case ContentQuality:
		c.ContentQuality = v
	case TimeInvestment:
		c.TimeInvestment = v
	case CommentEngagement:
		c.CommentEngagement = v
	case EventParticipation:
		c.EventParticipation = v
	case ValidationAccuracy:
		c.ValidationAccuracy = v
	}
	return c
}

// Adjust moves one component by delta and clamps the result.
func (c Components) Adjust(name Component, delta float64) Components {
	return c.Set(name, c.Get(name)+delta)
}

// Clamped returns a copy with every component forced into [0,100].
func (c Components) Clamped() Components {
	for _, name := range AllComponents {
		c = c.Set(name, c.Get(name))
	}
	return c
}

// ComputeScore derives the visible trust score from the components.
//
// Formula: score = round_half_up(sum(component_i x weight_i)), clamped to [0,100].
// Out-of-range components are clamped before weighting.
func ComputeScore(c Components) int {
	var total float64
	for _, name := range AllComponents {
		total += clamp(c.Get(name)) * float64(weightPercent[name])
	}
	// total is in percent-points; (total+50)/100 floored is round half up.
	return clampScore(int(math.Floor((total + 50) / 100)))
}

// ComponentDelta converts a change of the visible score into the change of
// a single component that would produce it.
func ComponentDelta(name Component, scoreDelta float64) float64 {
	w := Weight(name)
	if w == 0 {
		return 0
	}
	return scoreDelta / w
}

// ApplyScorePenalty lowers the weighted score by roughly points, taking the
// reduction from the components in order. When a component bottoms out at 0
// the remaining penalty spills into the next one.
func ApplyScorePenalty(c Components, points float64, order []Component) Components {
	remaining := points
	for _, name := range order {
		if remaining <= 0 {
			break
		}
		w := Weight(name)
		if w == 0 {
			continue
		}
		current := c.Get(name)
		need := ComponentDelta(name, remaining)
		if need <= current {
			c = c.Set(name, current-need)
			remaining = 0
			break
		}
		c = c.Set(name, 0)
		remaining -= current * w
	}
	return c
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < MinValue {
		return MinValue
	}
	if v > MaxValue {
		return MaxValue
	}
	return v
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

package tiers

import "github.com/exampapers/ExamPrepBusiness/internal/models"

// AccessRule selects how paper access is decided for a tier.
type AccessRule int

const (
	// AccessRuleRecentWindow limits access to the most recently touched papers.
	AccessRuleRecentWindow AccessRule = iota
	// AccessRuleSelection limits access to the selected grade and subjects.
	AccessRuleSelection
	// AccessRuleUnrestricted grants access to every paper.
	AccessRuleUnrestricted
)

// String returns the rule name used in API responses.
func (r AccessRule) String() string {
	switch r {
	case AccessRuleSelection:
		return "selection"
	case AccessRuleUnrestricted:
		return "unrestricted"
	default:
		return "recent_window"
	}
}

// Capabilities is the behaviour a tier grants, derived from its columns.
type Capabilities struct {
	TierID            uint64
	AccessRule        AccessRule
	WindowSize        int
	CanSelectGrade    bool
	CanSelectSubjects bool
	MaxSubjects       int
	TokenLimit        int64
}

// CapabilitiesOf derives capabilities from a tier row. defaultWindow applies when
// a windowed tier leaves papers_limit at zero.
func CapabilitiesOf(tier *models.SubscriptionTier, defaultWindow int) Capabilities {
	if tier == nil {
		return Capabilities{AccessRule: AccessRuleRecentWindow, WindowSize: defaultWindow}
	}
	caps := Capabilities{
		TierID:            tier.ID,
		CanSelectGrade:    tier.CanSelectGrade,
		CanSelectSubjects: tier.CanSelectSubjects,
		MaxSubjects:       tier.MaxSubjects,
		TokenLimit:        tier.TokenLimit,
	}
	switch {
	case tier.CanSelectGrade || tier.CanSelectSubjects:
		caps.AccessRule = AccessRuleSelection
	case tier.PapersLimit < 0:
		caps.AccessRule = AccessRuleUnrestricted
	default:
		caps.AccessRule = AccessRuleRecentWindow
		caps.WindowSize = tier.PapersLimit
		if caps.WindowSize == 0 {
			caps.WindowSize = defaultWindow
		}
	}
	return caps
}

// UnlimitedTokens reports whether the tier has no token cap.
func (c Capabilities) UnlimitedTokens() bool {
	return c.TokenLimit < 0
}

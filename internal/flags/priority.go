package flags

import (
	"cmp"
	"slices"
)

// CategoryWeight returns the base priority contribution of a category.
// Identity-level misrepresentation weighs most; unknown categories count as 1.
func CategoryWeight(c Category) int {
	switch c {
	case CategoryAccountNotOwned, CategoryFakeAccount, CategoryImpersonation:
		return 3
	case CategoryMisleadingProfessional, CategoryHarassment:
		return 2
	case CategoryInappropriateContent, CategorySpam, CategoryAccountNotConnected:
		return 1
	default:
		return 1
	}
}

// FlaggerCredibility rewards flags from high-trust users.
func FlaggerCredibility(score int) int {
	switch {
	case score >= 90:
		return 2
	case score >= 70:
		return 1
	case score < 50:
		return -1
	default:
		return 0
	}
}

// FlaggedCredibility is the inverse signal: a high-trust target makes a
// false flag more likely, a low-trust target makes the flag more pressing.
func FlaggedCredibility(score int) int {
	switch {
	case score >= 90:
		return -1
	case score < 50:
		return 1
	default:
		return 0
	}
}

// EvidenceQuality scores the length of the supplied evidence.
func EvidenceQuality(evidenceLen int) int {
	switch {
	case evidenceLen > 200:
		return 1
	case evidenceLen < 50:
		return -1
	default:
		return 0
	}
}

// PriorityScore sums the four priority signals.
func PriorityScore(category Category, flaggerScore, flaggedScore, evidenceLen int) int {
	return CategoryWeight(category) +
		FlaggerCredibility(flaggerScore) +
		FlaggedCredibility(flaggedScore) +
		EvidenceQuality(evidenceLen)
}

// ClassifyPriority maps a flag to its moderator queue tier.
func ClassifyPriority(category Category, flaggerScore, flaggedScore, evidenceLen int) Priority {
	score := PriorityScore(category, flaggerScore, flaggedScore, evidenceLen)
	switch {
	case score >= 5:
		return PriorityUrgent
	case score >= 3:
		return PriorityHigh
	case score >= 1:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// SortQueue orders flags for review: most urgent first, then oldest first.
func SortQueue(queue []Flag) {
	slices.SortStableFunc(queue, func(a, b Flag) int {
		if c := cmp.Compare(b.Priority.Rank(), a.Priority.Rank()); c != 0 {
			return c
		}
		return a.SubmittedAt.Compare(b.SubmittedAt)
	})
}

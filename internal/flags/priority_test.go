package flags

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestCategoryWeight(t *testing.T) {
	tests := []struct {
		category Category
		want     int
	}{
		{CategoryAccountNotOwned, 3},
		{CategoryFakeAccount, 3},
		{CategoryImpersonation, 3},
		{CategoryMisleadingProfessional, 2},
		{CategoryHarassment, 2},
		{CategoryInappropriateContent, 1},
		{CategorySpam, 1},
		{CategoryAccountNotConnected, 1},
		{Category("BANANA"), 1},
		{Category(""), 1},
	}

	for _, tt := range tests {
		t.Run(string(tt.category), func(t *testing.T) {
			if got := CategoryWeight(tt.category); got != tt.want {
				t.Errorf("CategoryWeight(%q) = %d, want %d", tt.category, got, tt.want)
			}
		})
	}
}

func TestFlaggerCredibility(t *testing.T) {
	tests := []struct {
		score int
		want  int
	}{
		{100, 2}, {90, 2}, {89, 1}, {70, 1}, {69, 0}, {50, 0}, {49, -1}, {0, -1},
	}
	for _, tt := range tests {
		if got := FlaggerCredibility(tt.score); got != tt.want {
			t.Errorf("FlaggerCredibility(%d) = %d, want %d", tt.score, got, tt.want)
		}
	}
}

func TestFlaggedCredibility(t *testing.T) {
	tests := []struct {
		score int
		want  int
	}{
		{100, -1}, {90, -1}, {89, 0}, {50, 0}, {49, 1}, {0, 1},
	}
	for _, tt := range tests {
		if got := FlaggedCredibility(tt.score); got != tt.want {
			t.Errorf("FlaggedCredibility(%d) = %d, want %d", tt.score, got, tt.want)
		}
	}
}

func TestEvidenceQuality(t *testing.T) {
	tests := []struct {
		length int
		want   int
	}{
		{0, -1}, {49, -1}, {50, 0}, {200, 0}, {201, 1}, {1000, 1},
	}
	for _, tt := range tests {
		if got := EvidenceQuality(tt.length); got != tt.want {
			t.Errorf("EvidenceQuality(%d) = %d, want %d", tt.length, got, tt.want)
		}
	}
}

func TestClassifyPriority(t *testing.T) {
	tests := []struct {
		name         string
		category     Category
		flaggerScore int
		flaggedScore int
		evidenceLen  int
		wantScore    int
		want         Priority
	}{
		// 3 + 2 + 1 + 1
		{"trusted flagger, fake account, long evidence", CategoryFakeAccount, 95, 40, 250, 7, PriorityUrgent},
		// 1 + 0 - 1 - 1
		{"spam against trusted user, short evidence", CategorySpam, 55, 95, 30, -1, PriorityLow},
		// 3 + 1 + 0 + 0
		{"impersonation by solid flagger", CategoryImpersonation, 75, 60, 100, 4, PriorityHigh},
		// 2 + 1 + 0 + 0
		{"harassment boundary high", CategoryHarassment, 70, 60, 100, 3, PriorityHigh},
		// 2 + 0 + 0 + 0
		{"harassment medium", CategoryHarassment, 60, 60, 100, 2, PriorityMedium},
		// 1 + 0 + 0 + 0
		{"connected check medium", CategoryAccountNotConnected, 60, 60, 120, 1, PriorityMedium},
		// 1 - 1 + 0 + 0
		{"low trust flagger spam", CategorySpam, 30, 60, 120, 0, PriorityLow},
		// 3 + 2 + 0 + 0
		{"urgent boundary", CategoryAccountNotOwned, 92, 70, 60, 5, PriorityUrgent},
		// 1 + 2 + 1 + 1
		{"unknown category defaults to 1", Category("OTHER"), 90, 10, 300, 5, PriorityUrgent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PriorityScore(tt.category, tt.flaggerScore, tt.flaggedScore, tt.evidenceLen); got != tt.wantScore {
				t.Errorf("PriorityScore = %d, want %d", got, tt.wantScore)
			}
			if got := ClassifyPriority(tt.category, tt.flaggerScore, tt.flaggedScore, tt.evidenceLen); got != tt.want {
				t.Errorf("ClassifyPriority = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestPriorityRank(t *testing.T) {
	if !(PriorityUrgent.Rank() > PriorityHigh.Rank() &&
		PriorityHigh.Rank() > PriorityMedium.Rank() &&
		PriorityMedium.Rank() > PriorityLow.Rank()) {
		t.Error("priority ranks are not strictly ordered")
	}
}

func TestSortQueue(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mk := func(p Priority, minutes int) Flag {
		return Flag{ID: uuid.New(), Priority: p, SubmittedAt: base.Add(time.Duration(minutes) * time.Minute)}
	}

	oldHigh := mk(PriorityHigh, 0)
	newUrgent := mk(PriorityUrgent, 30)
	low := mk(PriorityLow, -60)
	newHigh := mk(PriorityHigh, 10)
	oldUrgent := mk(PriorityUrgent, 5)

	queue := []Flag{oldHigh, newUrgent, low, newHigh, oldUrgent}
	SortQueue(queue)

	want := []uuid.UUID{oldUrgent.ID, newUrgent.ID, oldHigh.ID, newHigh.ID, low.ID}
	for i, id := range want {
		if queue[i].ID != id {
			t.Fatalf("position %d: got %s (%s), want %s", i, queue[i].Priority, queue[i].ID, id)
		}
	}
}

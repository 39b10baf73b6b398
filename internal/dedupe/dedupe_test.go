package dedupe

import (
	"testing"

	"github.com/obsidian-gcal/syncengine/internal/model"
)

func eventOn(taskID, summary, date string) model.RemoteEvent {
	return model.RemoteEvent{
		Summary: summary,
		Start:   model.EventDateOrTime{Date: date},
		Private: map[string]string{model.PrivateKeyObsidianTaskID: taskID},
	}
}

func TestFindSkipsSameTaskID(t *testing.T) {
	events := []model.RemoteEvent{
		eventOn("t1", "Write report", "2026-08-01"),
		eventOn("t1", "Write report", "2026-08-01"),
	}
	pairs := Find(events, 50)
	if len(pairs) != 0 {
		t.Fatalf("expected no pairs for events sharing a task id, got %+v", pairs)
	}
}

func TestFindExactSameDaySummaryScoresMax(t *testing.T) {
	events := []model.RemoteEvent{
		eventOn("t1", "Write quarterly report", "2026-08-01"),
		eventOn("t2", "Write quarterly report", "2026-08-01"),
	}
	pairs := Find(events, 50)
	if len(pairs) != 1 {
		t.Fatalf("expected 1 pair, got %d", len(pairs))
	}
	if pairs[0].Score != 100 {
		t.Errorf("expected a perfect score for an identical same-day summary, got %v", pairs[0].Score)
	}
}

func TestFindDissimilarSummariesScoreBelowThreshold(t *testing.T) {
	events := []model.RemoteEvent{
		eventOn("t1", "Write quarterly report", "2026-08-01"),
		eventOn("t2", "Buy groceries for the week", "2026-08-05"),
	}
	pairs := Find(events, 80)
	if len(pairs) != 0 {
		t.Fatalf("expected no pairs for dissimilar summaries, got %+v", pairs)
	}
}

func TestFindNearDuplicateAboveThreshold(t *testing.T) {
	events := []model.RemoteEvent{
		eventOn("t1", "Write quarterly report", "2026-08-01"),
		eventOn("t2", "Write the quarterly report", "2026-08-01"),
	}
	pairs := Find(events, 60)
	if len(pairs) != 1 {
		t.Fatalf("expected 1 near-duplicate pair, got %d: %+v", len(pairs), pairs)
	}
	if pairs[0].A.TaskID() != "t1" || pairs[0].B.TaskID() != "t2" {
		t.Errorf("expected the pair to reference t1/t2, got %+v", pairs[0])
	}
}

func TestFindOrdersPairsByDescendingScore(t *testing.T) {
	events := []model.RemoteEvent{
		eventOn("t1", "Write quarterly report", "2026-08-01"),
		eventOn("t2", "Write quarterly report", "2026-08-01"),     // exact match, 100
		eventOn("t3", "Write the quaterly repor", "2026-08-02"),   // close but not exact
	}
	pairs := Find(events, 10)
	if len(pairs) < 2 {
		t.Fatalf("expected at least 2 pairs, got %d", len(pairs))
	}
	for i := 1; i < len(pairs); i++ {
		if pairs[i].Score > pairs[i-1].Score {
			t.Fatalf("expected descending score order, got %+v", pairs)
		}
	}
}

func TestFindEmptySummaryNeverMatches(t *testing.T) {
	events := []model.RemoteEvent{
		eventOn("t1", "", "2026-08-01"),
		eventOn("t2", "", "2026-08-01"),
	}
	pairs := Find(events, 1)
	if len(pairs) != 0 {
		t.Fatalf("expected events with blank summaries to never match, got %+v", pairs)
	}
}

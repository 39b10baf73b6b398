package taskparse

import (
	"testing"

	"github.com/obsidian-gcal/syncengine/internal/model"
)

func TestParse(t *testing.T) {
	t.Run("not a task line", func(t *testing.T) {
		if _, ok := Parse("just a paragraph", "notes.md", 1); ok {
			t.Fatal("expected ok=false for a non-checkbox line")
		}
	})

	t.Run("basic due date and priority", func(t *testing.T) {
		task, ok := Parse("- [ ] Ship the release 🔺 📅 2026-08-01", "todo.md", 5)
		if !ok {
			t.Fatal("expected ok=true")
		}
		if task.IsCompleted {
			t.Error("expected IsCompleted=false for a blank checkbox")
		}
		if task.DueDate == nil || *task.DueDate != "2026-08-01" {
			t.Errorf("expected due date 2026-08-01, got %v", task.DueDate)
		}
		if task.Priority != model.PriorityHighest {
			t.Errorf("expected highest priority, got %v", task.Priority)
		}
		if task.Summary != "Ship the release" {
			t.Errorf("expected clean summary, got %q", task.Summary)
		}
		// startDate defaults to dueDate when absent.
		if task.StartDate == nil || *task.StartDate != "2026-08-01" {
			t.Errorf("expected start date to fall back to due date, got %v", task.StartDate)
		}
	})

	t.Run("completed checkbox variants", func(t *testing.T) {
		task, ok := Parse("- [x] Done already ✅ 2026-07-01", "todo.md", 1)
		if !ok || !task.IsCompleted {
			t.Fatal("expected a completed task")
		}
		if task.CompletionDate == nil || *task.CompletionDate != "2026-07-01" {
			t.Errorf("expected completion date, got %v", task.CompletionDate)
		}
	})

	t.Run("tags and block anchor excluded from summary", func(t *testing.T) {
		task, ok := Parse("- [ ] Review PR #work #urgent 📅 2026-08-02 ^pr-123", "todo.md", 1)
		if !ok {
			t.Fatal("expected ok=true")
		}
		if task.Summary != "Review PR" {
			t.Errorf("expected tags/anchor stripped from summary, got %q", task.Summary)
		}
		if len(task.Tags) != 2 || task.Tags[0] != "work" || task.Tags[1] != "urgent" {
			t.Errorf("expected [work urgent] tags, got %v", task.Tags)
		}
		if task.BlockAnchor == nil || *task.BlockAnchor != "pr-123" {
			t.Errorf("expected block anchor pr-123, got %v", task.BlockAnchor)
		}
	})

	t.Run("last-occurrence-wins for duplicated markers", func(t *testing.T) {
		task, ok := Parse("- [ ] Reconcile 📅 2026-08-01 📅 2026-08-05", "todo.md", 1)
		if !ok {
			t.Fatal("expected ok=true")
		}
		if task.DueDate == nil || *task.DueDate != "2026-08-05" {
			t.Errorf("expected the last due date marker to win, got %v", task.DueDate)
		}
	})

	t.Run("time window from timed start", func(t *testing.T) {
		task, ok := Parse("- [ ] Standup 🛫 2026-08-01T09:00 📅 2026-08-01", "todo.md", 1)
		if !ok {
			t.Fatal("expected ok=true")
		}
		if task.TimeWindowStart == nil || *task.TimeWindowStart != "09:00" {
			t.Errorf("expected time window start 09:00, got %v", task.TimeWindowStart)
		}
		if task.TimeWindowEnd == nil || *task.TimeWindowEnd != "24:00" {
			t.Errorf("expected time window end 24:00, got %v", task.TimeWindowEnd)
		}
	})

	t.Run("deterministic id derivation", func(t *testing.T) {
		a, _ := Parse("- [ ] Same task 📅 2026-08-01", "todo.md", 1)
		b, _ := Parse("- [ ] Same task 📅 2026-08-01", "todo.md", 99)
		if a.ID != b.ID {
			t.Errorf("expected stable id across source line moves, got %q vs %q", a.ID, b.ID)
		}
		c, _ := Parse("- [ ] Different task 📅 2026-08-01", "todo.md", 1)
		if a.ID == c.ID {
			t.Error("expected different summaries to derive different ids")
		}
	})

	t.Run("block anchor pins id across summary edits", func(t *testing.T) {
		a, _ := Parse("- [ ] Original wording ^anchor1", "todo.md", 1)
		b, _ := Parse("- [ ] Edited wording ^anchor1", "todo.md", 1)
		if a.ID != b.ID {
			t.Error("expected the same block anchor to derive the same id regardless of summary text")
		}
	})
}

package recur

import "testing"

func TestNormalize(t *testing.T) {
	t.Run("rrule passthrough uppercases freq", func(t *testing.T) {
		rule, ok := Normalize("rrule:freq=weekly;interval=2", "2026-08-01")
		if !ok {
			t.Fatal("expected ok=true")
		}
		if rule != "RRULE:FREQ=WEEKLY;INTERVAL=2" {
			t.Errorf("got %q", rule)
		}
	})

	t.Run("bare FREQ= passthrough", func(t *testing.T) {
		rule, ok := Normalize("FREQ=DAILY", "2026-08-01")
		if !ok || rule != "RRULE:FREQ=DAILY" {
			t.Errorf("got rule=%q ok=%v", rule, ok)
		}
	})

	t.Run("every N weeks natural language", func(t *testing.T) {
		rule, ok := Normalize("every 2 weeks", "2026-08-01")
		if !ok {
			t.Fatal("expected ok=true")
		}
		if rule != "RRULE:FREQ=WEEKLY;INTERVAL=2" {
			t.Errorf("got %q", rule)
		}
	})

	t.Run("bare frequency word", func(t *testing.T) {
		rule, ok := Normalize("monthly", "2026-08-01")
		if !ok || rule != "RRULE:FREQ=MONTHLY" {
			t.Errorf("got rule=%q ok=%v", rule, ok)
		}
	})

	t.Run("weekly with named days", func(t *testing.T) {
		rule, ok := Normalize("weekly on Monday and Wednesday", "2026-08-01")
		if !ok {
			t.Fatal("expected ok=true")
		}
		if rule != "RRULE:FREQ=WEEKLY;BYDAY=MO,WE" {
			t.Errorf("got %q", rule)
		}
	})

	t.Run("weekday shorthand expands to MO-FR", func(t *testing.T) {
		rule, ok := Normalize("weekly on weekdays", "2026-08-01")
		if !ok {
			t.Fatal("expected ok=true")
		}
		if rule != "RRULE:FREQ=WEEKLY;BYDAY=MO,TU,WE,TH,FR" {
			t.Errorf("got %q", rule)
		}
	})

	t.Run("monthly on the Nth", func(t *testing.T) {
		rule, ok := Normalize("monthly on the 15th", "2026-08-01")
		if !ok || rule != "RRULE:FREQ=MONTHLY;BYMONTHDAY=15" {
			t.Errorf("got rule=%q ok=%v", rule, ok)
		}
	})

	t.Run("no recognizable frequency yields ok=false", func(t *testing.T) {
		if _, ok := Normalize("whenever I feel like it", "2026-08-01"); ok {
			t.Fatal("expected ok=false when no FREQ can be inferred")
		}
	})

	t.Run("empty text yields ok=false", func(t *testing.T) {
		if _, ok := Normalize("   ", "2026-08-01"); ok {
			t.Fatal("expected ok=false for blank text")
		}
	})
}

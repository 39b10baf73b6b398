// Package mapping composes the remote-event payload for a Task (spec.md
// §4.2) and the Task -> source deep-link description. It mirrors the
// teacher's internal/models/calendar.go style of building a typed struct
// field-by-field from loosely-typed input, just in the opposite direction
// (struct -> wire map instead of wire map -> struct).
package mapping

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/obsidian-gcal/syncengine/internal/model"
)

// Options gates the optional description metadata block per spec.md §4.2.
type Options struct {
	VaultName              string
	DefaultDurationMinutes int
	IncludePriority        bool
	IncludeTags            bool
	IncludeCreated         bool
	IncludeScheduled       bool
	IncludeCompletion      bool
}

// BuildEventPayload computes the full remote-event body for t, or ok=false
// if t is missing a date required to emit it (spec.md §4.3 step 2: tasks
// missing startDate or dueDate are never emitted as create/update).
func BuildEventPayload(t model.Task, opts Options) (body map[string]any, ok bool) {
	if t.StartDate == nil || t.DueDate == nil {
		return nil, false
	}

	summary := t.Summary
	if summary == "" {
		summary = "Untitled Task"
	}

	status := "confirmed"
	if t.IsCompleted {
		status = "cancelled"
	}

	start, end, usedFallback := computeStartEnd(*t.StartDate, *t.DueDate, opts.DefaultDurationMinutes)

	body = map[string]any{
		"summary": summary,
		"status":  status,
		"start":   eventDateOrTimeToMap(start),
		"end":     eventDateOrTimeToMap(end),
		"extendedProperties": map[string]any{
			"private": map[string]any{
				model.PrivateKeyIsGcalSync:     "true",
				model.PrivateKeyObsidianTaskID: t.ID,
			},
		},
	}

	desc := BuildDescription(t, opts)
	if usedFallback {
		desc += "\n\n(date could not be parsed; scheduled for today, all-day)"
	}
	if desc != "" {
		body["description"] = desc
	}

	if t.RecurrenceRule != nil && *t.RecurrenceRule != "" {
		body["recurrence"] = []string{*t.RecurrenceRule}
	}

	return body, true
}

// BuildDescription composes the deep link + optional metadata block.
func BuildDescription(t model.Task, opts Options) string {
	link := sourceDeepLink(t, opts.VaultName)
	var extra []string
	if opts.IncludePriority && t.Priority != model.PriorityNone {
		extra = append(extra, "Priority: "+t.Priority.String())
	}
	if opts.IncludeTags && len(t.Tags) > 0 {
		extra = append(extra, "Tags: "+strings.Join(t.Tags, ", "))
	}
	if opts.IncludeCreated && t.CreatedDate != nil {
		extra = append(extra, "Created: "+*t.CreatedDate)
	}
	if opts.IncludeScheduled && t.ScheduledDate != nil {
		extra = append(extra, "Scheduled: "+*t.ScheduledDate)
	}
	if opts.IncludeCompletion && t.CompletionDate != nil {
		extra = append(extra, "Completed: "+*t.CompletionDate)
	}
	if len(extra) == 0 {
		return link
	}
	return link + "\n\n" + strings.Join(extra, "\n")
}

func sourceDeepLink(t model.Task, vault string) string {
	v := url.Values{}
	v.Set("vault", vault)
	v.Set("file", t.SourcePath)
	link := "obsidian://open?" + v.Encode()
	if t.BlockAnchor != nil && *t.BlockAnchor != "" {
		link += "#" + *t.BlockAnchor
	}
	return link
}

// computeStartEnd implements spec.md §4.2's time semantics table.
// usedFallback reports whether the parse-failure fallback (today, all-day)
// was applied.
func computeStartEnd(startRaw, dueRaw string, defaultDurationMinutes int) (start, end model.EventDateOrTime, usedFallback bool) {
	startHasTime := model.HasDateTime(startRaw)
	dueHasTime := model.HasDateTime(dueRaw)

	if startHasTime && dueHasTime {
		st, errS := parseFlexible(startRaw)
		en, errE := parseFlexible(dueRaw)
		if errS != nil || errE != nil {
			return fallbackAllDay()
		}
		if !en.After(st) {
			en = st.Add(time.Duration(defaultDurationMinutes) * time.Minute)
		}
		return model.EventDateOrTime{DateTime: st.Format(time.RFC3339)},
			model.EventDateOrTime{DateTime: en.Format(time.RFC3339)}, false
	}

	// All-day.
	sd, errS := parseDateOnlyPrefix(startRaw)
	dd, errD := parseDateOnlyPrefix(dueRaw)
	if errS != nil || errD != nil {
		return fallbackAllDay()
	}
	endExclusive := dd.AddDate(0, 0, 1)
	if !endExclusive.After(sd) {
		endExclusive = sd.AddDate(0, 0, 1)
	}
	return model.EventDateOrTime{Date: sd.Format("2006-01-02")},
		model.EventDateOrTime{Date: endExclusive.Format("2006-01-02")}, false
}

func fallbackAllDay() (model.EventDateOrTime, model.EventDateOrTime, bool) {
	today := time.Now()
	start := model.EventDateOrTime{Date: today.Format("2006-01-02")}
	end := model.EventDateOrTime{Date: today.AddDate(0, 0, 1).Format("2006-01-02")}
	return start, end, true
}

func parseDateOnlyPrefix(s string) (time.Time, error) {
	if len(s) >= 10 {
		s = s[:10]
	}
	return time.Parse("2006-01-02", s)
}

func parseFlexible(s string) (time.Time, error) {
	for _, layout := range []string{
		"2006-01-02T15:04:05Z07:00",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04",
		"2006-01-02 15:04",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date-time %q", s)
}

func eventDateOrTimeToMap(e model.EventDateOrTime) map[string]any {
	out := map[string]any{}
	if e.DateTime != "" {
		out["dateTime"] = e.DateTime
		if e.TimeZone != "" {
			out["timeZone"] = e.TimeZone
		}
	} else {
		out["date"] = e.Date
	}
	return out
}

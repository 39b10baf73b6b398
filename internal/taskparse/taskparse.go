// Package taskparse extracts a structured model.Task from a single line of
// free-form text. It follows the same idiom as the teacher's
// internal/dateparse package: a chain of small extractor functions, each of
// which removes its matched substring from the working text before handing
// off to the next extractor, so later extractors never re-match text a
// prior one already claimed.
package taskparse

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/obsidian-gcal/syncengine/internal/model"
	"github.com/obsidian-gcal/syncengine/internal/recur"
)

var checkboxRe = regexp.MustCompile(`^\s*-\s*\[(.)\]\s*(.*)$`)

// Parse consumes one line plus its provenance and returns the Task it
// describes, or ok=false if the line is not a task line. Lines inside
// fenced code regions must already be excluded by the caller.
func Parse(line, sourcePath string, sourceLine int) (task model.Task, ok bool) {
	m := checkboxRe.FindStringSubmatch(line)
	if m == nil {
		return model.Task{}, false
	}

	glyph := m[1]
	content := m[2]

	task = model.Task{
		IsCompleted: glyph != " " && glyph != "",
		SourcePath:  sourcePath,
		SourceLine:  sourceLine,
	}

	if due, rest, found := extractLast(content, dueRe, 1); found {
		task.DueDate = strptr(due)
		content = rest
	}
	if start, rest, found := extractLast(content, startRe, 1); found {
		task.StartDate = strptr(start)
		content = rest
	}
	if sched, rest, found := extractLast(content, scheduledRe, 1); found {
		task.ScheduledDate = strptr(sched)
		content = rest
	}
	if created, rest, found := extractLast(content, createdRe, 1); found {
		task.CreatedDate = strptr(created)
		content = rest
	}
	if done, rest, found := extractLast(content, completionRe, 1); found {
		task.CompletionDate = strptr(done)
		content = rest
	}
	if glyphVal, rest, found := extractLast(content, priorityRe, 1); found {
		task.Priority = priorityFromGlyph(glyphVal)
		content = rest
	}

	var recurText string
	var recurFound bool
	if rt, rest, found := extractLast(content, recurrenceRe, 1); found {
		recurText = strings.TrimSpace(rt)
		content = rest
		recurFound = true
	}

	// Time window: may be embedded in the captured recurrence text, or
	// appear standalone in the remaining content.
	var windowStart, windowEnd string
	if recurFound {
		if ws, we, rest, found := extractTimeWindow(recurText); found {
			windowStart, windowEnd = ws, we
			recurText = rest
		}
	}
	if windowStart == "" {
		if ws, we, rest, found := extractTimeWindow(content); found {
			windowStart, windowEnd = ws, we
			content = rest
		}
	}

	if anchor, rest, found := extractLast(content, anchorRe, 1); found {
		task.BlockAnchor = strptr(anchor)
		content = rest
	}

	for _, tm := range tagRe.FindAllStringSubmatch(content, -1) {
		task.Tags = append(task.Tags, tm[1])
	}
	content = tagRe.ReplaceAllString(content, "")

	content = allDayRe.ReplaceAllString(content, "")
	task.Summary = collapseWhitespace(content)

	if task.DueDate != nil && task.StartDate == nil {
		task.StartDate = task.DueDate
	}
	if windowStart != "" {
		task.TimeWindowStart = strptr(windowStart)
		task.TimeWindowEnd = strptr(windowEnd)
	} else if task.StartDate != nil && model.HasDateTime(*task.StartDate) {
		t := timeOfDay(*task.StartDate)
		task.TimeWindowStart = strptr(t)
		task.TimeWindowEnd = strptr("24:00")
	}

	if recurFound {
		hint := dtstartHint(task)
		if rule, ok := recur.Normalize(recurText, hint); ok {
			task.RecurrenceRule = strptr(rule)
		}
	}

	task.ID = deriveID(task)

	return task, true
}

// deriveID implements spec.md §4.1's "obsidian-" + sha1 prefix rule.
func deriveID(t model.Task) string {
	var basis string
	if t.BlockAnchor != nil && *t.BlockAnchor != "" {
		basis = t.SourcePath + ":" + *t.BlockAnchor
	} else {
		basis = fmt.Sprintf("%s:%s:%s:%s:%s-%s",
			t.SourcePath, t.Summary, deref(t.StartDate), deref(t.DueDate),
			deref(t.TimeWindowStart), deref(t.TimeWindowEnd))
	}
	sum := sha1.Sum([]byte(basis))
	return "obsidian-" + hex.EncodeToString(sum[:])[:8]
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func strptr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func collapseWhitespace(s string) string {
	return strings.TrimSpace(wsRe.ReplaceAllString(s, " "))
}

func timeOfDay(dt string) string {
	idx := strings.IndexAny(dt, "T ")
	if idx < 0 {
		return ""
	}
	rest := dt[idx+1:]
	if len(rest) >= 5 {
		return rest[:5]
	}
	return rest
}

// dtstartHint picks the DTSTART hint per spec.md §4.1 step 1: startDate
// preferred, else dueDate, else scheduledDate.
func dtstartHint(t model.Task) string {
	switch {
	case t.StartDate != nil:
		return *t.StartDate
	case t.DueDate != nil:
		return *t.DueDate
	case t.ScheduledDate != nil:
		return *t.ScheduledDate
	default:
		return ""
	}
}

func priorityFromGlyph(g string) model.Priority {
	switch g {
	case "🔺":
		return model.PriorityHighest
	case "⏫":
		return model.PriorityHigh
	case "🔼":
		return model.PriorityMedium
	case "🔽":
		return model.PriorityLow
	case "⏬":
		return model.PriorityLowest
	default:
		return model.PriorityNone
	}
}

// extractLast finds all matches of re in content, returns the capture group
// (index group) of the LAST match as the winning value, and removes every
// matched span from content (so repeated markers never leak into the
// summary, even though only the last one's value is kept).
func extractLast(content string, re *regexp.Regexp, group int) (value, remaining string, found bool) {
	matches := re.FindAllStringSubmatchIndex(content, -1)
	if len(matches) == 0 {
		return "", content, false
	}
	last := matches[len(matches)-1]
	if last[2*group] >= 0 {
		value = content[last[2*group]:last[2*group+1]]
	}

	var b strings.Builder
	prev := 0
	for _, m := range matches {
		b.WriteString(content[prev:m[0]])
		prev = m[1]
	}
	b.WriteString(content[prev:])
	return value, b.String(), true
}

// extractTimeWindow finds a standalone "HH:MM<sep>HH:MM|24:00" span in s and
// returns the start/end plus s with that span removed.
func extractTimeWindow(s string) (start, end, remaining string, found bool) {
	m := timeWindowRe.FindStringSubmatchIndex(s)
	if m == nil {
		return "", "", s, false
	}
	start = s[m[2]:m[3]]
	end = s[m[4]:m[5]]
	remaining = s[:m[0]] + s[m[1]:]
	return start, end, remaining, true
}

const dateTimeValue = `\d{4}-\d{2}-\d{2}(?:[T ]\d{2}:\d{2}(?::\d{2})?(?:\.\d+)?(?:Z|[+-]\d{2}:?\d{2})?)?`
const dateOnlyValue = `\d{4}-\d{2}-\d{2}`

var (
	dueRe        = regexp.MustCompile(`(?:📅|due:)\s*(` + dateTimeValue + `)`)
	startRe      = regexp.MustCompile(`(?:🛫|start:)\s*(` + dateTimeValue + `)`)
	scheduledRe  = regexp.MustCompile(`(?:⏳|scheduled:)\s*(` + dateTimeValue + `)`)
	createdRe    = regexp.MustCompile(`(?:➕|created:)\s*(` + dateOnlyValue + `)`)
	completionRe = regexp.MustCompile(`(?:✅|done:)\s*(` + dateOnlyValue + `)`)
	priorityRe   = regexp.MustCompile(`(🔺|⏫|🔼|🔽|⏬)`)
	// Recurrence free text runs until the next recognized marker, a tag,
	// a block anchor, or the end of the content.
	recurrenceRe = regexp.MustCompile(`(?:🔁|repeat:|recur:)\s*([^📅🛫⏳➕✅🔺⏫🔼🔽⏬#^]*)`)
	anchorRe     = regexp.MustCompile(`\^([A-Za-z0-9-]+)\s*$`)
	tagRe        = regexp.MustCompile(`#(\S+)`)
	timeWindowRe = regexp.MustCompile(`(\d{1,2}:\d{2})\s*(?:[-–—~〜～]|\bto\b)\s*(\d{1,2}:\d{2}|24:00)`)
	wsRe         = regexp.MustCompile(`\s+`)
	allDayRe     = regexp.MustCompile(`(?i)\b(all-day|終日|全日)\b`)
)

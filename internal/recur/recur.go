// Package recur normalizes free-form recurrence text (either already an
// iCalendar RRULE/FREQ expression, or natural language like "every 2 weeks")
// into a canonical "RRULE:..." string, per spec.md §4.1's recurrence
// normalization algorithm.
//
// The canonical RRULE value is round-tripped through
// github.com/arran4/golang-ical so the wire format matches what a real
// iCalendar library emits rather than a hand-rolled string builder.
package recur

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"
)

// Normalize turns text into a canonical "RRULE:..." string. dtstartHint (a
// YYYY-MM-DD or date-time string, may be empty), or a DTSTART carried in the
// text, only sets the start of the scratch event used for serialization; the
// returned string carries no DTSTART line. Returns ok=false if no FREQ could
// be inferred at all, per spec.md §4.1 step 3.
func Normalize(text string, dtstartHint string) (rule string, ok bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}

	upper := strings.ToUpper(text)
	var parts map[string]string
	if strings.HasPrefix(upper, "RRULE:") || strings.HasPrefix(upper, "FREQ=") {
		value := text
		if idx := strings.Index(upper, "RRULE:"); idx == 0 {
			value = text[len("RRULE:"):]
		}
		parts = parseParams(value)
	} else {
		parts = naturalLanguage(text)
	}

	if parts["FREQ"] == "" {
		return "", false
	}

	dtstart := resolveDTStart(text, dtstartHint)
	return serialize(parts, dtstart), true
}

// resolveDTStart extracts an explicit "DTSTART...:value" line from text if
// present; otherwise parses hint (local midnight if date-only); otherwise
// falls back to now.
func resolveDTStart(text, hint string) time.Time {
	if m := dtstartLineRe.FindStringSubmatch(text); m != nil {
		if t, err := parseICalStamp(m[1]); err == nil {
			return t
		}
	}
	if hint != "" {
		if t, err := parseFlexibleDate(hint); err == nil {
			return t
		}
	}
	return time.Now()
}

var dtstartLineRe = regexp.MustCompile(`(?i)DTSTART[^:]*:(\S+)`)

func parseICalStamp(s string) (time.Time, error) {
	for _, layout := range []string{"20060102T150405Z", "20060102T150405", "20060102"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized DTSTART value %q", s)
}

func parseFlexibleDate(s string) (time.Time, error) {
	for _, layout := range []string{
		"2006-01-02T15:04:05Z07:00",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04",
		"2006-01-02 15:04",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// parseParams parses a raw "FREQ=WEEKLY;INTERVAL=2;..." value into a
// canonical key->value map, uppercasing keys/freq per iCalendar convention.
func parseParams(value string) map[string]string {
	out := map[string]string{}
	for _, part := range strings.Split(value, ";") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.ToUpper(strings.TrimSpace(kv[0]))
		val := strings.TrimSpace(kv[1])
		if key == "FREQ" {
			val = strings.ToUpper(val)
		}
		out[key] = val
	}
	return out
}

var (
	everyNRe     = regexp.MustCompile(`(?i)\bevery\s+(\d+)\s+(day|week|month|year)s?\b`)
	bareFreqRe   = regexp.MustCompile(`(?i)\b(daily|weekly|monthly|yearly|annually)\b`)
	everyWeeksRe = regexp.MustCompile(`(?i)\bevery\s+(\d+)\s+weeks?\b`)
	monthlyOnRe  = regexp.MustCompile(`(?i)\bon\s+the\s+(\d{1,2})(?:st|nd|rd|th)\b`)
	forOccurRe   = regexp.MustCompile(`(?i)\bfor\s+(\d+)\s+(?:occurrences|times)\b`)
	untilRe      = regexp.MustCompile(`(?i)\buntil\s+(\d{4}-\d{2}-\d{2})\b`)
	weekendRe    = regexp.MustCompile(`(?i)\bweekend(s)?\b`)
	weekdayRe    = regexp.MustCompile(`(?i)\bweekday(s)?\b`)

	dayNameRe = regexp.MustCompile(`(?i)\b(sunday|monday|tuesday|wednesday|thursday|friday|saturday)\b`)
)

var dayAbbrev = map[string]string{
	"sunday": "SU", "monday": "MO", "tuesday": "TU", "wednesday": "WE",
	"thursday": "TH", "friday": "FR", "saturday": "SA",
}

// naturalLanguage applies spec.md §4.1 step 2's rule table.
func naturalLanguage(text string) map[string]string {
	out := map[string]string{}
	lower := strings.ToLower(text)

	if m := everyNRe.FindStringSubmatch(lower); m != nil {
		n, _ := strconv.Atoi(m[1])
		out["FREQ"] = freqFromUnit(m[2])
		if n > 1 {
			out["INTERVAL"] = strconv.Itoa(n)
		}
	} else if m := bareFreqRe.FindStringSubmatch(lower); m != nil {
		out["FREQ"] = freqFromBareWord(m[1])
	}

	if out["FREQ"] == "WEEKLY" {
		if m := everyWeeksRe.FindStringSubmatch(lower); m != nil {
			out["INTERVAL"] = m[1]
		}
		var days []string
		for _, dm := range dayNameRe.FindAllStringSubmatch(lower, -1) {
			days = append(days, dayAbbrev[strings.ToLower(dm[1])])
		}
		if weekendRe.MatchString(lower) {
			days = append(days, "SA", "SU")
		}
		if weekdayRe.MatchString(lower) {
			days = append(days, "MO", "TU", "WE", "TH", "FR")
		}
		if len(days) > 0 {
			out["BYDAY"] = strings.Join(dedupe(days), ",")
		}
	}

	if out["FREQ"] == "MONTHLY" {
		if m := monthlyOnRe.FindStringSubmatch(lower); m != nil {
			out["BYMONTHDAY"] = m[1]
		}
	}

	if m := forOccurRe.FindStringSubmatch(lower); m != nil {
		out["COUNT"] = m[1]
	}
	if m := untilRe.FindStringSubmatch(lower); m != nil {
		if t, err := time.Parse("2006-01-02", m[1]); err == nil {
			endOfDay := time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, time.UTC)
			out["UNTIL"] = endOfDay.UTC().Format("20060102T150405Z")
		}
	}

	return out
}

func dedupe(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func freqFromUnit(unit string) string {
	switch strings.ToLower(unit) {
	case "day":
		return "DAILY"
	case "week":
		return "WEEKLY"
	case "month":
		return "MONTHLY"
	case "year":
		return "YEARLY"
	}
	return ""
}

func freqFromBareWord(word string) string {
	switch strings.ToLower(word) {
	case "daily":
		return "DAILY"
	case "weekly":
		return "WEEKLY"
	case "monthly":
		return "MONTHLY"
	case "yearly", "annually":
		return "YEARLY"
	}
	return ""
}

// serialize builds the canonical "RRULE:..." value and round-trips it
// through golang-ical's VEVENT property model so the wire format matches a
// real iCalendar library's output.
func serialize(parts map[string]string, dtstart time.Time) string {
	order := []string{"FREQ", "INTERVAL", "BYDAY", "BYMONTHDAY", "COUNT", "UNTIL"}
	var kv []string
	for _, k := range order {
		if v, ok := parts[k]; ok && v != "" {
			kv = append(kv, k+"="+v)
		}
	}
	value := strings.Join(kv, ";")

	cal := ics.NewCalendar()
	event := cal.AddEvent("normalize-scratch")
	event.SetStartAt(dtstart)
	event.AddProperty(ics.ComponentPropertyRrule, value)

	if prop := event.GetProperty(ics.ComponentPropertyRrule); prop != nil {
		return "RRULE:" + prop.Value
	}
	return "RRULE:" + value
}

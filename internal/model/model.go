// Package model holds the plain-value types shared across the sync engine:
// parsed tasks, the remote event shape the engine reads/writes, the batch
// operations the planner produces, and the credentials the OAuth2 manager
// hands out.
package model

import "time"

// Priority is the normalized priority of a Task.
type Priority int

const (
	PriorityNone Priority = iota
	PriorityLowest
	PriorityLow
	PriorityMedium
	PriorityHigh
	PriorityHighest
)

func (p Priority) String() string {
	switch p {
	case PriorityHighest:
		return "highest"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	case PriorityLowest:
		return "lowest"
	default:
		return "none"
	}
}

// Task is a parsed local record. It is a value type: discarded at the end
// of every sync run and never itself persisted.
type Task struct {
	ID   string
	Summary string
	IsCompleted bool

	DueDate       *string // YYYY-MM-DD or date-time
	StartDate     *string
	ScheduledDate *string
	CreatedDate   *string // YYYY-MM-DD only
	CompletionDate *string // YYYY-MM-DD only

	Priority Priority

	RecurrenceRule *string // normalized "RRULE:..." value; carries no DTSTART line

	TimeWindowStart *string // HH:MM
	TimeWindowEnd   *string // HH:MM, may be "24:00"

	Tags []string

	BlockAnchor *string

	SourcePath string
	SourceLine int

	// Indent and ParentID support the optional flat subtask tree (see
	// SPEC_FULL.md §4.1 "Subtask / indent support"). They do not affect
	// the core Task/RemoteEvent reconciliation in any way.
	Indent   int
	ParentID *string
}

// HasDateTime reports whether s (a DueDate/StartDate/ScheduledDate style
// string) carries a time-of-day component.
func HasDateTime(s string) bool {
	for _, c := range s {
		if c == 'T' || c == ' ' {
			return true
		}
	}
	return false
}

// EventDateOrTime mirrors the remote calendar's {date} | {dateTime,timeZone}
// union for an event's start or end.
type EventDateOrTime struct {
	Date     string // YYYY-MM-DD, set for all-day events
	DateTime string // RFC3339, set for timed events
	TimeZone string
}

// IsAllDay reports whether this endpoint is date-only.
func (e EventDateOrTime) IsAllDay() bool {
	return e.Date != "" && e.DateTime == ""
}

// RemoteEvent is the subset of the remote calendar event resource this
// engine reads. Fields not listed here are never inspected.
type RemoteEvent struct {
	ID          string
	Status      string // "confirmed" | "cancelled"
	Summary     string
	Description string
	Start       EventDateOrTime
	End         EventDateOrTime
	Recurrence  []string // RRULE strings
	Private     map[string]string // extendedProperties.private
	Updated     time.Time
}

const (
	PrivateKeyIsGcalSync     = "isGcalSync"
	PrivateKeyObsidianTaskID = "obsidianTaskId"
)

// IsPluginOwned reports whether e carries the plugin-owned marker. The core
// must never touch an event for which this is false.
func (e *RemoteEvent) IsPluginOwned() bool {
	return e.Private[PrivateKeyIsGcalSync] == "true"
}

// TaskID returns the obsidianTaskId private property, or "" if absent.
func (e *RemoteEvent) TaskID() string {
	return e.Private[PrivateKeyObsidianTaskID]
}

// OperationType classifies a BatchOp for the result processor.
type OperationType string

const (
	OpInsert OperationType = "insert"
	OpUpdate OperationType = "update"
	OpPatch  OperationType = "patch"
	OpDelete OperationType = "delete"
)

// BatchOp is one planned mutation against the remote calendar.
type BatchOp struct {
	Method          string // POST | PUT | PATCH | DELETE
	Path            string
	Body            map[string]any // nil for DELETE
	OperationType   OperationType
	TaskID          string // empty for orphan-sweep deletes
	OriginalEventID string
}

// BatchResult is the decoded body + status of one executed BatchOp.
type BatchResult struct {
	Status int
	Body   any // map[string]any | []any | nil
}

// IdMap is the persistent TaskId -> RemoteEventId mapping. It is only ever
// mutated by the result processor; the planner reads an immutable snapshot.
type IdMap map[string]string

// Clone returns a deep copy so a planner run never observes (or causes)
// concurrent mutation of the map the result processor is updating.
func (m IdMap) Clone() IdMap {
	out := make(IdMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Credentials holds the OAuth2 token state. RefreshToken is the only secret
// that is ever persisted (Expiry and Scope are stored beside it as plain
// metadata); AccessToken lives in memory only.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	Scope        string
}

// NearExpiry reports whether the access token expires within window.
func (c Credentials) NearExpiry(window time.Duration) bool {
	if c.AccessToken == "" {
		return true
	}
	return time.Until(c.Expiry) <= window
}

// Counters aggregates one sync run's outcome for the summary surfaced to
// the host (spec.md §7 "Surfacing").
type Counters struct {
	Created int
	Updated int
	Deleted int
	Skipped int
	Errors  int
}

func (c *Counters) Add(o Counters) {
	c.Created += o.Created
	c.Updated += o.Updated
	c.Deleted += o.Deleted
	c.Skipped += o.Skipped
	c.Errors += o.Errors
}

// Settings is captured by value at the start of each sync run so that
// concurrent setting edits never perturb an in-flight sync.
type Settings struct {
	ClientID     string
	ClientSecret string
	CalendarID   string

	RedirectPort        int
	SyncIntervalMinutes int
	CronExpression      string

	AutoSync                 bool
	IncludeDescriptionInDiff bool
	IncludeRemindersInDiff   bool
	DefaultDurationMinutes   int

	MaxBatchPerHTTP        int
	MinDesiredBatchSize    int
	MaxInFlightBatches     int
	InterBatchDelayMs      int
	LatencySLAms           int
	RateErrorCooldownMs    int
	CleanStreakForIncrease int
	MaxRetryAttempts       int

	RememberPassphrase     bool
	ErrorNotificationsOnly bool

	VaultName string
}

// Clone returns a deep-enough copy for snapshotting at run start (all
// fields are value types already, so this is a plain copy).
func (s Settings) Clone() Settings {
	return s
}

// Package planner diffs parsed local tasks against remote events and the
// prior IdMap to produce an idempotent list of model.BatchOp, per spec.md
// §4.3.
package planner

import (
	"sort"
	"strings"
	"time"

	"github.com/obsidian-gcal/syncengine/internal/mapping"
	"github.com/obsidian-gcal/syncengine/internal/model"
)

// Plan is the planner's output.
type Plan struct {
	Ops            []model.BatchOp
	CurrentTaskIDs map[string]struct{}
	RepairedIdMap  model.IdMap
}

// Build implements spec.md §4.3's four-step algorithm. events must already
// be filtered to plugin-owned events (spec.md §8 invariant 1); this
// function does not re-check ownership.
func Build(tasks []model.Task, events []model.RemoteEvent, priorMap model.IdMap, calendarPath string, opts mapping.Options) Plan {
	idMap := priorMap.Clone()

	// Step 1: build eventsByTaskId, keeping the latest `updated`, and
	// repair the working IdMap to match what's actually observed remotely.
	eventsByTaskID := map[string]model.RemoteEvent{}
	eventByID := map[string]model.RemoteEvent{}
	for _, e := range events {
		eventByID[e.ID] = e
		tid := e.TaskID()
		if tid == "" {
			continue
		}
		if existing, ok := eventsByTaskID[tid]; !ok || e.Updated.After(existing.Updated) {
			eventsByTaskID[tid] = e
		}
	}
	for tid, ev := range eventsByTaskID {
		idMap[tid] = ev.ID
	}

	var ops []model.BatchOp
	currentTaskIDs := map[string]struct{}{}

	for _, t := range tasks {
		currentTaskIDs[t.ID] = struct{}{}

		linked, hasLink := eventsByTaskID[t.ID]

		if t.IsCompleted {
			if hasLink && linked.Status != "cancelled" {
				ops = append(ops, model.BatchOp{
					Method:        "PATCH",
					Path:          eventPath(calendarPath, linked.ID),
					Body:          map[string]any{"status": "cancelled"},
					OperationType: model.OpPatch,
					TaskID:        t.ID,
				})
			}
			continue
		}

		if t.StartDate == nil || t.DueDate == nil {
			continue
		}

		payload, ok := mapping.BuildEventPayload(t, opts)
		if !ok {
			continue
		}

		if hasLink {
			if changed(linked, payload) {
				ops = append(ops, model.BatchOp{
					Method:          "PUT",
					Path:            eventPath(calendarPath, linked.ID),
					Body:            payload,
					OperationType:   model.OpUpdate,
					TaskID:          t.ID,
					OriginalEventID: linked.ID,
				})
			}
			continue
		}

		// No current event link. Drop a stale IdMap entry whose event
		// has vanished before emitting the create.
		if staleID, ok := idMap[t.ID]; ok {
			if _, stillExists := eventByID[staleID]; !stillExists {
				delete(idMap, t.ID)
			}
		}
		ops = append(ops, model.BatchOp{
			Method:        "POST",
			Path:          calendarPath + "/events",
			Body:          payload,
			OperationType: model.OpInsert,
			TaskID:        t.ID,
		})
	}

	// Step 3: deletion sweep.
	seenDeletes := map[string]struct{}{}

	// Source A: IdMap entries whose task is no longer current.
	taskIDsOrdered := make([]string, 0, len(idMap))
	for tid := range idMap {
		taskIDsOrdered = append(taskIDsOrdered, tid)
	}
	sort.Strings(taskIDsOrdered)
	for _, tid := range taskIDsOrdered {
		if _, ok := currentTaskIDs[tid]; ok {
			continue
		}
		eventID := idMap[tid]
		if _, done := seenDeletes[eventID]; done {
			continue
		}
		seenDeletes[eventID] = struct{}{}
		ops = append(ops, model.BatchOp{
			Method:        "DELETE",
			Path:          eventPath(calendarPath, eventID),
			OperationType: model.OpDelete,
			TaskID:        tid,
		})
	}

	// Source B: orphan sweep -- plugin-owned events whose obsidianTaskId
	// is absent or not present in the (updated) IdMap.
	eventIDsOrdered := make([]string, 0, len(events))
	for _, e := range events {
		eventIDsOrdered = append(eventIDsOrdered, e.ID)
	}
	sort.Strings(eventIDsOrdered)
	for _, eid := range eventIDsOrdered {
		e := eventByID[eid]
		tid := e.TaskID()
		if tid != "" {
			if _, mapped := idMap[tid]; mapped {
				continue
			}
		}
		if _, done := seenDeletes[e.ID]; done {
			continue
		}
		seenDeletes[e.ID] = struct{}{}
		ops = append(ops, model.BatchOp{
			Method:        "DELETE",
			Path:          eventPath(calendarPath, e.ID),
			OperationType: model.OpDelete,
		})
	}

	return Plan{Ops: ops, CurrentTaskIDs: currentTaskIDs, RepairedIdMap: idMap}
}

func eventPath(calendarPath, eventID string) string {
	return calendarPath + "/events/" + eventID
}

// changed implements spec.md §4.3.1's change detection.
func changed(existing model.RemoteEvent, payload map[string]any) bool {
	if normalizeStr(existing.Summary) != normalizeStr(strVal(payload["summary"])) {
		return true
	}
	if normalizeStr(existing.Description) != normalizeStr(strVal(payload["description"])) {
		return true
	}
	existingStatus := existing.Status
	if existingStatus == "" {
		existingStatus = "confirmed"
	}
	payloadStatus := strVal(payload["status"])
	if payloadStatus == "" {
		payloadStatus = "confirmed"
	}
	if existingStatus != payloadStatus {
		return true
	}

	if !sameEndpoint(existing.Start, mapVal(payload["start"])) {
		return true
	}
	if !sameEndpoint(existing.End, mapVal(payload["end"])) {
		return true
	}

	if !sameRecurrenceSet(existing.Recurrence, strSliceVal(payload["recurrence"])) {
		return true
	}

	private := mapVal(payload["extendedProperties"])
	var payloadPrivate map[string]any
	if private != nil {
		payloadPrivate = mapVal(private["private"])
	}
	if existing.Private[model.PrivateKeyObsidianTaskID] != strVal(payloadPrivate[model.PrivateKeyObsidianTaskID]) {
		return true
	}
	if existing.Private[model.PrivateKeyIsGcalSync] != strVal(payloadPrivate[model.PrivateKeyIsGcalSync]) {
		return true
	}

	return false
}

func sameEndpoint(existing model.EventDateOrTime, payload map[string]any) bool {
	pDate := strVal(payload["date"])
	pDateTime := strVal(payload["dateTime"])
	pTZ := strVal(payload["timeZone"])

	if existing.Date != pDate {
		return false
	}
	if existing.DateTime != "" || pDateTime != "" {
		if !instantsEqual(existing.DateTime, pDateTime) {
			return false
		}
	}
	if existing.TimeZone != pTZ {
		return false
	}
	return true
}

func instantsEqual(a, b string) bool {
	if a == b {
		return true
	}
	at, aErr := time.Parse(time.RFC3339, a)
	bt, bErr := time.Parse(time.RFC3339, b)
	if aErr != nil || bErr != nil {
		return false
	}
	return at.Equal(bt)
}

func sameRecurrenceSet(existing, payload []string) bool {
	norm := func(in []string) []string {
		out := make([]string, 0, len(in))
		for _, s := range in {
			s = strings.TrimPrefix(strings.TrimSpace(s), "RRULE:")
			out = append(out, strings.TrimSpace(s))
		}
		sort.Strings(out)
		return out
	}
	a, b := norm(existing), norm(payload)
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func normalizeStr(s string) string {
	return s // empty ≡ absent already holds for Go's zero value
}

func strVal(v any) string {
	s, _ := v.(string)
	return s
}

func mapVal(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func strSliceVal(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// EventPath is exported for callers building a single-event path outside
// of Build (e.g. syncrun's dedupe execution).
func EventPath(calendarPath, eventID string) string {
	return eventPath(calendarPath, eventID)
}

// Package resultproc turns completed sub-batch outcomes into IdMap
// mutations and run counters, per spec.md §4.5. It is the only component
// permitted to mutate the IdMap.
package resultproc

import (
	"fmt"

	"github.com/obsidian-gcal/syncengine/internal/batch"
	"github.com/obsidian-gcal/syncengine/internal/model"
	"github.com/obsidian-gcal/syncengine/internal/telemetry"
)

// Outcome is the processor's final verdict for a run: updated IdMap,
// accumulated counters, and any auth-error signal that should trigger a
// token refresh and re-attempt at the caller's discretion.
type Outcome struct {
	IdMap      model.IdMap
	Counters   model.Counters
	AuthError  bool
	ErrorNotes []string
}

// Process applies spec.md §4.5's per-result classification across every
// sub-batch outcome, in the order given. A sub-batch whose Err is set
// (transport failure exhausted retries, or a structural part-count
// mismatch) counts every one of its ops as an error without inspecting
// per-item results.
func Process(idMap model.IdMap, outcomes []batch.SubBatchOutcome) Outcome {
	out := Outcome{IdMap: idMap.Clone()}

	for _, sb := range outcomes {
		if sb.Err != nil {
			out.Counters.Errors += len(sb.Ops)
			out.ErrorNotes = append(out.ErrorNotes, sb.Err.Error())
			continue
		}
		for i, op := range sb.Ops {
			processOne(&out, op, sb.Results[i])
		}
	}

	return out
}

func processOne(out *Outcome, op model.BatchOp, res model.BatchResult) {
	switch {
	case res.Status >= 200 && res.Status < 300:
		processSuccess(out, op, res)
		telemetry.ResultsTotal.WithLabelValues("success").Inc()
	case res.Status == 404 || res.Status == 410:
		processGone(out, op)
		telemetry.ResultsTotal.WithLabelValues("gone").Inc()
	case res.Status == 409 && op.OperationType == model.OpInsert:
		out.Counters.Skipped++
		telemetry.ResultsTotal.WithLabelValues("duplicate").Inc()
	case res.Status == 412:
		out.Counters.Skipped++
		out.ErrorNotes = append(out.ErrorNotes, fmt.Sprintf("task %s: concurrency conflict (412)", op.TaskID))
		telemetry.ResultsTotal.WithLabelValues("conflict").Inc()
	case res.Status == 401:
		out.AuthError = true
		telemetry.ResultsTotal.WithLabelValues("auth_error").Inc()
	case res.Status == 403:
		out.Counters.Errors++
		out.ErrorNotes = append(out.ErrorNotes, fmt.Sprintf("task %s: permission error (403)", op.TaskID))
		telemetry.ResultsTotal.WithLabelValues("permission_error").Inc()
	default:
		out.Counters.Errors++
		out.ErrorNotes = append(out.ErrorNotes, fmt.Sprintf("task %s: %s returned %d: %s", op.TaskID, op.Method, res.Status, extractMessage(res.Body)))
		telemetry.ResultsTotal.WithLabelValues("error").Inc()
	}
}

func processSuccess(out *Outcome, op model.BatchOp, res model.BatchResult) {
	switch op.OperationType {
	case model.OpInsert:
		id := bodyID(res.Body)
		if id == "" {
			out.Counters.Errors++
			out.ErrorNotes = append(out.ErrorNotes, fmt.Sprintf("task %s: insert succeeded without an id", op.TaskID))
			return
		}
		out.IdMap[op.TaskID] = id
		out.Counters.Created++
	case model.OpUpdate:
		id := bodyID(res.Body)
		if id == "" {
			id = op.OriginalEventID
		}
		out.IdMap[op.TaskID] = id
		out.Counters.Updated++
	case model.OpPatch:
		out.Counters.Updated++
	case model.OpDelete:
		delete(out.IdMap, op.TaskID)
		out.Counters.Deleted++
	}
}

// processGone handles 404/410: a successful outcome for delete, a skip for
// update/patch, always pruning the IdMap entry for that task.
func processGone(out *Outcome, op model.BatchOp) {
	if op.TaskID != "" {
		delete(out.IdMap, op.TaskID)
	}
	switch op.OperationType {
	case model.OpDelete:
		out.Counters.Deleted++
	default:
		out.Counters.Skipped++
	}
}

func bodyID(body any) string {
	m, ok := body.(map[string]any)
	if !ok {
		return ""
	}
	id, _ := m["id"].(string)
	return id
}

func extractMessage(body any) string {
	m, ok := body.(map[string]any)
	if !ok {
		return ""
	}
	if errObj, ok := m["error"].(map[string]any); ok {
		if msg, ok := errObj["message"].(string); ok {
			return msg
		}
	}
	if msg, ok := m["message"].(string); ok {
		return msg
	}
	return ""
}

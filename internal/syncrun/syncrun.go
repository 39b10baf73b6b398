// Package syncrun wires the parser, planner, batch executor, and result
// processor into the single per-run pipeline spec.md §4 describes, and
// exposes the authenticate/sync-now/force-reset/dedupe operations the
// cmd/syncd daemon and cmd/synccli tool drive. Grounded on the teacher's
// internal/jobs.Runner callback shape, generalized from "one job function"
// to "one sync-run function with several sub-operations".
package syncrun

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/obsidian-gcal/syncengine/internal/batch"
	"github.com/obsidian-gcal/syncengine/internal/callback"
	"github.com/obsidian-gcal/syncengine/internal/dedupe"
	"github.com/obsidian-gcal/syncengine/internal/mapping"
	"github.com/obsidian-gcal/syncengine/internal/model"
	"github.com/obsidian-gcal/syncengine/internal/oauth2mgr"
	"github.com/obsidian-gcal/syncengine/internal/planner"
	"github.com/obsidian-gcal/syncengine/internal/remote"
	"github.com/obsidian-gcal/syncengine/internal/resultproc"
	"github.com/obsidian-gcal/syncengine/internal/store"
	"github.com/obsidian-gcal/syncengine/internal/taskparse"
	"github.com/obsidian-gcal/syncengine/internal/telemetry"
)

// Engine is the assembled pipeline for one Obsidian vault <-> calendar
// pairing. It holds no per-run state; Settings are read fresh (by value)
// at the start of every call so a concurrent settings edit never perturbs
// an in-flight run (spec.md §4 "Settings captured by value").
type Engine struct {
	Store    *store.Store
	OAuth    *oauth2mgr.Manager
	Remote   *remote.Client
	Settings func() model.Settings
}

// New assembles an Engine from its already-constructed collaborators.
func New(st *store.Store, oa *oauth2mgr.Manager, rc *remote.Client, settings func() model.Settings) *Engine {
	return &Engine{Store: st, OAuth: oa, Remote: rc, Settings: settings}
}

// Result is the summary surfaced to the host after a sync run (spec.md §7
// "Surfacing").
type Result struct {
	Counters  model.Counters
	Notes     []string
	StartedAt time.Time
	Duration  time.Duration
}

// Sync runs one full reconciliation pass: scan the vault, list plugin-owned
// remote events, plan, execute, process results, and persist the updated
// IdMap and lastSyncTime.
func (e *Engine) Sync(ctx context.Context) (Result, error) {
	started := time.Now()
	settings := e.Settings()

	tasks, err := taskparse.ScanVault(ctx, settings.VaultName)
	if err != nil {
		telemetry.SyncRunsTotal.WithLabelValues("error").Inc()
		return Result{}, fmt.Errorf("syncrun: scanning vault: %w", err)
	}

	events, err := e.Remote.ListPluginOwnedEvents(ctx, settings.CalendarID)
	if err != nil {
		telemetry.SyncRunsTotal.WithLabelValues("error").Inc()
		return Result{}, fmt.Errorf("syncrun: listing remote events: %w", err)
	}

	idMap, err := e.Store.LoadIdMap()
	if err != nil {
		telemetry.SyncRunsTotal.WithLabelValues("error").Inc()
		return Result{}, fmt.Errorf("syncrun: loading id map: %w", err)
	}

	opts := mapping.Options{
		VaultName:              settings.VaultName,
		DefaultDurationMinutes: settings.DefaultDurationMinutes,
		IncludePriority:        true,
		IncludeTags:            true,
		IncludeCreated:         settings.IncludeDescriptionInDiff,
		IncludeScheduled:       settings.IncludeDescriptionInDiff,
		IncludeCompletion:      settings.IncludeDescriptionInDiff,
	}

	calendarPath := "/calendars/" + url.PathEscape(settings.CalendarID)
	plan := planner.Build(tasks, events, idMap, calendarPath, opts)

	var outcome resultproc.Outcome
	outcome.IdMap = plan.RepairedIdMap

	if len(plan.Ops) > 0 {
		exec := batch.NewExecutor(batch.Config{
			MaxBatchPerHTTP:        settings.MaxBatchPerHTTP,
			MinDesiredBatchSize:    settings.MinDesiredBatchSize,
			MaxInFlightBatches:     settings.MaxInFlightBatches,
			InterBatchDelayMs:      settings.InterBatchDelayMs,
			LatencySLAms:           settings.LatencySLAms,
			RateErrorCooldownMs:    settings.RateErrorCooldownMs,
			CleanStreakForIncrease: settings.CleanStreakForIncrease,
			MaxRetryAttempts:       settings.MaxRetryAttempts,
		}, e.Remote, settings.MinDesiredBatchSize)

		outcomes, execErr := exec.Execute(ctx, plan.Ops)
		outcome = resultproc.Process(plan.RepairedIdMap, outcomes)
		if execErr != nil && len(outcomes) == 0 {
			telemetry.SyncRunsTotal.WithLabelValues("error").Inc()
			return Result{}, fmt.Errorf("syncrun: executing batch: %w", execErr)
		}
	}

	if err := e.Store.SaveIdMap(outcome.IdMap); err != nil {
		telemetry.SyncRunsTotal.WithLabelValues("error").Inc()
		return Result{}, fmt.Errorf("syncrun: saving id map: %w", err)
	}
	if err := e.Store.SaveLastSyncTime(time.Now().Format(time.RFC3339)); err != nil {
		log.Printf("[syncrun] warning: failed to persist last sync time: %v", err)
	}

	if outcome.AuthError {
		telemetry.SyncRunsTotal.WithLabelValues("auth_error").Inc()
	} else if outcome.Counters.Errors > 0 {
		telemetry.SyncRunsTotal.WithLabelValues("partial_error").Inc()
	} else {
		telemetry.SyncRunsTotal.WithLabelValues("success").Inc()
	}
	telemetry.SyncRunDurationSeconds.Observe(time.Since(started).Seconds())

	return Result{
		Counters:  outcome.Counters,
		Notes:     outcome.ErrorNotes,
		StartedAt: started,
		Duration:  time.Since(started),
	}, nil
}

// CredentialsReady adapts the OAuth2 manager to scheduler.CredentialsReady:
// a token can be ensured without requiring re-authorization.
func (e *Engine) CredentialsReady(ctx context.Context) bool {
	_, err := e.OAuth.EnsureAccessToken(ctx)
	return err == nil
}

// StartAuthorization begins the PKCE flow against a freshly-started
// loopback callback server, returning the authorization URL to open and
// the server to keep alive until HandleCallback fires (or the caller gives
// up and calls Stop itself).
func (e *Engine) StartAuthorization(ctx context.Context, configuredPort int) (authURL string, srv *callback.Server, warning error, err error) {
	done := make(chan error, 1)
	srv = callback.New(func(ctx context.Context, query map[string][]string) error {
		err := e.OAuth.HandleCallback(ctx, url.Values(query))
		done <- err
		return err
	})

	warning, err = srv.Start(configuredPort)
	if err != nil {
		return "", nil, nil, fmt.Errorf("syncrun: starting callback server: %w", err)
	}
	if warning != nil {
		if saveErr := e.Store.SaveRedirectPort(srv.BoundPort()); saveErr != nil {
			log.Printf("[syncrun] warning: failed to persist advanced redirect port: %v", saveErr)
		}
	}

	authURL, err = e.OAuth.StartAuthorization(srv.RedirectURI())
	if err != nil {
		_ = srv.Stop(ctx)
		return "", nil, nil, fmt.Errorf("syncrun: starting authorization: %w", err)
	}

	return authURL, srv, warning, nil
}

// Revoke clears locally-stored credentials and asks the authorization
// server to revoke the refresh token.
func (e *Engine) Revoke(ctx context.Context) error {
	return e.OAuth.Revoke(ctx)
}

// ForceResetSync clears the persisted IdMap and lastSyncTime (spec.md §7
// "force full resync"). The next run rebuilds the IdMap from the
// obsidianTaskId of each listed plugin-owned event, so tasks whose event
// still exists are re-linked rather than inserted again.
func (e *Engine) ForceResetSync(ctx context.Context) error {
	if err := e.Store.SaveIdMap(model.IdMap{}); err != nil {
		return fmt.Errorf("syncrun: clearing id map: %w", err)
	}
	if err := e.Store.SaveLastSyncTime(""); err != nil {
		return fmt.Errorf("syncrun: clearing last sync time: %w", err)
	}
	return nil
}

// DedupeReport is DedupeDryRun's result: candidate near-duplicate pairs
// among plugin-owned remote events.
type DedupeReport struct {
	Pairs []dedupe.Pair
}

// DedupeDryRun lists near-duplicate plugin-owned events without modifying
// anything, per spec.md §7's maintenance operations.
func (e *Engine) DedupeDryRun(ctx context.Context, threshold float32) (DedupeReport, error) {
	settings := e.Settings()
	events, err := e.Remote.ListPluginOwnedEvents(ctx, settings.CalendarID)
	if err != nil {
		return DedupeReport{}, fmt.Errorf("syncrun: listing remote events: %w", err)
	}
	return DedupeReport{Pairs: dedupe.Find(events, threshold)}, nil
}

// DedupeExec deletes the B side of every pair DedupeDryRun would report
// (keeping the A side, the event listed earlier by the remote) and removes
// the IdMap entry keyed by each deleted event's obsidianTaskId.
func (e *Engine) DedupeExec(ctx context.Context, threshold float32) (model.Counters, error) {
	settings := e.Settings()
	events, err := e.Remote.ListPluginOwnedEvents(ctx, settings.CalendarID)
	if err != nil {
		return model.Counters{}, fmt.Errorf("syncrun: listing remote events: %w", err)
	}

	pairs := dedupe.Find(events, threshold)
	if len(pairs) == 0 {
		return model.Counters{}, nil
	}

	calendarPath := "/calendars/" + url.PathEscape(settings.CalendarID)
	seen := map[string]struct{}{}
	var ops []model.BatchOp
	for _, p := range pairs {
		if _, done := seen[p.B.ID]; done {
			continue
		}
		seen[p.B.ID] = struct{}{}
		ops = append(ops, model.BatchOp{
			Method:        "DELETE",
			Path:          planner.EventPath(calendarPath, p.B.ID),
			OperationType: model.OpDelete,
			TaskID:        p.B.TaskID(),
		})
	}

	exec := batch.NewExecutor(batch.Config{
		MaxBatchPerHTTP:        settings.MaxBatchPerHTTP,
		MinDesiredBatchSize:    settings.MinDesiredBatchSize,
		MaxInFlightBatches:     settings.MaxInFlightBatches,
		InterBatchDelayMs:      settings.InterBatchDelayMs,
		LatencySLAms:           settings.LatencySLAms,
		RateErrorCooldownMs:    settings.RateErrorCooldownMs,
		CleanStreakForIncrease: settings.CleanStreakForIncrease,
		MaxRetryAttempts:       settings.MaxRetryAttempts,
	}, e.Remote, settings.MinDesiredBatchSize)

	outcomes, err := exec.Execute(ctx, ops)
	if err != nil && len(outcomes) == 0 {
		return model.Counters{}, fmt.Errorf("syncrun: executing dedupe batch: %w", err)
	}

	idMap, err := e.Store.LoadIdMap()
	if err != nil {
		return model.Counters{}, fmt.Errorf("syncrun: loading id map: %w", err)
	}
	outcome := resultproc.Process(idMap, outcomes)
	if err := e.Store.SaveIdMap(outcome.IdMap); err != nil {
		return model.Counters{}, fmt.Errorf("syncrun: saving id map: %w", err)
	}
	return outcome.Counters, nil
}

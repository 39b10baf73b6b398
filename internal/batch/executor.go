package batch

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/obsidian-gcal/syncengine/internal/model"
	"github.com/obsidian-gcal/syncengine/internal/telemetry"
)

// ErrCancelled is returned by Execute when the context is cancelled by the
// time execution ends; sub-batches not yet dispatched are skipped.
var ErrCancelled = errors.New("batch: execution cancelled")

// ErrStructuralMismatch marks a sub-batch whose parsed part count did not
// match its request count (spec.md §4.4).
var ErrStructuralMismatch = errors.New("batch: part count mismatch")

// Transport performs the outer HTTP POST for one sub-batch and returns the
// raw response body plus status code. Implementations must set
// "Content-Type: multipart/mixed; boundary=<boundary>" and the bearer auth
// header themselves.
type Transport interface {
	PostBatch(ctx context.Context, boundary string, body []byte) (status int, respBody []byte, err error)
}

// Config carries the executor tuning knobs from Settings (spec.md §4.4).
type Config struct {
	MaxBatchPerHTTP      int
	MinDesiredBatchSize  int
	MaxInFlightBatches   int
	InterBatchDelayMs    int
	LatencySLAms         int
	RateErrorCooldownMs  int
	CleanStreakForIncrease int
	MaxRetryAttempts     int
}

// Executor runs a plan's BatchOps against a batch transport with AIMD
// sub-batch sizing and bounded concurrency, per spec.md §4.4.
type Executor struct {
	cfg       Config
	transport Transport
	limiter   *rate.Limiter

	mu               sync.Mutex
	desiredBatchSize int
	cleanStreak      int
	recentLatencies  []time.Duration
}

// NewExecutor builds an Executor seeded with the settings' initial desired
// batch size (clamped into [MinDesiredBatchSize, MaxBatchPerHTTP]).
func NewExecutor(cfg Config, transport Transport, initialDesired int) *Executor {
	if initialDesired < cfg.MinDesiredBatchSize {
		initialDesired = cfg.MinDesiredBatchSize
	}
	if initialDesired > cfg.MaxBatchPerHTTP {
		initialDesired = cfg.MaxBatchPerHTTP
	}
	return &Executor{
		cfg:              cfg,
		transport:        transport,
		limiter:          newInterBatchLimiter(cfg.InterBatchDelayMs),
		desiredBatchSize: initialDesired,
	}
}

// newInterBatchLimiter paces sub-batch dispatch at one token per
// InterBatchDelayMs, with a burst of one so the first sub-batch of a run
// never waits. A non-positive delay disables pacing entirely.
func newInterBatchLimiter(delayMs int) *rate.Limiter {
	if delayMs <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(time.Duration(delayMs)*time.Millisecond), 1)
}

// SubBatchOutcome pairs one dispatched sub-batch's ops with its results (or
// an error if the sub-batch could not be completed at all).
type SubBatchOutcome struct {
	Ops     []model.BatchOp
	Results []model.BatchResult
	Err     error
}

// Execute chunks ops into sub-batches of the live desired size, dispatches
// up to cfg.MaxInFlightBatches concurrently, and returns one SubBatchOutcome
// per sub-batch (order does not reflect dispatch order). Timing
// instrumentation fires on every exit path.
func (e *Executor) Execute(ctx context.Context, ops []model.BatchOp) ([]SubBatchOutcome, error) {
	start := time.Now()
	defer func() {
		log.Printf("[batch] Execute All Batches: %s (%d ops)", time.Since(start), len(ops))
	}()

	if len(ops) == 0 {
		return nil, nil
	}

	var (
		outcomes   []SubBatchOutcome
		outcomesMu sync.Mutex
		inFlight   = e.cfg.MaxInFlightBatches
	)
	if inFlight < 1 {
		inFlight = 1
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(inFlight)

	remaining := ops
	dispatched := 0
	for len(remaining) > 0 {
		if ctx.Err() != nil {
			break
		}

		e.mu.Lock()
		size := e.desiredBatchSize
		e.mu.Unlock()
		if size > len(remaining) {
			size = len(remaining)
		}
		chunk := remaining[:size]
		remaining = remaining[size:]

		if dispatched > 0 {
			if err := e.limiter.Wait(ctx); err != nil {
				break
			}
		}
		dispatched++

		g.Go(func() error {
			results, err := e.runOneWithRetry(gCtx, chunk)
			outcomesMu.Lock()
			outcomes = append(outcomes, SubBatchOutcome{Ops: chunk, Results: results, Err: err})
			outcomesMu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Printf("[batch] dispatch loop error: %v", err)
	}

	if ctx.Err() != nil {
		return outcomes, ErrCancelled
	}
	return outcomes, nil
}

// runOneWithRetry dispatches one sub-batch, retrying transient outer
// failures with exponential backoff, and applies AIMD feedback.
func (e *Executor) runOneWithRetry(ctx context.Context, chunk []model.BatchOp) ([]model.BatchResult, error) {
	var lastErr error
	backoff := 500 * time.Millisecond

	for attempt := 0; attempt <= e.cfg.MaxRetryAttempts; attempt++ {
		telemetry.SubBatchAttemptsTotal.Inc()
		telemetry.InFlightSubBatches.Inc()
		started := time.Now()
		results, status, err := e.runOnce(ctx, chunk)
		latency := time.Since(started)
		telemetry.InFlightSubBatches.Dec()
		telemetry.SubBatchLatencySeconds.Observe(latency.Seconds())

		if err == nil && !isOuterRetryable(status) {
			e.onCleanOrRateLimited(latency, results)
			return results, nil
		}

		if errors.Is(err, ErrStructuralMismatch) {
			return nil, err
		}

		lastErr = err
		if err == nil {
			lastErr = fmt.Errorf("batch: outer call returned status %d", status)
		}
		if attempt == e.cfg.MaxRetryAttempts {
			break
		}

		e.onRateLimited()
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		telemetry.SubBatchRetryWaitSeconds.Add(backoff.Seconds())
		backoff *= 2
	}
	return nil, fmt.Errorf("batch: sub-batch failed after retries: %w", lastErr)
}

func (e *Executor) runOnce(ctx context.Context, chunk []model.BatchOp) ([]model.BatchResult, int, error) {
	boundary := newBoundary()
	wireBody, err := encodeMultipart(boundary, chunk)
	if err != nil {
		return nil, 0, err
	}

	status, respBody, err := e.transport.PostBatch(ctx, boundary, wireBody)
	if err != nil {
		return nil, status, err
	}
	if isOuterRetryable(status) {
		return nil, status, nil
	}
	if status >= 400 {
		return nil, status, fmt.Errorf("batch: outer call returned status %d", status)
	}

	results, err := decodeMultipart(boundary, respBody)
	if err != nil {
		return nil, status, err
	}
	if len(results) != len(chunk) {
		return nil, status, fmt.Errorf("%w: got %d parts for %d requests", ErrStructuralMismatch, len(results), len(chunk))
	}
	return results, status, nil
}

func isOuterRetryable(status int) bool {
	return status == 429 || status >= 500
}

// onRateLimited halves desiredBatchSize, resets the clean streak, and
// sleeps the configured cooldown before the caller's next attempt.
func (e *Executor) onRateLimited() {
	e.mu.Lock()
	e.desiredBatchSize = halve(e.desiredBatchSize, e.cfg.MinDesiredBatchSize)
	e.cleanStreak = 0
	telemetry.DesiredBatchSize.Set(float64(e.desiredBatchSize))
	e.mu.Unlock()
	if e.cfg.RateErrorCooldownMs > 0 {
		time.Sleep(time.Duration(e.cfg.RateErrorCooldownMs) * time.Millisecond)
	}
}

// onCleanOrRateLimited applies AIMD feedback for a sub-batch that completed
// without an outer transport failure: it still halves on a rate-limit
// signal embedded in per-item results, halves on p95-over-SLA latency, or
// additively increases after a clean streak.
func (e *Executor) onCleanOrRateLimited(latency time.Duration, results []model.BatchResult) bool {
	if anyRateLimitSignal(results) {
		e.onRateLimited()
		return true
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.recentLatencies = append(e.recentLatencies, latency)
	if len(e.recentLatencies) > 20 {
		e.recentLatencies = e.recentLatencies[len(e.recentLatencies)-20:]
	}
	if p95(e.recentLatencies) > time.Duration(e.cfg.LatencySLAms)*time.Millisecond {
		e.desiredBatchSize = halve(e.desiredBatchSize, e.cfg.MinDesiredBatchSize)
		e.cleanStreak = 0
		telemetry.DesiredBatchSize.Set(float64(e.desiredBatchSize))
		return false
	}

	e.cleanStreak++
	if e.cleanStreak >= e.cfg.CleanStreakForIncrease {
		if e.desiredBatchSize < e.cfg.MaxBatchPerHTTP {
			e.desiredBatchSize++
		}
		e.cleanStreak = 0
		telemetry.DesiredBatchSize.Set(float64(e.desiredBatchSize))
	}
	return false
}

func anyRateLimitSignal(results []model.BatchResult) bool {
	for _, r := range results {
		if r.Status == 429 || r.Status >= 500 {
			return true
		}
		if r.Status == 403 && isRateLimitMessage(r.Body) {
			return true
		}
	}
	return false
}

func isRateLimitMessage(body any) bool {
	m, ok := body.(map[string]any)
	if !ok {
		return false
	}
	errObj, _ := m["error"].(map[string]any)
	msg, _ := errObj["message"].(string)
	return strings.Contains(strings.ToLower(msg), "rate limit") || strings.Contains(strings.ToLower(msg), "quota")
}

func halve(current, floor int) int {
	v := current / 2
	if v < floor {
		v = floor
	}
	return v
}

func p95(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(len(sorted)) * 0.95)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func newBoundary() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return "batch_" + hex.EncodeToString(b)
}

// BearerTransport is a Transport backed by net/http, attaching a bearer
// token obtained fresh per call via tokenFn.
type BearerTransport struct {
	Client   *http.Client
	Endpoint string
	TokenFn  func(ctx context.Context) (string, error)
}

func (t *BearerTransport) PostBatch(ctx context.Context, boundary string, body []byte) (int, []byte, error) {
	token, err := t.TokenFn(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("batch: obtaining access token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.Endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "multipart/mixed; boundary="+boundary)
	req.Header.Set("Authorization", "Bearer "+token)

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, respBody, nil
}

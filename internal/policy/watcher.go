package policy

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/keithlinneman/linnemanlabs-helmet/internal/cryptoutil"
	"github.com/keithlinneman/linnemanlabs-helmet/internal/log"
)

const (
	DefaultPollInterval = 30 * time.Second

	maxBackoff = 5 * time.Minute
)

type pollResult int

const (
	pollNoChange pollResult = iota
	pollSwapped
	pollSSMError
	pollLoadError
)

// Fetcher is what the Watcher needs from a Loader.
type Fetcher interface {
	FetchCurrentHash(ctx context.Context) (string, error)
	LoadHash(ctx context.Context, hash string) (*Snapshot, error)
}

// WatcherMetrics is implemented by *metrics.ServerMetrics.
type WatcherMetrics interface {
	IncWatcherPolls()
	IncWatcherSwaps()
	IncWatcherError(errType string)
	ObservePolicyLoadDuration(seconds float64)
	SetWatcherLastSuccess(unixSeconds float64)
	SetWatcherStale(stale bool)
}

type WatcherOptions struct {
	Logger       log.Logger
	Loader       Fetcher
	Manager      *Manager
	PollInterval time.Duration

	// OnSwap runs on the poll goroutine after a new policy is installed.
	// A panic is logged and swallowed.
	OnSwap func(snap *Snapshot)

	Metrics WatcherMetrics

	// StaleThreshold is how long SSM may keep failing before the policy is
	// reported stale. Zero means 30 minutes.
	StaleThreshold time.Duration
}

// Watcher polls SSM for a new policy hash and swaps the policy in.
type Watcher struct {
	loader   Fetcher
	manager  *Manager
	logger   log.Logger
	interval time.Duration
	onSwap   func(*Snapshot)
	metrics  WatcherMetrics

	currentHash     string
	consecutiveErrs int

	staleThreshold time.Duration
	lastSuccessAt  time.Time
	stale          bool

	pollCount int64
	swapCount int64
}

func NewWatcher(opts WatcherOptions) *Watcher {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.StaleThreshold <= 0 {
		opts.StaleThreshold = 30 * time.Minute
	}

	// a policy loaded at startup is not downloaded again on the first poll
	current := ""
	if snap, ok := opts.Manager.Get(); ok {
		current = snap.Meta.SHA256
	}

	return &Watcher{
		loader:         opts.Loader,
		manager:        opts.Manager,
		logger:         opts.Logger,
		interval:       opts.PollInterval,
		onSwap:         opts.OnSwap,
		metrics:        opts.Metrics,
		currentHash:    current,
		staleThreshold: opts.StaleThreshold,
		lastSuccessAt:  time.Now(),
	}
}

// Run polls until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info(ctx, "policy watcher starting",
		"poll_interval", w.interval.String(),
		"current_hash", truncHash(w.currentHash),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info(ctx, "policy watcher stopping",
				"reason", ctx.Err(),
				"polls", w.pollCount,
				"swaps", w.swapCount,
			)
			return ctx.Err()
		case <-ticker.C:
			if next := w.tick(ctx, time.Now()); next > 0 {
				ticker.Reset(next)
			}
		}
	}
}

// tick runs one poll and returns a new ticker period, or 0 to keep the
// current one.
func (w *Watcher) tick(ctx context.Context, now time.Time) time.Duration {
	result := w.checkOnce(ctx)

	if result == pollSSMError {
		w.consecutiveErrs++
		backoff := w.backoffDuration()
		w.logger.Warn(ctx, "policy watcher: backing off",
			"consecutive_errors", w.consecutiveErrs,
			"next_poll_in", backoff.String(),
		)
		if !w.stale && now.Sub(w.lastSuccessAt) > w.staleThreshold {
			w.logger.Error(ctx, fmt.Errorf("last successful SSM poll was %s ago", now.Sub(w.lastSuccessAt).Truncate(time.Second)),
				"policy watcher: policy is stale",
			)
			w.setStale(true)
		}
		return backoff
	}

	if w.stale {
		w.logger.Info(ctx, "policy watcher: staleness recovered")
		w.setStale(false)
	}
	if w.consecutiveErrs > 0 {
		w.logger.Info(ctx, "policy watcher: recovered, resuming normal interval",
			"had_consecutive_errors", w.consecutiveErrs,
		)
		w.consecutiveErrs = 0
		return w.interval
	}
	return 0
}

func (w *Watcher) setStale(stale bool) {
	w.stale = stale
	if w.metrics != nil {
		w.metrics.SetWatcherStale(stale)
	}
}

// checkOnce is a single poll, compare and swap.
func (w *Watcher) checkOnce(ctx context.Context) pollResult {
	w.pollCount++
	if w.metrics != nil {
		w.metrics.IncWatcherPolls()
	}

	hash, err := w.loader.FetchCurrentHash(ctx)
	if err != nil {
		w.logger.Error(ctx, err, "policy watcher: SSM poll failed")
		if w.metrics != nil {
			w.metrics.IncWatcherError("ssm")
		}
		return pollSSMError
	}

	now := time.Now()
	w.lastSuccessAt = now
	if w.metrics != nil {
		w.metrics.SetWatcherLastSuccess(float64(now.Unix()))
	}

	if cryptoutil.HashEqual(hash, w.currentHash) {
		return pollNoChange
	}

	w.logger.Info(ctx, "policy watcher: new policy hash detected",
		"old_hash", truncHash(w.currentHash),
		"new_hash", truncHash(hash),
	)

	start := time.Now()
	snap, err := w.loader.LoadHash(ctx, hash)
	if w.metrics != nil {
		w.metrics.ObservePolicyLoadDuration(time.Since(start).Seconds())
	}
	if err != nil {
		w.logger.Error(ctx, err, "policy watcher: failed to load policy, keeping current",
			"rejected_hash", truncHash(hash),
			"current_hash", truncHash(w.currentHash),
		)
		if w.metrics != nil {
			w.metrics.IncWatcherError("load")
		}
		return pollLoadError
	}

	old := w.currentHash
	w.manager.Set(*snap)
	w.currentHash = hash
	w.swapCount++
	if w.metrics != nil {
		w.metrics.IncWatcherSwaps()
	}

	w.logger.Info(ctx, "policy watcher: policy swapped",
		"old_hash", truncHash(old),
		"new_hash", truncHash(hash),
		"features", snap.Meta.Features,
		"total_swaps", w.swapCount,
	)

	if w.onSwap != nil {
		installed, _ := w.manager.Get()
		func() {
			defer func() {
				if r := recover(); r != nil {
					w.logger.Error(ctx, fmt.Errorf("OnSwap panic: %v", r),
						"policy watcher: OnSwap callback panicked, continuing",
						"hash", truncHash(hash),
					)
				}
			}()
			w.onSwap(installed)
		}()
	}
	return pollSwapped
}

// backoffDuration is interval * 2^consecutiveErrs, capped at maxBackoff.
func (w *Watcher) backoffDuration() time.Duration {
	d := time.Duration(float64(w.interval) * math.Pow(2, float64(w.consecutiveErrs)))
	if d > maxBackoff || d <= 0 {
		d = maxBackoff
	}
	return d
}

func truncHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// Package retention prunes conversation logs under the configured caps. In
// safe mode pruning never overtakes a fresh device cursor; with hard limits
// enabled the caps win and slow readers hit replay_window_exceeded.
package retention

import (
	"time"

	"moorgate/internal/metrics"
	"moorgate/internal/store"
	"moorgate/pkg/config"
	"moorgate/pkg/logging"
)

// Engine sweeps conversation logs on a fixed interval.
type Engine struct {
	store   *store.Store
	policy  config.Retention
	logger  logging.Logger
	metrics *metrics.Metrics
	nowMs   func() int64
}

// New creates a retention engine. The engine does nothing when no cap is
// configured.
func New(st *store.Store, policy config.Retention, logger logging.Logger, m *metrics.Metrics) *Engine {
	return &Engine{
		store:   st,
		policy:  policy,
		logger:  logger,
		metrics: m,
		nowMs:   func() int64 { return time.Now().UnixMilli() },
	}
}

// SetClock overrides the time source. Tests only.
func (e *Engine) SetClock(nowMs func() int64) {
	e.nowMs = nowMs
}

// Start runs the sweeper loop until stop is closed.
func (e *Engine) Start(stop <-chan struct{}) {
	if !e.policy.Enabled() {
		return
	}
	go func() {
		ticker := time.NewTicker(time.Duration(e.policy.SweepIntervalS) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.Sweep()
			case <-stop:
				return
			}
		}
	}()
}

// Sweep prunes every conversation once. Failures are logged and retried on
// the next tick; request paths are never affected.
func (e *Engine) Sweep() {
	convIDs, err := e.store.ConvIDsWithEvents()
	if err != nil {
		e.logger.WithError(err).Error("Retention sweep failed to list conversations")
		return
	}
	var total int64
	for _, convID := range convIDs {
		deleted, err := e.PruneConv(convID)
		if err != nil {
			e.logger.WithError(err).WithField("conv_id", convID).Error("Prune failed")
			continue
		}
		total += deleted
	}
	if total > 0 {
		e.logger.WithFields(logging.Fields{
			"deleted":       total,
			"conversations": len(convIDs),
		}).Info("Retention sweep pruned events")
	}
}

// PruneConv applies the policy to one conversation and returns how many
// events were deleted.
func (e *Engine) PruneConv(convID string) (int64, error) {
	if !e.policy.Enabled() {
		return 0, nil
	}
	now := e.nowMs()

	bounds, err := e.store.ConvBounds(convID)
	if err != nil {
		return 0, err
	}
	if bounds.LatestSeq == 0 || bounds.EarliestSeq > bounds.LatestSeq {
		return 0, nil
	}

	var deleteUpTo int64
	if e.policy.MaxEventsPerConv > 0 {
		if upTo := bounds.LatestSeq - int64(e.policy.MaxEventsPerConv); upTo > deleteUpTo {
			deleteUpTo = upTo
		}
	}
	if e.policy.MaxAgeSeconds > 0 {
		cutoff := now - int64(e.policy.MaxAgeSeconds)*1000
		upTo, err := e.store.MaxSeqOlderThan(convID, cutoff)
		if err != nil {
			return 0, err
		}
		if upTo > deleteUpTo {
			deleteUpTo = upTo
		}
	}
	if deleteUpTo == 0 {
		return 0, nil
	}

	if !e.policy.HardLimits {
		staleAfterMs := int64(e.policy.CursorStaleAfterS) * 1000
		minNext, ok, err := e.store.ActiveMinNextSeq(convID, now, staleAfterMs)
		if err != nil {
			return 0, err
		}
		if ok && minNext-1 < deleteUpTo {
			deleteUpTo = minNext - 1
		}
	}
	if deleteUpTo <= 0 {
		return 0, nil
	}

	deleted, err := e.store.DeleteUpTo(convID, deleteUpTo)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		e.metrics.EventsPruned.WithLabelValues().Add(float64(deleted))
	}
	return deleted, nil
}

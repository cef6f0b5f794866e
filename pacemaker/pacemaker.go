// Package pacemaker implements view synchronization (§4.6): deciding how
// long a replica waits in a view before giving up and moving to the next
// one. Two variants are provided, both satisfying the same interface the
// consensus package depends on.
package pacemaker

import (
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/hotstuffsim/hotstuffsim/config"
	"github.com/hotstuffsim/hotstuffsim/types"
)

// Baseline is the fixed-timeout pacemaker: every view gets the same
// deadline regardless of history.
type Baseline struct {
	timeoutMs int64
}

func NewBaseline(cfg config.Config) *Baseline {
	return &Baseline{timeoutMs: int64(cfg.BaseTimeoutMs)}
}

func (b *Baseline) OnEnterView(types.ViewNumber) {}
func (b *Baseline) OnCommit()                    {}

func (b *Baseline) OnTimeout(types.ViewNumber) int64 { return b.timeoutMs }

func (b *Baseline) CurrentTimeoutMs() int64 { return b.timeoutMs }

// Adaptive tunes its timeout to observed network conditions: an
// exponentially-weighted moving average of commit latency sets a
// floor, and each consecutive timeout backs off multiplicatively via
// backoff.ExponentialBackOff, resetting the moment a view commits.
type Adaptive struct {
	alpha         float64
	k             float64
	deltaMinMs    float64
	deltaMaxMs    float64
	emaLatencyMs  float64
	backoff       *backoff.ExponentialBackOff
	currentBackMs float64
}

func NewAdaptive(cfg config.Config) *Adaptive {
	a := cfg.Adaptive
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = time.Duration(a.DeltaMinMs) * time.Millisecond
	eb.Multiplier = a.BackoffFactor
	eb.MaxInterval = time.Duration(a.DeltaMaxMs) * time.Millisecond
	eb.MaxElapsedTime = 0 // never expires; consecutive timeouts are bounded by MaxInterval instead
	eb.RandomizationFactor = 0
	eb.Reset()
	return &Adaptive{
		alpha:         a.Alpha,
		k:             a.K,
		deltaMinMs:    float64(a.DeltaMinMs),
		deltaMaxMs:    float64(a.DeltaMaxMs),
		emaLatencyMs:  float64(cfg.NetworkLatencyMs),
		backoff:       eb,
		currentBackMs: float64(a.DeltaMinMs),
	}
}

func (a *Adaptive) OnEnterView(types.ViewNumber) {}

// OnCommit resets the exponential back-off: a committed view is evidence
// the network has caught up, so the next view starts from the EMA floor
// again rather than continuing to escalate.
func (a *Adaptive) OnCommit() {
	a.backoff.Reset()
	a.currentBackMs = a.deltaMinMs
}

// OnTimeout advances the back-off by one step and returns the new timeout
// to arm for the next view.
func (a *Adaptive) OnTimeout(types.ViewNumber) int64 {
	next := a.backoff.NextBackOff()
	if next == backoff.Stop {
		next = time.Duration(a.deltaMaxMs) * time.Millisecond
	}
	a.currentBackMs = float64(next / time.Millisecond)
	return a.CurrentTimeoutMs()
}

// RecordLatency folds an observed commit latency into the EMA: the time
// from this replica receiving a round's opening Proposal to reaching its
// own commit of it (§9), fed in by the engine each time this replica emits
// a COMMIT event. Latency is measured per replica, not per message, so two
// replicas' EMAs can diverge under asymmetric network conditions -- that
// reflects each replica's own local observation, not a bug.
func (a *Adaptive) RecordLatency(observedMs float64) {
	a.emaLatencyMs = a.alpha*observedMs + (1-a.alpha)*a.emaLatencyMs
}

// CurrentTimeoutMs is max(delta_min, k*ema_latency, current_backoff),
// clamped to delta_max.
func (a *Adaptive) CurrentTimeoutMs() int64 {
	v := a.deltaMinMs
	if ema := a.k * a.emaLatencyMs; ema > v {
		v = ema
	}
	if a.currentBackMs > v {
		v = a.currentBackMs
	}
	if v > a.deltaMaxMs {
		v = a.deltaMaxMs
	}
	return int64(v)
}

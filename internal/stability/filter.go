// Package stability damps noisy per-fragment video verdicts into a stable
// SAFE/ALARM state per call.
package stability

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yoockh/callguard/internal/metrics"
	"github.com/yoockh/callguard/internal/utils"
)

type State string

const (
	Safe  State = "SAFE"
	Alarm State = "ALARM"
)

// Rule holds the window size and the hysteresis band.
// Positives >= AlarmAt moves to ALARM, <= SafeAt moves to SAFE, anything in
// between keeps the current state.
type Rule struct {
	Size    int
	AlarmAt int
	SafeAt  int
}

var DefaultRule = Rule{Size: 5, AlarmAt: 3, SafeAt: 1}

// Next is the whole state machine. bits is the window after the newest push.
func (r Rule) Next(current State, bits []bool) State {
	k := Positives(bits)
	switch {
	case k >= r.AlarmAt:
		return Alarm
	case k <= r.SafeAt:
		return Safe
	default:
		if current == "" {
			return Safe
		}
		return current
	}
}

func Positives(bits []bool) int {
	k := 0
	for _, b := range bits {
		if b {
			k++
		}
	}
	return k
}

// Push appends bit and keeps only the newest size entries.
func Push(bits []bool, bit bool, size int) []bool {
	out := append(append(make([]bool, 0, len(bits)+1), bits...), bit)
	if len(out) > size {
		out = out[len(out)-size:]
	}
	return out
}

// Transition is the outcome of one observation.
type Transition struct {
	CallID    int64
	Previous  State
	Current   State
	Positives int
}

func (t Transition) Changed() bool { return t.Previous != t.Current }

// Store keeps one window and state per call. Observe must apply the push,
// trim, read and state write as one atomic step per call id.
type Store interface {
	Observe(ctx context.Context, callID int64, positive bool, rule Rule) (Transition, error)
	Reset(ctx context.Context, callID int64) error
}

type Filter struct {
	store Store
	rule  Rule
	log   *logrus.Logger
}

func NewFilter(store Store, rule Rule, log *logrus.Logger) *Filter {
	if rule.Size <= 0 {
		rule = DefaultRule
	}
	if log == nil {
		log = logrus.New()
	}
	return &Filter{store: store, rule: rule, log: log}
}

// Observe feeds one raw video verdict and returns the stabilized state.
func (f *Filter) Observe(ctx context.Context, callID int64, positive bool) (Transition, error) {
	const op = "Filter.Observe"

	start := time.Now()
	tr, err := f.store.Observe(ctx, callID, positive, f.rule)
	if err != nil {
		return Transition{}, utils.E(utils.CodeUnavailable, op, "failed to update debounce window", err)
	}
	tr.CallID = callID

	if tr.Changed() {
		metrics.StabilityTransitions.WithLabelValues(string(tr.Current)).Inc()
		f.log.WithFields(logrus.Fields{
			"call_id":   callID,
			"from":      tr.Previous,
			"to":        tr.Current,
			"positives": tr.Positives,
			"took_ms":   time.Since(start).Milliseconds(),
		}).Info("stability state changed")
	}
	return tr, nil
}

func (f *Filter) Reset(ctx context.Context, callID int64) error {
	return f.store.Reset(ctx, callID)
}

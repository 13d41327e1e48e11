// ABOUTME: Kill strategies for crash injection.
// ABOUTME: A tagged variant dispatched by one coordinator loop, so the safety timeout is uniform.

package harness

import (
	"fmt"
	"time"
)

type killKind int

const (
	killNone killKind = iota
	killOnMessage
	killAfterDelay
)

// KillStrategy decides when the coordinator terminates the worker. Exactly
// one strategy is supplied per scenario; the safety timeout applies on top
// of it regardless.
type KillStrategy struct {
	kind  killKind
	pred  MessagePredicate
	delay time.Duration
}

// OnMessage kills the worker when the first transcript message satisfying
// pred arrives. Later matches are no-ops.
func OnMessage(pred MessagePredicate) KillStrategy {
	return KillStrategy{kind: killOnMessage, pred: pred}
}

// AfterDelay kills the worker a fixed duration after spawn, unless it was
// already killed by another path.
func AfterDelay(d time.Duration) KillStrategy {
	return KillStrategy{kind: killAfterDelay, delay: d}
}

// validate rejects the zero strategy and malformed variants.
func (k KillStrategy) validate() error {
	switch k.kind {
	case killOnMessage:
		if k.pred == nil {
			return fmt.Errorf("OnMessage strategy requires a predicate")
		}
	case killAfterDelay:
		if k.delay <= 0 {
			return fmt.Errorf("AfterDelay strategy requires a positive delay")
		}
	default:
		return fmt.Errorf("scenario requires a kill strategy")
	}
	return nil
}

func (k KillStrategy) String() string {
	switch k.kind {
	case killOnMessage:
		return "on-message"
	case killAfterDelay:
		return fmt.Sprintf("after-delay(%s)", k.delay)
	default:
		return "none"
	}
}

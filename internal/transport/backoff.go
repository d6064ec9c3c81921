package transport

import (
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/medfatnasii277/portalbell/internal/model"
)

const (
	StrategyFixed       = "fixed"
	StrategyExponential = "exponential"
)

// ReconnectPolicy builds a fresh backoff for a session loop.
type ReconnectPolicy func() backoff.BackOff

// NewReconnectPolicy maps the reconnect config onto a backoff policy. The
// fixed strategy waits the same delay between every attempt; exponential
// starts at the delay and grows up to the max delay.
func NewReconnectPolicy(cfg model.ReconnectConfig) ReconnectPolicy {
	delay := time.Duration(cfg.DelaySec) * time.Second
	maxDelay := time.Duration(cfg.MaxDelaySec) * time.Second
	if maxDelay < delay {
		maxDelay = delay
	}

	if cfg.Strategy == StrategyExponential {
		return func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = delay
			b.MaxInterval = maxDelay
			b.Multiplier = 2
			b.RandomizationFactor = 0.2
			b.Reset()
			return b
		}
	}

	return ConstantPolicy(delay)
}

// ConstantPolicy retries after the same delay forever.
func ConstantPolicy(d time.Duration) ReconnectPolicy {
	return func() backoff.BackOff {
		return backoff.NewConstantBackOff(d)
	}
}

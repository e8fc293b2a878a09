// Package startup waits for the external services the pipelines depend on.
package startup

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Backoff configures how long WaitFor keeps probing.
type Backoff struct {
	Initial  time.Duration
	Max      time.Duration
	Attempts int
	Factor   float64
}

// DefaultBackoff waits roughly two and a half minutes in total.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:  5 * time.Second,
		Max:      time.Minute,
		Attempts: 5,
		Factor:   2,
	}
}

var unreachable = []string{
	"connection refused",
	"no such host",
	"network is unreachable",
	"no route to host",
	"connection reset",
	"i/o timeout",
}

// Unreachable reports whether err means the service could not be reached,
// as opposed to rejecting the request.
func Unreachable(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range unreachable {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// WaitFor calls probe until it succeeds, fails with an error that is not
// Unreachable, or the attempts run out. The last error is returned.
func WaitFor(ctx context.Context, name string, b Backoff, probe func(context.Context) error, logger zerolog.Logger) error {
	log := logger.With().Str("service", name).Logger()
	delay := b.Initial

	var err error
	for attempt := 1; attempt <= b.Attempts; attempt++ {
		if err = probe(ctx); err == nil {
			if attempt > 1 {
				log.Info().Int("attempt", attempt).Msg("service reachable")
			}
			return nil
		}
		if !Unreachable(err) || attempt == b.Attempts {
			break
		}

		log.Warn().Err(err).
			Int("attempt", attempt).
			Dur("retryIn", delay).
			Msg("service unreachable, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * b.Factor)
		if b.Max > 0 && delay > b.Max {
			delay = b.Max
		}
	}
	return err
}

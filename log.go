package taskbatch

import (
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// logger is the concrete logger type used throughout the package: a
// logiface.Logger backed by stumpy's low-allocation JSON event writer,
// matching the way the teacher's own logiface-stumpy package is meant to
// be consumed.
type logger = logiface.Logger[*stumpy.Event]

// defaultLogger returns a stumpy-backed logger writing to os.Stderr, the
// same default stumpy.WithStumpy itself applies.
func defaultLogger() *logger {
	return stumpy.L.New(stumpy.L.WithStumpy())
}

// dropRateLimiter rate-limits a warning log line per category (here, task
// name), so that a dispatcher under sustained overload logs at a bounded
// rate rather than at the full submission rate. Every drop is still
// counted against I5's "drops only occur at enqueue time" contract -
// limiting applies only to the log line, never to whether the payload was
// actually dropped.
//
// A nil *catrate.Limiter is valid and disables rate limiting entirely (see
// catrate.Limiter.Allow), which is the default: no WithDropLogRateLimit
// option configured.
type dropRateLimiter = catrate.Limiter

// newDropRateLimiter builds a catrate.Limiter from the given sliding-window
// rates, e.g. {time.Second: 1} to log at most one QueueFull warning per
// task name, per second.
func newDropRateLimiter(rates map[time.Duration]int) *dropRateLimiter {
	if len(rates) == 0 {
		return nil
	}
	return catrate.NewLimiter(rates)
}

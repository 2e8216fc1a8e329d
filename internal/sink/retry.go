package sink

import (
	"time"

	"github.com/sirupsen/logrus"
)

// retryLogEvery is how often a still-failing write escalates from WARN to
// ERROR, mirroring the scanner's own retry loop.
const retryLogEvery = 5

// retryingSink wraps another Sink with a bounded number of write attempts
// separated by a fixed delay, so one transient audit-backend hiccup doesn't
// drop an event outright. Unlike the scanner's RPC retry loop, which is
// unbounded and only exits via context cancellation, a sink write has no
// caller willing to block forever, so the attempt count here is capped.
type retryingSink struct {
	next     Sink
	maxTries int
	backoff  time.Duration
}

// NewRetrySink wraps next so a failing Write is retried up to maxTries
// times, waiting backoffMS between attempts. maxTries below 1 is treated as
// 1 (no retry); backoffMS of 0 defaults to one second. A nil next yields a
// nil Sink so callers can wrap an optionally-configured audit sink
// unconditionally.
func NewRetrySink(next Sink, maxTries int, backoffMS int) Sink {
	if next == nil {
		return nil
	}
	if maxTries < 1 {
		maxTries = 1
	}
	if backoffMS == 0 {
		backoffMS = 1000
	}
	return &retryingSink{
		next:     next,
		maxTries: maxTries,
		backoff:  time.Duration(backoffMS) * time.Millisecond,
	}
}

// Write retries next.Write on failure, escalating from WARN to ERROR every
// retryLogEvery-th pass, and returns the last attempt's error once maxTries
// is exhausted.
func (r *retryingSink) Write(evt Event) error {
	var err error
	for attempt := 1; attempt <= r.maxTries; attempt++ {
		if err = r.next.Write(evt); err == nil {
			return nil
		}
		if attempt == r.maxTries {
			break
		}
		if attempt%retryLogEvery == 0 {
			logrus.Errorf("sink: write still failing after %d attempts: %v", attempt, err)
		} else {
			logrus.Warnf("sink: write attempt %d failed: %v", attempt, err)
		}
		time.Sleep(r.backoff)
	}
	return err
}

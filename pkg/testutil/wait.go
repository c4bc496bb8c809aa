package testutil

import (
	"fmt"
	"testing"
	"time"
)

const pollInterval = 10 * time.Millisecond

// WaitFor checks cond immediately and then every pollInterval until it holds.
// It returns an error naming what was awaited once timeout passes.
func WaitFor(tb testing.TB, what string, timeout time.Duration, cond func() bool) error {
	tb.Helper()
	if cond() {
		return nil
	}
	tick := time.NewTicker(pollInterval)
	defer tick.Stop()
	expired := time.NewTimer(timeout)
	defer expired.Stop()
	for {
		select {
		case <-tick.C:
			if cond() {
				return nil
			}
		case <-expired.C:
			if cond() {
				return nil
			}
			return fmt.Errorf("%s: not reached within %v", what, timeout)
		}
	}
}

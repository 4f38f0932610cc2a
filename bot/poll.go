package bot

import "time"

// pollUntil repeatedly invokes fn at the given interval until it returns
// true or the timeout elapses. Returns false only on timeout. The first
// attempt runs immediately. Kept free of any browser types on purpose so
// the whole retry discipline lives in one place.
func pollUntil(timeout, interval time.Duration, fn func() bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		if fn() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		remaining := time.Until(deadline)
		if remaining < interval {
			time.Sleep(remaining)
		} else {
			time.Sleep(interval)
		}
	}
}

// Package retry runs fallible operations with exponential backoff.
package retry

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"time"
)

// PermanentError marks an error as not worth retrying.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so Do returns it immediately instead of retrying.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// Do invokes fn up to maxAttempts times. The delay starts at baseDelay,
// doubles per attempt, and is jittered by +-25% to avoid thundering herds.
// It returns early on success, on a *PermanentError (unwrapped), or when
// ctx is cancelled during a backoff sleep.
func Do(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	delay := baseDelay
	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}

		var perm *PermanentError
		if errors.As(err, &perm) {
			return perm.Err
		}
		if attempt >= maxAttempts {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jittered(delay)):
		}
		delay *= 2
	}
}

// jittered spreads d across [0.75d, 1.25d].
func jittered(d time.Duration) time.Duration {
	quarter := d / 4
	return d - quarter + time.Duration(randInt64n(int64(2*quarter)+1))
}

// randInt64n returns a value in [0, n) from crypto/rand. Modulo bias is
// irrelevant for backoff timing.
func randInt64n(n int64) int64 {
	if n <= 0 {
		return 0
	}
	var b [8]byte
	_, _ = rand.Read(b[:])
	v := binary.LittleEndian.Uint64(b[:]) >> 1
	return int64(v % uint64(n))
}

package queue

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/lib/pq"
)

// errLostRace means another consumer deleted the selected message first
var errLostRace = errors.New("lost claim race")

// Postgres error codes treated as transient contention
var busyCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
	"53300": true, // too_many_connections
}

// IsBusy reports whether err is a transient store contention error
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, badger.ErrConflict) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return busyCodes[string(pqErr.Code)]
	}
	return false
}

// withBusyRetry retries fn on busy errors with a short linear delay.
func withBusyRetry(ctx context.Context, opts Options, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !IsBusy(err) || attempt >= opts.BusyRetries {
			return err
		}

		timer := time.NewTimer(opts.BusyDelay * time.Duration(attempt+1))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

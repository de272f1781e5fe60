package lookup

import (
	"context"
	"encoding/binary"
	"time"
)

// Rate describes a sliding-window limit of Requests per Period.
type Rate struct {
	Requests int64
	Period   time.Duration
}

// IsZero reports whether the rate is unconfigured.
func (r Rate) IsZero() bool {
	return r.Requests <= 0 || r.Period <= 0
}

// IsRateAllowed checks key against rate using time-aligned counter
// buckets: the active bucket id is now/period and the bucket expires at
// the end of its period. It returns 0 when the request is allowed, or
// the time until the bucket resets when denied.
//
// With soft true the check peeks at whether this request would exceed
// the limit without committing an increment; with soft false the
// increment is permanent. Stores whose CounterIncr cannot return the
// post-increment value are re-read afterwards, which can under-count
// under concurrent writers; the check never reports a lower count than
// the re-read observes.
func IsRateAllowed(ctx context.Context, store Store, key []byte, rate Rate, soft bool) (time.Duration, error) {
	current := now()
	period := uint64(rate.Period / time.Second)
	if period == 0 {
		// Bucket granularity is one second; shorter periods round up.
		period = 1
	}
	rangeStart := current / period
	rangeEnd := rangeStart*period + period
	expiresIn := time.Duration(rangeEnd-current) * time.Second

	bucket := make([]byte, 0, len(key)+8)
	bucket = append(bucket, key...)
	bucket = binary.BigEndian.AppendUint64(bucket, rangeStart)

	var requests int64
	if !soft {
		incremented, err := store.CounterIncr(ctx, bucket, 1, expiresIn)
		if err != nil {
			return 0, err
		}
		if incremented > 0 {
			requests = incremented
		} else {
			// Increment-and-get not supported by this store, re-read.
			requests, err = store.CounterGet(ctx, bucket)
			if err != nil {
				return 0, err
			}
		}
	} else {
		count, err := store.CounterGet(ctx, bucket)
		if err != nil {
			return 0, err
		}
		requests = count + 1
	}

	if requests <= rate.Requests {
		return 0, nil
	}
	return expiresIn, nil
}

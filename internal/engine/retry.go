package engine

import (
	"context"
	"math/rand/v2"
	"time"
)

// Backoff computes the delay before retry attempt n (1-indexed).
type Backoff interface {
	Delay(attempt int) time.Duration
}

// Jittered doubles Initial on every attempt up to Max and picks a random
// delay in [d/2, d) so that writers colliding on one queue spread out.
type Jittered struct {
	Initial time.Duration
	Max     time.Duration
}

// Delay implements Backoff.
func (j Jittered) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := j.Initial
	for i := 1; i < attempt && (j.Max <= 0 || d < j.Max); i++ {
		d *= 2
	}
	if j.Max > 0 && d > j.Max {
		d = j.Max
	}
	if d <= 1 {
		return d
	}
	half := d / 2
	return half + time.Duration(rand.Int64N(int64(d-half)))
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

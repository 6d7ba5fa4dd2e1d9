package tracecache

import (
	"context"
	"time"
)

// Observer receives events for cache and fetcher operations.
// It is called after each operation completes.
type Observer interface {
	OnOp(ctx context.Context, op string, key string, hit bool, err error, dur time.Duration, driver Driver)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, op string, key string, hit bool, err error, dur time.Duration, driver Driver)

// OnOp implements Observer.
func (f ObserverFunc) OnOp(ctx context.Context, op string, key string, hit bool, err error, dur time.Duration, driver Driver) {
	if f == nil {
		return
	}
	f(ctx, op, key, hit, err, dur, driver)
}

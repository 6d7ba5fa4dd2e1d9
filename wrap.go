package tracecache

import (
	"context"
	"fmt"
	"strconv"
)

// Operation is the unit wrapped by instrumentation middleware: a callable
// taking scalar arguments and producing a single textual result. Wrappers
// take an Operation and return a new Operation of the same shape; compose
// them by nesting at construction time.
type Operation func(ctx context.Context, args ...any) (string, error)

// CountCalls wraps op so every invocation atomically increments the
// store-backed counter named identity. The increment happens before op runs
// and is never rolled back, so the count reflects attempts, not successes.
// When stacked with RecordHistory, CountCalls goes outermost: the increment
// precedes the input append.
func CountCalls(store Store, identity string, op Operation) Operation {
	return func(ctx context.Context, args ...any) (string, error) {
		if _, err := store.Increment(ctx, identity, 1); err != nil {
			return "", fmt.Errorf("count calls for %s: %w", identity, err)
		}
		return op(ctx, args...)
	}
}

// Calls reads the invocation counter for identity. A counter that was never
// incremented reads as 0.
func Calls(ctx context.Context, store Store, identity string) (int64, error) {
	body, ok, err := store.Get(ctx, identity)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseInt(string(body), 10, 64)
	if err != nil {
		return 0, errParseKey(identity)
	}
	return n, nil
}

// RecordHistory wraps op so each call's serialized arguments are appended to
// the "<identity>:inputs" log strictly before op runs, and its output to
// "<identity>:outputs" strictly after op succeeds. Replay pairs entry i of
// both logs, so they must grow in lockstep, one entry per call, in call
// order. If op fails, the output append is skipped and the logs fall out of
// correspondence for that slot; this gap is accepted, not repaired.
func RecordHistory(store Store, identity string, op Operation) Operation {
	return func(ctx context.Context, args ...any) (string, error) {
		encoded, err := encodeArgs(args)
		if err != nil {
			return "", fmt.Errorf("record history for %s: %w", identity, err)
		}
		if _, err := store.ListAppend(ctx, inputsKey(identity), encoded); err != nil {
			return "", fmt.Errorf("append input for %s: %w", identity, err)
		}
		out, err := op(ctx, args...)
		if err != nil {
			return "", err
		}
		if _, err := store.ListAppend(ctx, outputsKey(identity), []byte(out)); err != nil {
			return out, fmt.Errorf("append output for %s: %w", identity, err)
		}
		return out, nil
	}
}

package tracecache

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// Replay writes a human-readable report of the recorded call history for
// identity: the total call count followed by one "identity(args) -> output"
// line per fully recorded call. Read-only. History entries are decoded with
// the same schema-checked codec that wrote them, so Replay must only be
// pointed at self-produced logs; a malformed entry fails with ErrParse.
func Replay(ctx context.Context, store Store, identity string, w io.Writer) error {
	calls, total, err := History(ctx, store, identity)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "%s was called %d times:\n", identity, total); err != nil {
		return err
	}
	for _, call := range calls {
		if _, err := fmt.Fprintf(w, "%s(%s) -> %s\n", identity, formatArgs(call.Args), call.Output); err != nil {
			return err
		}
	}
	return nil
}

func formatArgs(args []any) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		switch v := arg.(type) {
		case string:
			parts = append(parts, fmt.Sprintf("%q", v))
		default:
			parts = append(parts, fmt.Sprintf("%v", v))
		}
	}
	return strings.Join(parts, ", ")
}

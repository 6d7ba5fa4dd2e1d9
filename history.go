package tracecache

import (
	"context"
	"encoding/json"
	"fmt"
)

func inputsKey(identity string) string  { return identity + ":inputs" }
func outputsKey(identity string) string { return identity + ":outputs" }

// Call is one reconstructed invocation: the decoded argument tuple paired
// with the recorded output of the same call.
type Call struct {
	Args   []any
	Output string
}

// encodeArgs serializes an argument tuple as a JSON array of scalars.
// Only scalar arguments are accepted; []byte is carried as a string so the
// tuple survives a round trip without a side schema.
func encodeArgs(args []any) ([]byte, error) {
	normalized := make([]any, 0, len(args))
	for i, arg := range args {
		switch v := arg.(type) {
		case nil:
			normalized = append(normalized, nil)
		case string:
			normalized = append(normalized, v)
		case []byte:
			normalized = append(normalized, string(v))
		case bool, int, int8, int16, int32, int64,
			uint, uint8, uint16, uint32, uint64,
			float32, float64:
			normalized = append(normalized, v)
		default:
			return nil, fmt.Errorf("argument %d has non-scalar type %T", i, arg)
		}
	}
	body, err := json.Marshal(normalized)
	if err != nil {
		return nil, err
	}
	return body, nil
}

// decodeArgs parses a stored input-log entry back into an argument tuple.
// The entry must be a JSON array of scalars; anything else fails with
// ErrParse. Numeric arguments come back as float64, the JSON number form.
func decodeArgs(body []byte) ([]any, error) {
	var args []any
	if err := json.Unmarshal(body, &args); err != nil {
		return nil, fmt.Errorf("%w: malformed history entry: %v", ErrParse, err)
	}
	for i, arg := range args {
		switch arg.(type) {
		case nil, string, bool, float64:
		default:
			return nil, fmt.Errorf("%w: history entry %d has non-scalar type %T", ErrParse, i, arg)
		}
	}
	return args, nil
}

// History reads both logs for identity and pairs entry i of inputs with
// entry i of outputs. total is the inputs-log length, which counts every
// recorded call including any whose output append was skipped after a
// failure; only fully paired slots yield a Call.
func History(ctx context.Context, store Store, identity string) (calls []Call, total int64, err error) {
	inputs, err := store.ListRange(ctx, inputsKey(identity), 0, -1)
	if err != nil {
		return nil, 0, err
	}
	outputs, err := store.ListRange(ctx, outputsKey(identity), 0, -1)
	if err != nil {
		return nil, 0, err
	}
	paired := len(inputs)
	if len(outputs) < paired {
		paired = len(outputs)
	}
	calls = make([]Call, 0, paired)
	for i := 0; i < paired; i++ {
		args, err := decodeArgs(inputs[i])
		if err != nil {
			return nil, 0, err
		}
		calls = append(calls, Call{Args: args, Output: string(outputs[i])})
	}
	return calls, int64(len(inputs)), nil
}

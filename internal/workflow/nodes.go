package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/arctrany/ai-product-selector-sub007/internal/logging"
)

// Built-in node handlers. The host application registers these on the
// registry it hands to the engine; business-specific handlers follow the same
// shape.

// RegisterBuiltins installs the handlers shipped with the service.
func RegisterBuiltins(r *Registry) {
	r.Register("builtin.set_values", SetValuesNode)
	r.Register("builtin.batch_process", BatchProcessNode)
	r.Register("builtin.fail", FailNode)
}

// SetValuesNode merges its static args verbatim into the run data.
func SetValuesNode(_ context.Context, _ *ExecState, _ *logging.Logger, args map[string]any) (map[string]any, error) {
	return args, nil
}

// BatchProcessNode works through total_items items in batches of batch_size,
// recording progress under processed_count. It checkpoints at every item
// boundary, so a pause or cancel request takes effect mid-batch and a resumed
// run picks up at the first unprocessed item.
func BatchProcessNode(ctx context.Context, state *ExecState, logger *logging.Logger, args map[string]any) (map[string]any, error) {
	total, err := intArg(args, "total_items")
	if err != nil {
		return nil, err
	}
	batchSize, err := intArg(args, "batch_size")
	if err != nil || batchSize <= 0 {
		batchSize = total
	}

	processed := intFromData(state.Data, "processed_count")
	for processed < total {
		stop, err := state.Checkpoint(ctx, map[string]any{"processed_count": processed})
		if err != nil {
			return nil, err
		}
		if stop {
			logger.Info("run %s: batch processing interrupted at item %d/%d",
				state.ThreadID, processed, total)
			return nil, nil
		}

		processed++
		state.Data["processed_count"] = processed
		if processed%batchSize == 0 || processed == total {
			logger.Debug("run %s: processed %d/%d items", state.ThreadID, processed, total)
		}
	}

	return map[string]any{"processed_count": processed}, nil
}

// FailNode always returns an error, carrying the message from its args. Used
// to exercise failure paths end to end.
func FailNode(_ context.Context, _ *ExecState, _ *logging.Logger, args map[string]any) (map[string]any, error) {
	msg, _ := args["message"].(string)
	if msg == "" {
		msg = "fail node invoked"
	}
	return nil, errors.New(msg)
}

func intArg(args map[string]any, key string) (int, error) {
	v, ok := args[key]
	if !ok {
		return 0, fmt.Errorf("missing required arg %q", key)
	}
	n, ok := asInt(v)
	if !ok {
		return 0, fmt.Errorf("arg %q must be an integer, got %T", key, v)
	}
	return n, nil
}

func intFromData(data map[string]any, key string) int {
	n, _ := asInt(data[key])
	return n
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

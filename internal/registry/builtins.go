package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/flowforge/intentexec/internal/memory"
	"github.com/flowforge/intentexec/internal/telemetry"
)

// registerBuiltins installs wait and log (spec §4.8); self_reflect is added
// separately by RegisterSelfReflect. wait and log are registered unconditionally at construction since the registry is
// write-once at process start (spec §5) and built-ins must exist before any
// plan can reference them.
func registerBuiltins(r *Registry) {
	_ = r.Register(Definition{Name: "wait", Version: "1.0.0"}, waitImpl)
	_ = r.Register(Definition{Name: "log", Version: "1.0.0"}, logImpl(telemetry.NoopLogger{}))
}

// RegisterSelfReflect wires the self_reflect built-in to a concrete history
// Reader; it is not registered by New() because it needs the
// memory.Reader dependency injected from the composition root, unlike wait
// and log which have no external collaborators.
func RegisterSelfReflect(r *Registry, reader memory.Reader) error {
	return r.Register(Definition{Name: "self_reflect", Version: "1.0.0"}, selfReflectImpl(reader))
}

// RegisterLogger rebinds the log built-in to a real telemetry.Logger; must
// happen before the first invocation of "log" per the write-once-before-
// first-use rule (spec §5).
func RegisterLogger(r *Registry, logger telemetry.Logger) error {
	versions := r.byNameVersion["log"]
	delete(versions, "1.0.0")
	return r.Register(Definition{Name: "log", Version: "1.0.0"}, logImpl(logger))
}

func waitImpl(ctx context.Context, params map[string]any) (map[string]any, error) {
	durationMs, _ := params["duration_ms"].(float64)
	select {
	case <-time.After(time.Duration(durationMs) * time.Millisecond):
		return map[string]any{"waited_ms": durationMs}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func logImpl(logger telemetry.Logger) Implementation {
	return func(ctx context.Context, params map[string]any) (map[string]any, error) {
		message, _ := params["message"].(string)
		level, _ := params["level"].(string)
		switch level {
		case "warn":
			logger.Warn(ctx, message)
		case "error":
			logger.Error(ctx, message)
		default:
			logger.Info(ctx, message)
		}
		return map[string]any{"logged": true}, nil
	}
}

func selfReflectImpl(reader memory.Reader) Implementation {
	return func(ctx context.Context, params map[string]any) (map[string]any, error) {
		intentID, _ := params["intentId"].(string)
		if intentID == "" {
			return nil, fmt.Errorf("self_reflect requires intentId")
		}
		history, err := reader.History(ctx, intentID)
		if err != nil {
			return nil, err
		}
		summary := make([]map[string]any, 0, len(history))
		for _, e := range history {
			summary = append(summary, map[string]any{
				"type":      string(e.Type),
				"timestamp": e.Timestamp,
				"data":      e.Data,
			})
		}
		return map[string]any{"intent_id": intentID, "history": summary}, nil
	}
}

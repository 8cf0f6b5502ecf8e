// Package tools defines the ToolExecutor contract (spec §6): the
// orchestrator's sole collaborator for running a step's tool. The concrete
// binding is internal/registry.Registry, whose Execute method already
// satisfies this interface; orchestrator code depends on Executor rather
// than *registry.Registry so tests and the version-pinned variant can
// substitute doubles.
package tools

import (
	"context"

	"github.com/flowforge/intentexec/internal/registry"
)

// Executor runs a named tool under a timeout and never blocks past it
// (spec §6: "Must be cancellable via timeout; must not block indefinitely").
type Executor interface {
	Execute(ctx context.Context, toolName, version string, params map[string]any, timeoutMs int) registry.Result

	// Known reports whether toolName is registered at any version, so
	// callers can reject an unknown capability at planning/acceptance time
	// instead of only discovering it at dispatch (spec §8 scenario 3).
	Known(toolName string) bool
}

// Package registry implements the tool registry spec §4.8 describes:
// register-once-per-(name,version), latest-semver lookup, schema-validated
// typed dispatch under a timeout, and the built-in tools.
package registry

import (
	"context"
	"sort"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/flowforge/intentexec/internal/orcherr"
)

// Implementation is a tool's executable body: params have already passed
// input-schema validation by the time Execute calls it.
type Implementation func(ctx context.Context, params map[string]any) (map[string]any, error)

// Definition is a tool's registered shape (spec §4.8).
type Definition struct {
	Name         string
	Version      string
	InputSchema  *jsonschema.Schema
	ReturnSchema *jsonschema.Schema
}

// Result is execute's typed outcome (spec §4.8).
type Result struct {
	Success   bool
	Output    map[string]any
	Error     *orcherr.Error
	LatencyMs int64
}

type registration struct {
	def  Definition
	impl Implementation
}

// Registry holds tool registrations keyed by (name, version). Write-once
// per name+version: re-registration is forbidden (spec §4.8, §5: "write-once
// at process start; runtime registration is allowed but must happen before
// the first tool invocation of that name").
type Registry struct {
	byNameVersion map[string]map[string]registration
}

// New builds an empty Registry with the built-in tools pre-registered.
func New() *Registry {
	r := &Registry{byNameVersion: make(map[string]map[string]registration)}
	registerBuiltins(r)
	return r
}

// Register adds (definition, implementation) under (name, version).
// Re-registering an existing (name, version) pair is forbidden.
func (r *Registry) Register(def Definition, impl Implementation) error {
	versions, ok := r.byNameVersion[def.Name]
	if !ok {
		versions = make(map[string]registration)
		r.byNameVersion[def.Name] = versions
	}
	if _, exists := versions[def.Version]; exists {
		return orcherr.Newf(orcherr.CodeToolValidationFailed, "tool %s@%s already registered", def.Name, def.Version)
	}
	versions[def.Version] = registration{def: def, impl: impl}
	return nil
}

// Lookup resolves name to its highest registered semver.
func (r *Registry) Lookup(name string) (Definition, Implementation, error) {
	versions, ok := r.byNameVersion[name]
	if !ok || len(versions) == 0 {
		return Definition{}, nil, orcherr.Newf(orcherr.CodeToolNotFound, "tool %s not registered", name)
	}
	best := latestVersion(versions)
	reg := versions[best]
	return reg.def, reg.impl, nil
}

// Known reports whether name is registered at any version.
func (r *Registry) Known(name string) bool {
	versions, ok := r.byNameVersion[name]
	return ok && len(versions) > 0
}

// LookupVersion resolves name at exactly version.
func (r *Registry) LookupVersion(name, version string) (Definition, Implementation, error) {
	versions, ok := r.byNameVersion[name]
	if !ok {
		return Definition{}, nil, orcherr.Newf(orcherr.CodeToolNotFound, "tool %s not registered", name)
	}
	reg, ok := versions[version]
	if !ok {
		return Definition{}, nil, orcherr.Newf(orcherr.CodeToolNotFound, "tool %s@%s not registered", name, version)
	}
	return reg.def, reg.impl, nil
}

func latestVersion(versions map[string]registration) string {
	keys := make([]string, 0, len(versions))
	for v := range versions {
		keys = append(keys, v)
	}
	sort.Slice(keys, func(i, j int) bool { return compareSemver(keys[i], keys[j]) < 0 })
	return keys[len(keys)-1]
}

// Execute validates params against the resolved tool's input schema,
// dispatches under timeoutMs, and validates the output against the
// optional return schema (spec §4.8).
func (r *Registry) Execute(ctx context.Context, toolName, version string, params map[string]any, timeoutMs int) Result {
	var def Definition
	var impl Implementation
	var err error

	if version != "" {
		def, impl, err = r.LookupVersion(toolName, version)
	} else {
		def, impl, err = r.Lookup(toolName)
	}
	if err != nil {
		var orchErr *orcherr.Error
		if asOrchErr(err, &orchErr) {
			return Result{Success: false, Error: orchErr}
		}
		return Result{Success: false, Error: orcherr.Wrap(orcherr.CodeToolNotFound, "tool lookup failed", err)}
	}

	if def.InputSchema != nil {
		if verr := def.InputSchema.Validate(map[string]any(params)); verr != nil {
			return Result{Success: false, Error: orcherr.Wrap(orcherr.CodeToolValidationFailed, "input schema validation failed", verr)}
		}
	}

	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
	defer cancel()

	type callResult struct {
		output map[string]any
		err    error
	}
	done := make(chan callResult, 1)
	go func() {
		output, callErr := impl(callCtx, params)
		done <- callResult{output: output, err: callErr}
	}()

	select {
	case <-callCtx.Done():
		return Result{Success: false, LatencyMs: time.Since(start).Milliseconds(),
			Error: orcherr.New(orcherr.CodeStepTimeout, "tool "+toolName+" exceeded timeout")}
	case res := <-done:
		latency := time.Since(start).Milliseconds()
		if res.err != nil {
			return Result{Success: false, LatencyMs: latency,
				Error: orcherr.Wrap(orcherr.CodeToolExecutionFailed, "tool "+toolName+" execution failed", res.err)}
		}
		if def.ReturnSchema != nil {
			if verr := def.ReturnSchema.Validate(map[string]any(res.output)); verr != nil {
				return Result{Success: false, LatencyMs: latency,
					Error: orcherr.Wrap(orcherr.CodeToolValidationFailed, "return schema validation failed", verr)}
			}
		}
		return Result{Success: true, Output: res.output, LatencyMs: latency}
	}
}

func asOrchErr(err error, target **orcherr.Error) bool {
	oe, ok := err.(*orcherr.Error)
	if ok {
		*target = oe
	}
	return ok
}

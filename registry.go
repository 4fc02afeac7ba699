package framegrabber

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/frame-grabber/engine"
)

// DefaultSinkName is the name the engine generates for the first appsink of
// a description that does not name it explicitly.
const DefaultSinkName = "appsink0"

// DefaultStatePollInterval bounds each state query while waiting for a
// lifecycle transition.
const DefaultStatePollInterval = 100 * time.Millisecond

// Registry indexes every stage of a launched pipeline by name.
//
// The index is built once in BuildRegistry and never modified, so lookups are
// safe from any goroutine. Stage handles are borrowed from the engine and are
// valid until Close.
type Registry struct {
	pipeline engine.Pipeline
	stages   map[string]engine.Stage
	names    []string
	sink     engine.SinkStage

	pollInterval time.Duration
}

// BuildRegistry launches description on eng, enumerates the resulting stages
// and resolves the sink stage named sinkName (DefaultSinkName if empty).
//
// Returns a *ConstructionError if the description cannot be launched or the
// stages cannot be enumerated, and a *MissingRequiredStageError if no
// deliverable sink stage carries sinkName. The pipeline is closed on failure.
func BuildRegistry(eng engine.Engine, description, sinkName string) (*Registry, error) {
	if eng == nil {
		return nil, &ConstructionError{Description: description, Reason: "no pipeline engine"}
	}
	if sinkName == "" {
		sinkName = DefaultSinkName
	}

	pipeline, err := eng.Launch(description)
	if err != nil {
		return nil, &ConstructionError{
			Description: description,
			Reason:      "could not create pipeline",
			Err:         err,
		}
	}

	stages, err := pipeline.Stages()
	if err != nil {
		pipeline.Close()
		return nil, &ConstructionError{
			Description: description,
			Reason:      "unable to iterate pipeline stages",
			Err:         err,
		}
	}

	r := &Registry{
		pipeline:     pipeline,
		stages:       make(map[string]engine.Stage, len(stages)),
		names:        make([]string, 0, len(stages)),
		pollInterval: DefaultStatePollInterval,
	}

	for _, stage := range stages {
		name := stage.Name()
		if _, dup := r.stages[name]; dup {
			pipeline.Close()
			return nil, &ConstructionError{
				Description: description,
				Reason:      fmt.Sprintf("duplicate stage name %q", name),
			}
		}
		r.stages[name] = stage
		r.names = append(r.names, name)
	}
	sort.Strings(r.names)

	sink, ok := r.stages[sinkName].(engine.SinkStage)
	if !ok {
		pipeline.Close()
		return nil, &MissingRequiredStageError{Stage: sinkName, Available: r.StageNames()}
	}
	r.sink = sink

	slog.Debug("frame-grabber: pipeline registry built",
		"pipeline", pipeline.Name(),
		"stages", len(r.names),
		"sink", sinkName,
	)

	return r, nil
}

// StageNames returns every registered stage name, sorted. The result is a
// copy; it is identical for the whole lifetime of the registry.
func (r *Registry) StageNames() []string {
	names := make([]string, len(r.names))
	copy(names, r.names)
	return names
}

// Stage resolves a stage handle by name.
func (r *Registry) Stage(name string) (engine.Stage, error) {
	stage, ok := r.stages[name]
	if !ok {
		return nil, &UnknownStageError{Stage: name}
	}
	return stage, nil
}

// Sink returns the sink stage the handoff attaches to.
func (r *Registry) Sink() engine.SinkStage {
	return r.sink
}

// SetProperty writes a typed property on the named stage.
//
// value must be a bool, an integer, a float or a string; other types are
// rejected before reaching the engine. int32 and float32 are widened.
func (r *Registry) SetProperty(stageName, property string, value any) error {
	stage, err := r.Stage(stageName)
	if err != nil {
		return err
	}

	normalized, err := normalizePropertyValue(value)
	if err != nil {
		return &PropertyRejectedError{Stage: stageName, Property: property, Value: value, Err: err}
	}

	if err := stage.SetProperty(property, normalized); err != nil {
		return &PropertyRejectedError{Stage: stageName, Property: property, Value: value, Err: err}
	}

	slog.Debug("frame-grabber: property set",
		"stage", stageName,
		"property", property,
		"value", normalized,
	)
	return nil
}

func normalizePropertyValue(value any) (any, error) {
	switch v := value.(type) {
	case bool, int, int64, float64, string:
		return v, nil
	case int32:
		return int(v), nil
	case uint32:
		return int64(v), nil
	case float32:
		return float64(v), nil
	default:
		return nil, fmt.Errorf("unsupported property value type %T", value)
	}
}

// Start requests the PLAYING state and blocks until the engine confirms it.
func (r *Registry) Start(ctx context.Context) error {
	return r.transition(ctx, engine.StatePlaying)
}

// Stop requests the NULL state and blocks until the engine confirms it.
func (r *Registry) Stop(ctx context.Context) error {
	return r.transition(ctx, engine.StateNull)
}

// State queries the pipeline state without waiting.
func (r *Registry) State() (current, pending engine.State) {
	_, current, pending = r.pipeline.GetState(0)
	return current, pending
}

// transition requests target and polls the engine until it reports a
// terminal result. Each poll waits at most pollInterval. ctx is only checked
// between polls; context.Background polls indefinitely.
func (r *Registry) transition(ctx context.Context, target engine.State) error {
	result, err := r.pipeline.SetState(target)
	if err != nil || result == engine.StateChangeFailure {
		_, current, pending := r.pipeline.GetState(0)
		return r.transitionError(target, engine.StateChangeFailure, current, pending, err)
	}

	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			_, current, pending := r.pipeline.GetState(0)
			return r.transitionError(target, engine.StateChangeAsync, current, pending, err)
		}

		result, current, pending := r.pipeline.GetState(r.pollInterval)
		attempts++

		switch {
		case result.Settled():
			slog.Debug("frame-grabber: pipeline state confirmed",
				"target", target,
				"current", current,
				"result", result,
				"polls", attempts,
			)
			return nil

		case result == engine.StateChangeFailure:
			return r.transitionError(target, result, current, pending, nil)
		}

		if attempts%50 == 0 {
			slog.Debug("frame-grabber: still waiting for state change",
				"target", target,
				"current", current,
				"pending", pending,
				"polls", attempts,
			)
		}
	}
}

func (r *Registry) transitionError(target engine.State, result engine.StateChange, current, pending engine.State, cause error) error {
	terr := &StateTransitionError{
		Target:  target,
		Result:  result,
		Current: current,
		Pending: pending,
		Err:     cause,
	}

	if reporter, ok := r.pipeline.(engine.ErrorReporter); ok {
		if busErr := reporter.LastError(); busErr != nil {
			terr.Category = busErr.Category
			if terr.Err == nil {
				terr.Err = busErr
			}
		}
	}

	return terr
}

// Close releases the pipeline and every stage handle.
func (r *Registry) Close() error {
	return r.pipeline.Close()
}

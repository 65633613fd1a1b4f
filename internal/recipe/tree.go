// Package recipe implements T2, the command-claiming recipe executor.
package recipe

import (
	"encoding/json"

	"github.com/albaraazain/ald-control-plane/internal/store"
)

// StepKind is a closed set so the walker can exhaustively switch on it;
// an unrecognized kind from the database is treated as Unknown and skipped
// rather than crashing the executor.
type StepKind string

const (
	StepValve     StepKind = "valve"
	StepPurge     StepKind = "purge"
	StepParameter StepKind = "parameter"
	StepLoop      StepKind = "loop"
	StepUnknown   StepKind = "unknown"
)

func parseStepKind(s string) StepKind {
	switch StepKind(s) {
	case StepValve, StepPurge, StepParameter, StepLoop:
		return StepKind(s)
	default:
		return StepUnknown
	}
}

// defaultDurationMs is substituted for a valve/purge step with a missing
// or non-positive duration, per the defensive-defaults invariant.
const defaultDurationMs = 1000

// Op is one linearized, PLC-affecting (or structural) operation produced by
// expanding a recipe tree. LoopIteration/LoopCount describe the enclosing
// loop context for progress reporting, not an operation of their own.
type Op struct {
	StepID      string
	Kind        StepKind
	Name        string
	ValveNumber int
	DurationMs  int
	GasType     string
	FlowRate    float64
	ParameterID string
	TargetValue float64

	LoopIteration int
	LoopCount     int
}

// Plan is the flattened, ordered sequence of operations a recipe expands
// to, along with the total step count loop multiplication produces.
type Plan struct {
	Ops        []Op
	TotalSteps int
}

// ConfigLoader resolves a step's type-specific configuration row. Expand
// depends on this interface rather than *store.CatalogDB directly so the
// loop-expansion logic can be exercised against a fake loader in tests.
// *store.CatalogDB satisfies it. The bool return reports whether the
// normalized row was found; when false, expandStep falls back to parsing
// the step's legacy parameters_json column.
type ConfigLoader interface {
	LoadValveConfig(stepID string) (store.ValveStepConfig, bool)
	LoadPurgeConfig(stepID string) (store.PurgeStepConfig, bool)
	LoadLoopConfig(stepID string) (store.LoopStepConfig, bool)
	LoadParameterStepConfig(stepID string) (store.ParameterStepConfig, bool)
}

// Expand walks a recipe's step tree (steps is the full flat list for one
// recipe, parent-linked) and produces a linearized Plan. Root steps are
// those with no ParentStepID; roots and each loop's children run in the
// order they appear in steps (LoadRecipeTree returns them by ascending
// SequenceNumber); a loop step's children execute IterationCount times each.
func Expand(cat ConfigLoader, steps []store.RecipeStep) Plan {
	children := childrenByParent(steps)
	roots := children[""]

	var ops []Op
	for _, root := range roots {
		ops = append(ops, expandStep(cat, root, children, 0, 0)...)
	}
	return Plan{Ops: ops, TotalSteps: len(ops)}
}

func childrenByParent(steps []store.RecipeStep) map[string][]store.RecipeStep {
	m := make(map[string][]store.RecipeStep)
	for _, s := range steps {
		key := ""
		if s.ParentStepID != nil {
			key = *s.ParentStepID
		}
		m[key] = append(m[key], s)
	}
	return m
}

func expandStep(cat ConfigLoader, step store.RecipeStep, children map[string][]store.RecipeStep, iteration, count int) []Op {
	kind := parseStepKind(step.Type)

	switch kind {
	case StepValve:
		cfg, ok := cat.LoadValveConfig(step.ID)
		if !ok {
			cfg = parseValveParametersJSON(step.ParametersJSON)
		}
		dur := cfg.DurationMs
		if dur <= 0 {
			dur = defaultDurationMs
		}
		return []Op{{
			StepID: step.ID, Kind: StepValve, Name: step.Name,
			ValveNumber: cfg.ValveNumber, DurationMs: dur,
			LoopIteration: iteration, LoopCount: count,
		}}

	case StepPurge:
		cfg, ok := cat.LoadPurgeConfig(step.ID)
		if !ok {
			cfg = parsePurgeParametersJSON(step.ParametersJSON)
		}
		dur := cfg.DurationMs
		if dur <= 0 {
			dur = defaultDurationMs
		}
		op := Op{StepID: step.ID, Kind: StepPurge, Name: step.Name, DurationMs: dur, LoopIteration: iteration, LoopCount: count}
		if cfg.GasType != nil {
			op.GasType = *cfg.GasType
		}
		if cfg.FlowRate != nil {
			op.FlowRate = *cfg.FlowRate
		}
		return []Op{op}

	case StepParameter:
		cfg, ok := cat.LoadParameterStepConfig(step.ID)
		if !ok {
			cfg = parseParameterParametersJSON(step.ParametersJSON)
		}
		if cfg.ParameterID == "" {
			// Missing parameter id, in both the normalized row and the
			// legacy JSON column: skip this step rather than crash.
			return nil
		}
		return []Op{{
			StepID: step.ID, Kind: StepParameter, Name: step.Name,
			ParameterID: cfg.ParameterID, TargetValue: cfg.TargetValue,
			LoopIteration: iteration, LoopCount: count,
		}}

	case StepLoop:
		cfg, ok := cat.LoadLoopConfig(step.ID)
		if !ok {
			cfg = parseLoopParametersJSON(step.ParametersJSON)
		}
		if cfg.IterationCount <= 0 {
			cfg.IterationCount = 1
		}
		kids := children[step.ID]
		var out []Op
		for i := 1; i <= cfg.IterationCount; i++ {
			for _, kid := range kids {
				out = append(out, expandStep(cat, kid, children, i, cfg.IterationCount)...)
			}
		}
		return out

	default:
		return nil
	}
}

// The parse* helpers below are the fallback path for a step authored only
// via the legacy parameters_json column, with no row in the corresponding
// normalized *_step_config table. A missing or unparseable column degrades
// to a zero-value config rather than failing the whole recipe, matching
// expandStep's existing defensive-defaults posture for malformed rows.

func parseValveParametersJSON(raw *string) store.ValveStepConfig {
	var cfg store.ValveStepConfig
	if raw == nil {
		return cfg
	}
	var p struct {
		ValveNumber int `json:"valve_number"`
		DurationMs  int `json:"duration_ms"`
	}
	if err := json.Unmarshal([]byte(*raw), &p); err != nil {
		return cfg
	}
	cfg.ValveNumber = p.ValveNumber
	cfg.DurationMs = p.DurationMs
	return cfg
}

func parsePurgeParametersJSON(raw *string) store.PurgeStepConfig {
	var cfg store.PurgeStepConfig
	if raw == nil {
		return cfg
	}
	var p struct {
		DurationMs int      `json:"duration_ms"`
		GasType    *string  `json:"gas_type"`
		FlowRate   *float64 `json:"flow_rate"`
	}
	if err := json.Unmarshal([]byte(*raw), &p); err != nil {
		return cfg
	}
	cfg.DurationMs = p.DurationMs
	cfg.GasType = p.GasType
	cfg.FlowRate = p.FlowRate
	return cfg
}

func parseLoopParametersJSON(raw *string) store.LoopStepConfig {
	var cfg store.LoopStepConfig
	if raw == nil {
		return cfg
	}
	var p struct {
		IterationCount int `json:"iteration_count"`
	}
	if err := json.Unmarshal([]byte(*raw), &p); err != nil {
		return cfg
	}
	cfg.IterationCount = p.IterationCount
	return cfg
}

func parseParameterParametersJSON(raw *string) store.ParameterStepConfig {
	var cfg store.ParameterStepConfig
	if raw == nil {
		return cfg
	}
	var p struct {
		ParameterID string  `json:"parameter_id"`
		TargetValue float64 `json:"target_value"`
	}
	if err := json.Unmarshal([]byte(*raw), &p); err != nil {
		return cfg
	}
	cfg.ParameterID = p.ParameterID
	cfg.TargetValue = p.TargetValue
	return cfg
}

package store

import "time"

// The structs below are GORM-modeled read views over the relatively
// low-frequency, relationally-shaped recipe catalog and parameter catalog
// tables, mirroring this codebase's split between a raw pgx hot path and a
// declarative struct-mapped layer for everything else.

// Recipe is a named, versioned sequence of steps.
type Recipe struct {
	ID      string `gorm:"column:id;primaryKey"`
	Name    string `gorm:"column:name"`
	Version int    `gorm:"column:version"`
}

func (Recipe) TableName() string { return "recipes" }

// RecipeStep is one node of a recipe tree.
type RecipeStep struct {
	ID             string  `gorm:"column:id;primaryKey"`
	RecipeID       string  `gorm:"column:recipe_id"`
	SequenceNumber int     `gorm:"column:sequence_number"`
	Type           string  `gorm:"column:type"` // valve | purge | parameter | loop
	Name           string  `gorm:"column:name"`
	ParentStepID   *string `gorm:"column:parent_step_id"`
	ParametersJSON *string `gorm:"column:parameters_json"`
}

func (RecipeStep) TableName() string { return "recipe_steps" }

// ValveStepConfig is the normalized configuration for a valve step.
type ValveStepConfig struct {
	StepID      string `gorm:"column:step_id;primaryKey"`
	ValveNumber int    `gorm:"column:valve_number"`
	DurationMs  int    `gorm:"column:duration_ms"`
}

func (ValveStepConfig) TableName() string { return "valve_step_config" }

// PurgeStepConfig is the normalized configuration for a purge step.
type PurgeStepConfig struct {
	StepID     string   `gorm:"column:step_id;primaryKey"`
	DurationMs int      `gorm:"column:duration_ms"`
	GasType    *string  `gorm:"column:gas_type"`
	FlowRate   *float64 `gorm:"column:flow_rate"`
}

func (PurgeStepConfig) TableName() string { return "purge_step_config" }

// LoopStepConfig is the normalized configuration for a loop step.
type LoopStepConfig struct {
	StepID         string `gorm:"column:step_id;primaryKey"`
	IterationCount int    `gorm:"column:iteration_count"`
}

func (LoopStepConfig) TableName() string { return "loop_step_config" }

// ParameterStepConfig is the normalized configuration for a parameter-set step.
type ParameterStepConfig struct {
	StepID      string  `gorm:"column:step_id;primaryKey"`
	ParameterID string  `gorm:"column:parameter_id"`
	TargetValue float64 `gorm:"column:target_value"`
}

func (ParameterStepConfig) TableName() string { return "parameter_step_config" }

// ComponentParameter is one row of the parameter catalog.
type ComponentParameter struct {
	ID           string   `gorm:"column:id;primaryKey"`
	Name         string   `gorm:"column:name"`
	ComponentID  string   `gorm:"column:component_id"`
	DataType     string   `gorm:"column:data_type"` // float|int32|int16|binary
	ReadAddress  *int     `gorm:"column:read_address"`
	ReadType     *string  `gorm:"column:read_type"` // coil|holding
	WriteAddress *int     `gorm:"column:write_address"`
	WriteType    *string  `gorm:"column:write_type"`
	IsWritable   bool     `gorm:"column:is_writable"`
	MinValue     *float64 `gorm:"column:min_value"`
	MaxValue     *float64 `gorm:"column:max_value"`
}

func (ComponentParameter) TableName() string { return "component_parameters" }

// Machine is the per-machine current view.
type Machine struct {
	ID               string  `gorm:"column:id;primaryKey"`
	CurrentProcessID *string `gorm:"column:current_process_id"`
	Status           string  `gorm:"column:status"`
}

func (Machine) TableName() string { return "machines" }

// MachineState is the per-machine state timeline row.
type MachineState struct {
	MachineID     string     `gorm:"column:machine_id;primaryKey"`
	CurrentState  string     `gorm:"column:current_state"` // idle|running|error
	ProcessID     *string    `gorm:"column:process_id"`
	StateSince    time.Time  `gorm:"column:state_since"`
	IsFailureMode bool       `gorm:"column:is_failure_mode"`
}

func (MachineState) TableName() string { return "machine_state" }

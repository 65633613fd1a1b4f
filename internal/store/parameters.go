package store

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/albaraazain/ald-control-plane/internal/paramcache"
	"github.com/albaraazain/ald-control-plane/internal/plc"
)

// CatalogDB wraps a GORM connection used for the comparatively infrequent,
// relationally-shaped reads: the parameter catalog and the recipe tree.
// It deliberately does not share a connection pool with DB (the pgx hot
// path), matching this codebase's split between a raw driver for
// high-frequency access and an ORM for everything else.
type CatalogDB struct {
	gdb *gorm.DB
}

// OpenCatalog opens a GORM connection over the same Postgres instance,
// silencing GORM's own query logging in favor of this module's structured
// logger at the call site.
func OpenCatalog(dsn string) (*CatalogDB, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("store: open catalog connection: %w", err)
	}
	return &CatalogDB{gdb: gdb}, nil
}

// Close releases the underlying *sql.DB.
func (c *CatalogDB) Close() error {
	sqlDB, err := c.gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// LoadParameters reads the full component_parameters catalog and converts
// it into paramcache.Parameter values, resolving each row's textual
// data-type and register-kind columns into the plc package's typed
// constants.
func (c *CatalogDB) LoadParameters() ([]paramcache.Parameter, error) {
	var rows []ComponentParameter
	if err := c.gdb.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: load component_parameters: %w", err)
	}

	out := make([]paramcache.Parameter, 0, len(rows))
	for _, r := range rows {
		p := paramcache.Parameter{
			ID:          r.ID,
			Name:        r.Name,
			ComponentID: r.ComponentID,
			ColumnName:  r.Name,
			DataType:    parseDataType(r.DataType),
			Writable:    r.IsWritable,
			MinValue:    r.MinValue,
			MaxValue:    r.MaxValue,
		}
		if r.ReadAddress != nil && r.ReadType != nil {
			addr := plc.Address{Kind: parseRegisterKind(*r.ReadType), Addr: uint16(*r.ReadAddress)}
			p.ReadAddr = &addr
		}
		if r.WriteAddress != nil && r.WriteType != nil {
			addr := plc.Address{Kind: parseRegisterKind(*r.WriteType), Addr: uint16(*r.WriteAddress)}
			p.WriteAddr = &addr
		}
		out = append(out, p)
	}
	return out, nil
}

func parseDataType(s string) plc.DataType {
	switch s {
	case "int32":
		return plc.DataTypeInt32
	case "int16":
		return plc.DataTypeInt16
	case "binary", "bool", "coil":
		return plc.DataTypeBool
	default:
		return plc.DataTypeFloat
	}
}

func parseRegisterKind(s string) plc.RegisterKind {
	if s == "coil" {
		return plc.RegisterCoil
	}
	return plc.RegisterHolding
}

// LoadRecipeTree reads a recipe and its full step list ordered by
// sequence_number. Per-step configuration is not loaded here: Expand
// fetches each step's normalized row through the Load*Config methods, so
// that a malformed or missing per-step config row degrades to a default
// instead of dropping the whole recipe.
func (c *CatalogDB) LoadRecipeTree(recipeID string) (Recipe, []RecipeStep, error) {
	var recipe Recipe
	if err := c.gdb.Where("id = ?", recipeID).First(&recipe).Error; err != nil {
		return Recipe{}, nil, fmt.Errorf("store: load recipe %s: %w", recipeID, err)
	}

	var steps []RecipeStep
	if err := c.gdb.Where("recipe_id = ?", recipeID).Order("sequence_number asc").Find(&steps).Error; err != nil {
		return Recipe{}, nil, fmt.Errorf("store: load recipe steps %s: %w", recipeID, err)
	}
	return recipe, steps, nil
}

// LoadValveConfig returns the normalized valve config for a step. The bool
// is false when no row exists, telling the caller to fall back to the
// step's legacy parameters_json column.
func (c *CatalogDB) LoadValveConfig(stepID string) (ValveStepConfig, bool) {
	var cfg ValveStepConfig
	if err := c.gdb.Where("step_id = ?", stepID).First(&cfg).Error; err != nil {
		return ValveStepConfig{}, false
	}
	return cfg, true
}

// LoadPurgeConfig returns the normalized purge config for a step. The bool
// is false when no row exists.
func (c *CatalogDB) LoadPurgeConfig(stepID string) (PurgeStepConfig, bool) {
	var cfg PurgeStepConfig
	if err := c.gdb.Where("step_id = ?", stepID).First(&cfg).Error; err != nil {
		return PurgeStepConfig{}, false
	}
	return cfg, true
}

// LoadLoopConfig returns the normalized loop config for a step. The bool is
// false when no row exists; expandStep is responsible for defaulting to a
// single iteration so a malformed loop step never multiplies into an
// infinite or zero-length loop.
func (c *CatalogDB) LoadLoopConfig(stepID string) (LoopStepConfig, bool) {
	var cfg LoopStepConfig
	if err := c.gdb.Where("step_id = ?", stepID).First(&cfg).Error; err != nil {
		return LoopStepConfig{}, false
	}
	return cfg, true
}

// LoadParameterStepConfig returns the normalized parameter-set config for a
// step. The bool is false when no row exists.
func (c *CatalogDB) LoadParameterStepConfig(stepID string) (ParameterStepConfig, bool) {
	var cfg ParameterStepConfig
	if err := c.gdb.Where("step_id = ?", stepID).First(&cfg).Error; err != nil {
		return ParameterStepConfig{}, false
	}
	return cfg, true
}

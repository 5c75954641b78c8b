// Package task implements the background task drivers: one linear,
// timer-driven state machine per task type that emits progress and result
// events through the stream subsystem.
package task

import (
	"fmt"

	"github.com/google/uuid"
)

// Type names a supported background task type.
type Type string

// Supported task types.
const (
	TypeRefreshSchema Type = "refresh_schema"
	TypeGenerateData  Type = "generate_data"
	TypeTrainModel    Type = "train_model"
	TypeQuery         Type = "query"
)

// ParseType validates a task type label from an API request.
func ParseType(input string) (Type, error) {
	switch Type(input) {
	case TypeRefreshSchema, TypeGenerateData, TypeTrainModel, TypeQuery:
		return Type(input), nil
	default:
		return "", fmt.Errorf("unknown task type %q", input)
	}
}

// EventPrefix returns the prefix used for this type's lifecycle events
// (e.g. data_generation_started / data_generation_completed).
func (t Type) EventPrefix() string {
	switch t {
	case TypeRefreshSchema:
		return "schema_refresh"
	case TypeGenerateData:
		return "data_generation"
	case TypeTrainModel:
		return "training"
	case TypeQuery:
		return "query"
	default:
		return string(t)
	}
}

// Params carries the creation parameters shared by all task types. Fields
// irrelevant to a given type are ignored by its stage program.
type Params struct {
	// NumExamples bounds generate_data output; 0 selects the default.
	NumExamples int
	// Question is the natural-language input for query tasks.
	Question string
	// Table optionally scopes refresh_schema and query tasks.
	Table string
	// Epochs bounds train_model iterations; 0 selects the default.
	Epochs int
}

// Limits caps request parameters; values come from configuration.
type Limits struct {
	DefaultExamples int
	MaxExamples     int
}

const (
	defaultEpochs = 3
	maxEpochs     = 20
)

// withDefaults fills unset parameters and clamps them to the limits.
func (p Params) withDefaults(limits Limits) Params {
	if p.NumExamples <= 0 {
		p.NumExamples = limits.DefaultExamples
	}
	if limits.MaxExamples > 0 && p.NumExamples > limits.MaxExamples {
		p.NumExamples = limits.MaxExamples
	}
	if p.Epochs <= 0 {
		p.Epochs = defaultEpochs
	}
	if p.Epochs > maxEpochs {
		p.Epochs = maxEpochs
	}
	return p
}

// IDGenerator produces opaque task identifiers.
type IDGenerator interface {
	NewID() string
}

// UUIDGenerator implements IDGenerator with random UUIDs.
type UUIDGenerator struct{}

// NewID returns a new UUID string.
func (UUIDGenerator) NewID() string {
	return uuid.NewString()
}

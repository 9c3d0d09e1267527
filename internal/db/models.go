package db

import (
	"time"

	"github.com/google/uuid"
)

// MeasureType is the kind of utility meter photographed
type MeasureType string

const (
	MeasureTypeWater MeasureType = "WATER"
	MeasureTypeGas   MeasureType = "GAS"
)

// ParseMeasureType accepts exactly WATER or GAS
func ParseMeasureType(s string) (MeasureType, bool) {
	switch MeasureType(s) {
	case MeasureTypeWater, MeasureTypeGas:
		return MeasureType(s), true
	default:
		return "", false
	}
}

// Measure represents one meter reading in the database
type Measure struct {
	UUID            uuid.UUID
	CustomerCode    string
	MeasureType     MeasureType
	MeasureDatetime time.Time
	MeasurePeriod   time.Time
	InitialValue    float64
	ConfirmedValue  *float64
	IsConfirmed     bool
	ConfirmedBy     *string
	ConfirmedAt     *time.Time
	ImageURL        string
	CreatedAt       time.Time
}

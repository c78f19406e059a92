// Package control is the optimistic device-control synchronization engine:
// the believed device state, the intent coordinator with rollback, the
// manual pulse controller and the bootstrap loader.
package control

import (
	"fmt"

	"github.com/smartgrow/growd/internal/remote"
)

// State is the believed device configuration.
type State struct {
	AutoIrrigation          bool `json:"autoIrrigation"`
	AutoLighting            bool `json:"autoLighting"`
	AutoVentilation         bool `json:"autoVentilation"`
	IrrigationIntervalHours int  `json:"irrigationIntervalHours"`
	LightsOn                bool `json:"lightsOn"`
	VentilationOn           bool `json:"ventilationOn"`
}

// DefaultIntervalHours is the irrigation interval assumed at bootstrap.
const DefaultIntervalHours = 24

// DefaultState is used when the device cannot be read at bootstrap.
func DefaultState() State {
	return State{
		AutoIrrigation:          true,
		AutoLighting:            true,
		AutoVentilation:         true,
		IrrigationIntervalHours: DefaultIntervalHours,
	}
}

// Field names one independently settable part of State.
type Field string

const (
	FieldAutoIrrigation          Field = "autoIrrigation"
	FieldAutoLighting            Field = "autoLighting"
	FieldAutoVentilation         Field = "autoVentilation"
	FieldIrrigationIntervalHours Field = "irrigationIntervalHours"
	FieldLightsOn                Field = "lightsOn"
	FieldVentilationOn           Field = "ventilationOn"
)

// Intent is an operator request to change one field. On carries the value
// for boolean fields, Hours for FieldIrrigationIntervalHours.
type Intent struct {
	Field Field `json:"field"`
	On    bool  `json:"on"`
	Hours int   `json:"hours,omitempty"`
}

// Result reports what ApplyIntent did with an intent.
type Result int

const (
	// ResultIgnored: the field was locked, unknown, or the state not yet loaded.
	ResultIgnored Result = iota
	// ResultLocal: applied; the field has no remote counterpart.
	ResultLocal
	// ResultDispatched: applied optimistically, confirming write in flight.
	ResultDispatched
)

// String returns a human-readable name for the result.
func (r Result) String() string {
	switch r {
	case ResultIgnored:
		return "ignored"
	case ResultLocal:
		return "local"
	case ResultDispatched:
		return "dispatched"
	default:
		return "unknown"
	}
}

// endpoint selects which remote write confirms a field.
type endpoint int

const (
	endpointNone endpoint = iota
	endpointAutomation
	endpointManual
)

type fieldSpec struct {
	endpoint endpoint
	system   remote.System
	label    string
	editable func(State) bool
}

var fieldSpecs = map[Field]fieldSpec{
	FieldAutoIrrigation: {
		endpoint: endpointAutomation,
		system:   remote.SystemIrrigation,
		label:    "Irrigation automation",
		editable: always,
	},
	FieldAutoLighting: {
		endpoint: endpointAutomation,
		system:   remote.SystemLighting,
		label:    "Lighting automation",
		editable: always,
	},
	FieldAutoVentilation: {
		endpoint: endpointAutomation,
		system:   remote.SystemVentilation,
		label:    "Ventilation automation",
		editable: always,
	},
	FieldIrrigationIntervalHours: {
		endpoint: endpointNone,
		label:    "Irrigation interval",
		editable: func(s State) bool { return s.AutoIrrigation },
	},
	FieldLightsOn: {
		endpoint: endpointManual,
		system:   remote.SystemLighting,
		label:    "Lights",
		editable: func(s State) bool { return !s.AutoLighting },
	},
	FieldVentilationOn: {
		endpoint: endpointManual,
		system:   remote.SystemVentilation,
		label:    "Ventilation",
		editable: func(s State) bool { return !s.AutoVentilation },
	},
}

func always(State) bool { return true }

// Valid reports whether f names a known field.
func (f Field) Valid() bool {
	_, ok := fieldSpecs[f]
	return ok
}

// Local reports whether f is applied without remote confirmation.
func (f Field) Local() bool {
	return fieldSpecs[f].endpoint == endpointNone
}

// Editable reports whether an intent on f is accepted in state s.
func (s State) Editable(f Field) bool {
	spec, ok := fieldSpecs[f]
	return ok && spec.editable(s)
}

// intentFor returns the intent that would restore f to its value in s.
func (s State) intentFor(f Field) Intent {
	in := Intent{Field: f}
	switch f {
	case FieldAutoIrrigation:
		in.On = s.AutoIrrigation
	case FieldAutoLighting:
		in.On = s.AutoLighting
	case FieldAutoVentilation:
		in.On = s.AutoVentilation
	case FieldIrrigationIntervalHours:
		in.Hours = s.IrrigationIntervalHours
	case FieldLightsOn:
		in.On = s.LightsOn
	case FieldVentilationOn:
		in.On = s.VentilationOn
	}
	return in
}

// with returns a copy of s with in applied.
func (s State) with(in Intent) State {
	switch in.Field {
	case FieldAutoIrrigation:
		s.AutoIrrigation = in.On
	case FieldAutoLighting:
		s.AutoLighting = in.On
	case FieldAutoVentilation:
		s.AutoVentilation = in.On
	case FieldIrrigationIntervalHours:
		s.IrrigationIntervalHours = in.Hours
	case FieldLightsOn:
		s.LightsOn = in.On
	case FieldVentilationOn:
		s.VentilationOn = in.On
	}
	return s
}

// describe renders the outcome message for a confirmed or failed intent.
func (spec fieldSpec) describe(in Intent, ok bool) string {
	if !ok {
		return fmt.Sprintf("Failed to update %s", lowerFirst(spec.label))
	}
	switch spec.endpoint {
	case endpointAutomation:
		if in.On {
			return spec.label + " enabled"
		}
		return spec.label + " disabled"
	case endpointManual:
		if in.On {
			return spec.label + " turned on"
		}
		return spec.label + " turned off"
	}
	return spec.label + " updated"
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'A' && b[0] <= 'Z' {
		b[0] += 'a' - 'A'
	}
	return string(b)
}

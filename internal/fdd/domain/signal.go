package fdd

import "errors"

// Signal names a normalized telemetry input of an air handling unit.
type Signal string

const (
	SignalDuctStaticPressure Signal = "duct_static_pressure"
	SignalDuctStaticSetpoint Signal = "duct_static_setpoint"
	SignalSupplyFanSpeed     Signal = "supply_fan_speed"
	SignalMixedAirTemp       Signal = "mixed_air_temp"
	SignalOutsideAirTemp     Signal = "outside_air_temp"
	SignalReturnAirTemp      Signal = "return_air_temp"
)

var signalUnits = map[Signal]string{
	SignalDuctStaticPressure: "inH2O",
	SignalDuctStaticSetpoint: "inH2O",
	SignalSupplyFanSpeed:     "percent",
	SignalMixedAirTemp:       "degF",
	SignalOutsideAirTemp:     "degF",
	SignalReturnAirTemp:      "degF",
}

// Unit returns the engineering unit of a known signal.
func (s Signal) Unit() string {
	return signalUnits[s]
}

// Valid returns true when the signal is part of the catalogue.
func (s Signal) Valid() bool {
	_, ok := signalUnits[s]
	return ok
}

// PointRef is an opaque external point reference (MQTT topic, OPC UA node id, ...).
type PointRef string

// PointBinding binds an external point to a signal of one equipment instance.
type PointBinding struct {
	Signal Signal
	Ref    PointRef
}

// Validate checks binding invariants.
func (b PointBinding) Validate() error {
	if !b.Signal.Valid() {
		return errors.New("point binding: unknown signal " + string(b.Signal))
	}
	if b.Ref == "" {
		return errors.New("point binding: empty point ref for " + string(b.Signal))
	}
	return nil
}

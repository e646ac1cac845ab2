package fdd

import "math"

// MixedAirLowRule is G36 FC2: mixed air temperature below both return and outside air
// temperatures, beyond sensor error, while the fan runs.
type MixedAirLowRule struct{}

func (MixedAirLowRule) Signals() []Signal {
	return []Signal{SignalMixedAirTemp, SignalReturnAirTemp, SignalOutsideAirTemp}
}

func (MixedAirLowRule) Thresholds() []string {
	return []string{ThresholdMixedAirErr, ThresholdReturnAirErr, ThresholdOutsideAirErr}
}

func (MixedAirLowRule) Evaluate(in Input) (Result, error) {
	t, err := readTemperatures(in)
	if err != nil {
		return Result{}, err
	}
	if !t.fanRunning {
		return Result{}, nil
	}
	lower := math.Min(t.returnAir-t.returnErr, t.outsideAir-t.outsideErr)
	return Result{Fault: t.mixedAir+t.mixedErr < lower}, nil
}

// MixedAirHighRule is G36 FC3: mixed air temperature above both return and outside air
// temperatures, beyond sensor error, while the fan runs.
type MixedAirHighRule struct{}

func (MixedAirHighRule) Signals() []Signal {
	return MixedAirLowRule{}.Signals()
}

func (MixedAirHighRule) Thresholds() []string {
	return MixedAirLowRule{}.Thresholds()
}

func (MixedAirHighRule) Evaluate(in Input) (Result, error) {
	t, err := readTemperatures(in)
	if err != nil {
		return Result{}, err
	}
	if !t.fanRunning {
		return Result{}, nil
	}
	upper := math.Max(t.returnAir+t.returnErr, t.outsideAir+t.outsideErr)
	return Result{Fault: t.mixedAir-t.mixedErr > upper}, nil
}

type temperatures struct {
	mixedAir, returnAir, outsideAir float64
	mixedErr, returnErr, outsideErr float64
	fanRunning                      bool
}

func readTemperatures(in Input) (temperatures, error) {
	var t temperatures
	var err error
	if t.fanRunning, err = in.Flag(StatusFanRunning); err != nil {
		return t, err
	}
	if t.mixedAir, err = in.Mean(SignalMixedAirTemp); err != nil {
		return t, err
	}
	if t.returnAir, err = in.Mean(SignalReturnAirTemp); err != nil {
		return t, err
	}
	if t.outsideAir, err = in.Mean(SignalOutsideAirTemp); err != nil {
		return t, err
	}
	if t.mixedErr, err = in.Threshold(ThresholdMixedAirErr); err != nil {
		return t, err
	}
	if t.returnErr, err = in.Threshold(ThresholdReturnAirErr); err != nil {
		return t, err
	}
	if t.outsideErr, err = in.Threshold(ThresholdOutsideAirErr); err != nil {
		return t, err
	}
	return t, nil
}

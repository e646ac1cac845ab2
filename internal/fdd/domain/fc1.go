package fdd

// PressureFanRule is G36 FC1: duct static pressure below setpoint while the supply fan
// runs at or near full speed. It also publishes StatusFanRunning.
type PressureFanRule struct{}

func (PressureFanRule) Signals() []Signal {
	return []Signal{SignalDuctStaticPressure, SignalDuctStaticSetpoint, SignalSupplyFanSpeed}
}

func (PressureFanRule) Thresholds() []string {
	return []string{ThresholdDuctStaticErr, ThresholdVFDSpeedMax, ThresholdVFDSpeedErr}
}

func (PressureFanRule) Evaluate(in Input) (Result, error) {
	pressure, err := in.Mean(SignalDuctStaticPressure)
	if err != nil {
		return Result{}, err
	}
	setpoint, err := in.Mean(SignalDuctStaticSetpoint)
	if err != nil {
		return Result{}, err
	}
	fanSpeed, err := in.Mean(SignalSupplyFanSpeed)
	if err != nil {
		return Result{}, err
	}
	pressureErr, err := in.Threshold(ThresholdDuctStaticErr)
	if err != nil {
		return Result{}, err
	}
	fanMax, err := in.Threshold(ThresholdVFDSpeedMax)
	if err != nil {
		return Result{}, err
	}
	fanErr, err := in.Threshold(ThresholdVFDSpeedErr)
	if err != nil {
		return Result{}, err
	}

	running := fanSpeed > 0
	result := Result{Derived: Status{StatusFanRunning: running}}
	if !running {
		return result, nil
	}
	result.Fault = pressure < setpoint-pressureErr && fanSpeed >= fanMax-fanErr
	return result, nil
}

package fdd

// Threshold names. Values are operator tunables read at evaluation time.
const (
	ThresholdDuctStaticErr = "duct_static_err_thres"
	ThresholdVFDSpeedMax   = "vfd_speed_max_thres"
	ThresholdVFDSpeedErr   = "vfd_speed_err_thres"
	ThresholdMixedAirErr   = "mix_degf_err_thres"
	ThresholdReturnAirErr  = "return_degf_err_thres"
	ThresholdOutsideAirErr = "outdoor_degf_err_thres"
)

// DefaultThresholds returns the factory tunables for a rule.
func DefaultThresholds(id RuleID) map[string]float64 {
	switch id {
	case RuleFC1:
		return map[string]float64{
			ThresholdDuctStaticErr: 0.1,
			ThresholdVFDSpeedMax:   95.0,
			ThresholdVFDSpeedErr:   5.0,
		}
	case RuleFC2, RuleFC3:
		return map[string]float64{
			ThresholdMixedAirErr:   5.0,
			ThresholdReturnAirErr:  5.0,
			ThresholdOutsideAirErr: 2.0,
		}
	default:
		return map[string]float64{}
	}
}

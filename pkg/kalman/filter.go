// Package kalman implements a scalar recursive estimator for GPS coordinate axes.
//
// One Filter instance tracks a single axis (latitude or longitude). The two
// axes of a position are filtered by independent, uncorrelated instances; a
// joint 2D estimator would track them together, but the per-axis split is the
// established behavior of this pipeline and is kept as-is.
package kalman

// Noise figure pairs selected per call from the reported fix accuracy.
// Fixes worse than 10 m are trusted less and smoothed more.
const (
	relaxedMeasurementNoise = 0.001
	relaxedProcessNoise     = 0.0005
	tightMeasurementNoise   = 0.0001
	tightProcessNoise       = 0.00001

	accuracyRelaxThresholdM = 10
)

// Filter is a one-dimensional recursive state estimator with state-transition
// coefficient 1, control coefficient 0 and observation coefficient 1.
type Filter struct {
	estimate    float64
	covariance  float64
	initialized bool

	measurementNoise float64
	processNoise     float64
}

// NewFilter creates an uninitialized filter. The first measurement is adopted
// directly as the initial estimate.
func NewFilter() *Filter {
	return &Filter{
		measurementNoise: tightMeasurementNoise,
		processNoise:     tightProcessNoise,
	}
}

// adjustNoise selects the noise figures for the reported accuracy
func (f *Filter) adjustNoise(accuracyM float64) {
	if accuracyM > accuracyRelaxThresholdM {
		f.measurementNoise = relaxedMeasurementNoise
		f.processNoise = relaxedProcessNoise
	} else {
		f.measurementNoise = tightMeasurementNoise
		f.processNoise = tightProcessNoise
	}
}

// Filter folds one measurement into the state and returns the new estimate.
// accuracyM is the instantaneous accuracy reported with the fix, in meters.
func (f *Filter) Filter(measurement, accuracyM float64) float64 {
	f.adjustNoise(accuracyM)

	if !f.initialized {
		f.estimate = measurement
		f.covariance = f.measurementNoise
		f.initialized = true
		return f.estimate
	}

	// Predict: no control input, so the estimate carries over and only
	// uncertainty grows.
	predictedEstimate := f.estimate
	predictedCovariance := f.covariance + f.processNoise

	gain := predictedCovariance / (predictedCovariance + f.measurementNoise)
	f.estimate = predictedEstimate + gain*(measurement-predictedEstimate)
	f.covariance = (1 - gain) * predictedCovariance

	return f.estimate
}

// Initialized reports whether the filter has consumed at least one measurement
func (f *Filter) Initialized() bool {
	return f.initialized
}

// State returns the current estimate and covariance
func (f *Filter) State() (estimate, covariance float64) {
	return f.estimate, f.covariance
}

package fdd

// SampleWindow is a tumbling buffer of samples for one signal. It is consumed once per
// evaluation pass and is not safe for concurrent use; the owning equipment instance
// serializes access.
type SampleWindow struct {
	samples []float64
}

// NewSampleWindow constructs an empty window.
func NewSampleWindow() *SampleWindow {
	return &SampleWindow{}
}

// Append adds a sample.
func (w *SampleWindow) Append(value float64) {
	w.samples = append(w.samples, value)
}

// Size returns the number of samples accumulated since the last drain.
func (w *SampleWindow) Size() int {
	return len(w.samples)
}

// Mean returns the average of the accumulated samples and drains the window.
// An empty window yields 0.
func (w *SampleWindow) Mean() float64 {
	if len(w.samples) == 0 {
		return 0
	}
	var total float64
	for _, v := range w.samples {
		total += v
	}
	mean := total / float64(len(w.samples))
	w.Reset()
	return mean
}

// Reset drops all samples, keeping the backing array for the next cycle.
func (w *SampleWindow) Reset() {
	w.samples = w.samples[:0]
}

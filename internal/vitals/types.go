package vitals

// Scalar is a single estimated value with its confidence.
type Scalar struct {
	Value      float64 `json:"value"`
	Unit       string  `json:"unit,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Note       string  `json:"note,omitempty"`
}

// Waveform is an ordered sequence of samples at the video frame rate.
type Waveform struct {
	Data       []float64 `json:"data"`
	Unit       string    `json:"unit,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
}

// VitalSigns mirrors the engine's per-face measurement payload. Respiratory
// fields are only populated by methods that support respiration.
type VitalSigns struct {
	HeartRate           *Scalar   `json:"heart_rate,omitempty"`
	RespiratoryRate     *Scalar   `json:"respiratory_rate,omitempty"`
	PPGWaveform         *Waveform `json:"ppg_waveform,omitempty"`
	RespiratoryWaveform *Waveform `json:"respiratory_waveform,omitempty"`
}

// Face carries the engine's face detection metadata.
type Face struct {
	Confidence float64 `json:"confidence,omitempty"`
	Note       string  `json:"note,omitempty"`
}

// FaceResult is the full measurement for one detected face.
type FaceResult struct {
	Face       Face       `json:"face"`
	VitalSigns VitalSigns `json:"vital_signs"`
	Message    string     `json:"message,omitempty"`
}

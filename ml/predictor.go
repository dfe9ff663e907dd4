package ml

import "fmt"

// Prediction is the outcome for a single patient record.
type Prediction struct {
	Label       int       `json:"label"`
	Probability float64   `json:"probability"`
	Proba       []float64 `json:"proba"`
	Warnings    []string  `json:"warnings,omitempty"`
}

// HighRisk reports whether the predicted label is the stroke class.
func (p Prediction) HighRisk() bool {
	return p.Label == LabelHighRisk
}

// Predictor pairs a loaded forest with the encoder it was trained through.
type Predictor struct {
	artifacts *Artifacts
	encoder   *Encoder
}

func NewPredictor(a *Artifacts) (*Predictor, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	encoder, err := NewEncoder(a.Schema)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArtifactMismatch, err)
	}
	return &Predictor{artifacts: a, encoder: encoder}, nil
}

// LoadPredictor reads a model/feature-name file pair.
func LoadPredictor(modelPath, namesPath string) (*Predictor, error) {
	a, err := LoadArtifacts(modelPath, namesPath)
	if err != nil {
		return nil, err
	}
	return NewPredictor(a)
}

// Encode aligns a record with the model's feature names.
func (p *Predictor) Encode(r PatientRecord) ([]float64, []string, error) {
	return p.encoder.EncodeWithWarnings(r)
}

// PredictVector classifies an already aligned vector.
func (p *Predictor) PredictVector(vec []float64) (Prediction, error) {
	proba, err := p.artifacts.Forest.PredictProba(vec)
	if err != nil {
		return Prediction{}, err
	}
	label := argmax(proba)
	return Prediction{Label: label, Probability: proba[label], Proba: proba}, nil
}

// PredictRecord encodes and classifies a record.
func (p *Predictor) PredictRecord(r PatientRecord) (Prediction, error) {
	vec, warnings, err := p.Encode(r)
	if err != nil {
		return Prediction{}, err
	}
	pred, err := p.PredictVector(vec)
	if err != nil {
		return Prediction{}, err
	}
	pred.Warnings = warnings
	return pred, nil
}

func (p *Predictor) FeatureNames() []string {
	return p.encoder.FeatureNames()
}

func (p *Predictor) Digest() string {
	return p.artifacts.FeatureDigest
}

func (p *Predictor) Artifacts() *Artifacts {
	return p.artifacts
}

// ModelID identifies the training run that produced the model.
func (p *Predictor) ModelID() string {
	if p.artifacts.Training.RunID != "" {
		return p.artifacts.Training.RunID
	}
	return p.artifacts.CreatedAt.Format("20060102T150405Z")
}

package ml

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ArtifactFormatVersion is bumped whenever the model file layout changes.
const ArtifactFormatVersion = 1

// ErrArtifactMismatch means the model file and the feature-name file do not
// belong together, or the model disagrees with its own schema.
var ErrArtifactMismatch = errors.New("model artifacts do not match")

// TrainingInfo describes how a model was produced.
type TrainingInfo struct {
	RunID       string      `json:"run_id"`
	Rows        int         `json:"rows"`
	TrainRows   int         `json:"train_rows"`
	TestRows    int         `json:"test_rows"`
	Oversampled bool        `json:"oversampled"`
	Evaluation  *Evaluation `json:"evaluation,omitempty"`
}

// Artifacts is the content of the model file.
type Artifacts struct {
	FormatVersion int           `json:"format_version"`
	CreatedAt     time.Time     `json:"created_at"`
	FeatureNames  []string      `json:"feature_names"`
	FeatureDigest string        `json:"feature_digest"`
	Schema        Schema        `json:"schema"`
	Training      TrainingInfo  `json:"training"`
	Forest        *RandomForest `json:"forest"`
}

// FeatureDigest fingerprints an ordered feature-name list.
func FeatureDigest(names []string) string {
	h := sha256.New()
	for _, name := range names {
		h.Write([]byte(name))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// NewArtifacts bundles a fitted forest with the encoder it was trained through.
func NewArtifacts(forest *RandomForest, encoder *Encoder, info TrainingInfo) (*Artifacts, error) {
	if forest == nil || forest.Size() == 0 {
		return nil, ErrNotTrained
	}
	if encoder == nil {
		return nil, errors.New("encoder is required")
	}
	names := encoder.FeatureNames()
	if len(names) != forest.NumFeatures() {
		return nil, fmt.Errorf("%w: %d feature names, model fitted on %d columns", ErrArtifactMismatch, len(names), forest.NumFeatures())
	}
	return &Artifacts{
		FormatVersion: ArtifactFormatVersion,
		CreatedAt:     time.Now().UTC(),
		FeatureNames:  names,
		FeatureDigest: FeatureDigest(names),
		Schema:        encoder.Schema(),
		Training:      info,
		Forest:        forest,
	}, nil
}

// SaveArtifacts writes the model file and the feature-name file. Each is
// written to a temporary file first and renamed into place.
func SaveArtifacts(a *Artifacts, modelPath, namesPath string) error {
	if err := a.Validate(); err != nil {
		return err
	}
	model, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode model: %w", err)
	}
	names, err := json.MarshalIndent(a.FeatureNames, "", "  ")
	if err != nil {
		return fmt.Errorf("encode feature names: %w", err)
	}
	if err := writeFileAtomic(modelPath, model); err != nil {
		return err
	}
	return writeFileAtomic(namesPath, names)
}

// LoadArtifacts reads both files and verifies that they belong together.
func LoadArtifacts(modelPath, namesPath string) (*Artifacts, error) {
	payload, err := os.ReadFile(modelPath)
	if err != nil {
		return nil, err
	}
	var a Artifacts
	if err := json.Unmarshal(payload, &a); err != nil {
		return nil, fmt.Errorf("decode model %s: %w", modelPath, err)
	}
	if a.FormatVersion != ArtifactFormatVersion {
		return nil, fmt.Errorf("model %s: unsupported format version %d", modelPath, a.FormatVersion)
	}

	namesPayload, err := os.ReadFile(namesPath)
	if err != nil {
		return nil, err
	}
	var names []string
	if err := json.Unmarshal(namesPayload, &names); err != nil {
		return nil, fmt.Errorf("decode feature names %s: %w", namesPath, err)
	}
	if FeatureDigest(names) != a.FeatureDigest {
		return nil, fmt.Errorf("%w: %s was not written with %s", ErrArtifactMismatch, namesPath, modelPath)
	}

	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

// Validate checks the internal consistency of the bundle.
func (a *Artifacts) Validate() error {
	if a.Forest == nil || a.Forest.Size() == 0 {
		return ErrNotTrained
	}
	if len(a.FeatureNames) != a.Forest.NumFeatures() {
		return fmt.Errorf("%w: %d feature names, model fitted on %d columns", ErrArtifactMismatch, len(a.FeatureNames), a.Forest.NumFeatures())
	}
	if FeatureDigest(a.FeatureNames) != a.FeatureDigest {
		return fmt.Errorf("%w: feature digest does not match feature names", ErrArtifactMismatch)
	}
	if strings.Join(a.Schema.FeatureNames, "\x00") != strings.Join(a.FeatureNames, "\x00") {
		return fmt.Errorf("%w: schema feature names differ from model feature names", ErrArtifactMismatch)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

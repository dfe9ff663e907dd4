package ml

import "math"

// Column names as they appear in the patient CSV.
const (
	ColID              = "id"
	ColGender          = "gender"
	ColAge             = "age"
	ColHypertension    = "hypertension"
	ColHeartDisease    = "heart_disease"
	ColEverMarried     = "ever_married"
	ColWorkType        = "work_type"
	ColResidenceType   = "Residence_type"
	ColAvgGlucoseLevel = "avg_glucose_level"
	ColBMI             = "bmi"
	ColSmokingStatus   = "smoking_status"
	ColStroke          = "stroke"
)

// Labels predicted by the classifier.
const (
	LabelLowRisk  = 0
	LabelHighRisk = 1

	numClasses = 2
)

// PatientRecord is one row of the stroke dataset, or one prediction query.
// Missing numeric values are NaN.
type PatientRecord struct {
	ID              int64   `json:"id,omitempty"`
	Gender          string  `json:"gender"`
	Age             float64 `json:"age"`
	Hypertension    float64 `json:"hypertension"`
	HeartDisease    float64 `json:"heart_disease"`
	EverMarried     string  `json:"ever_married"`
	WorkType        string  `json:"work_type"`
	ResidenceType   string  `json:"Residence_type"`
	AvgGlucoseLevel float64 `json:"avg_glucose_level"`
	BMI             float64 `json:"bmi"`
	SmokingStatus   string  `json:"smoking_status"`
	Stroke          int     `json:"stroke"`
}

// NumericColumns lists the pass-through columns in CSV order.
func NumericColumns() []string {
	return []string{
		ColAge,
		ColHypertension,
		ColHeartDisease,
		ColAvgGlucoseLevel,
		ColBMI,
	}
}

// CategoricalColumns lists the columns that are dummy-encoded, in encoding order.
func CategoricalColumns() []string {
	return []string{
		ColGender,
		ColEverMarried,
		ColWorkType,
		ColResidenceType,
		ColSmokingStatus,
	}
}

// Numeric returns the value of a numeric column. The second result is false
// for unknown columns.
func (r PatientRecord) Numeric(column string) (float64, bool) {
	switch column {
	case ColID:
		return float64(r.ID), true
	case ColAge:
		return r.Age, true
	case ColHypertension:
		return r.Hypertension, true
	case ColHeartDisease:
		return r.HeartDisease, true
	case ColAvgGlucoseLevel:
		return r.AvgGlucoseLevel, true
	case ColBMI:
		return r.BMI, true
	default:
		return math.NaN(), false
	}
}

// Category returns the value of a categorical column.
func (r PatientRecord) Category(column string) (string, bool) {
	switch column {
	case ColGender:
		return r.Gender, true
	case ColEverMarried:
		return r.EverMarried, true
	case ColWorkType:
		return r.WorkType, true
	case ColResidenceType:
		return r.ResidenceType, true
	case ColSmokingStatus:
		return r.SmokingStatus, true
	default:
		return "", false
	}
}

// IsMissing reports whether a numeric value is absent.
func IsMissing(v float64) bool {
	return math.IsNaN(v)
}

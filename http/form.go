package http

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/multierr"

	"strokerisk/ml"
)

// Messages shown after a prediction.
const (
	HighRiskMessage = "High Risk: The model predicts a high risk of stroke. Consult a healthcare professional."
	LowRiskMessage  = "Low Risk: The model predicts a low risk of stroke."
	Disclaimer      = "**Disclaimer:** This tool is for educational purposes only and should not replace professional medical advice."
	PredictButton   = "Predict Stroke Risk"
)

// Field bounds of the form widgets.
const (
	MinAge, MaxAge, DefaultAge             = 0, 120, 30
	MinGlucose, MaxGlucose, DefaultGlucose = 50.0, 300.0, 100.0
	MinBMI, MaxBMI, DefaultBMI             = 10.0, 50.0, 25.0
	SliderStep                             = 0.1
)

// Option is one choice of a select widget. Value is both the display label
// and the submitted value.
type Option struct {
	Value string
	// Category is the dataset vocabulary the choice maps to.
	Category string
}

var (
	GenderOptions = []Option{
		{Value: "Male", Category: "Male"},
		{Value: "Female", Category: "Female"},
	}
	YesNoOptions = []Option{
		{Value: "No", Category: "No"},
		{Value: "Yes", Category: "Yes"},
	}
	WorkTypeOptions = []Option{
		{Value: "Private", Category: "Private"},
		{Value: "Self-employed", Category: "Self-employed"},
		{Value: "Government Job", Category: "Govt_job"},
		{Value: "Children", Category: "children"},
		{Value: "Unemployed", Category: "Never_worked"},
	}
	ResidenceOptions = []Option{
		{Value: "Urban", Category: "Urban"},
		{Value: "Rural", Category: "Rural"},
	}
	SmokingOptions = []Option{
		{Value: "Never Smoked", Category: "never smoked"},
		{Value: "Formerly Smoked", Category: "formerly smoked"},
		{Value: "Currently Smokes", Category: "smokes"},
	}
)

// FormInput holds the values of the patient form as the user sees them.
type FormInput struct {
	Gender          string  `json:"gender"`
	Age             float64 `json:"age"`
	Hypertension    string  `json:"hypertension"`
	HeartDisease    string  `json:"heart_disease"`
	EverMarried     string  `json:"ever_married"`
	WorkType        string  `json:"work_type"`
	ResidenceType   string  `json:"residence_type"`
	AvgGlucoseLevel float64 `json:"avg_glucose_level"`
	BMI             float64 `json:"bmi"`
	SmokingStatus   string  `json:"smoking_status"`
}

// DefaultFormInput is the initial state of the widgets: the first choice of
// every select and the default of every number.
func DefaultFormInput() FormInput {
	return FormInput{
		Gender:          GenderOptions[0].Value,
		Age:             DefaultAge,
		Hypertension:    YesNoOptions[0].Value,
		HeartDisease:    YesNoOptions[0].Value,
		EverMarried:     YesNoOptions[0].Value,
		WorkType:        WorkTypeOptions[0].Value,
		ResidenceType:   ResidenceOptions[0].Value,
		AvgGlucoseLevel: DefaultGlucose,
		BMI:             DefaultBMI,
		SmokingStatus:   SmokingOptions[0].Value,
	}
}

// Validate reports every field that is outside its widget's domain.
func (f FormInput) Validate() error {
	var err error
	err = multierr.Append(err, checkChoice("gender", f.Gender, GenderOptions))
	err = multierr.Append(err, checkRange("age", f.Age, MinAge, MaxAge))
	if f.Age != math.Trunc(f.Age) {
		err = multierr.Append(err, fmt.Errorf("age: %v is not a whole number of years", f.Age))
	}
	err = multierr.Append(err, checkChoice("hypertension", f.Hypertension, YesNoOptions))
	err = multierr.Append(err, checkChoice("heart_disease", f.HeartDisease, YesNoOptions))
	err = multierr.Append(err, checkChoice("ever_married", f.EverMarried, YesNoOptions))
	err = multierr.Append(err, checkChoice("work_type", f.WorkType, WorkTypeOptions))
	err = multierr.Append(err, checkChoice("residence_type", f.ResidenceType, ResidenceOptions))
	err = multierr.Append(err, checkRange("avg_glucose_level", f.AvgGlucoseLevel, MinGlucose, MaxGlucose))
	err = multierr.Append(err, checkRange("bmi", f.BMI, MinBMI, MaxBMI))
	err = multierr.Append(err, checkChoice("smoking_status", f.SmokingStatus, SmokingOptions))
	return err
}

// Record maps the form onto a dataset row. Validate first: unknown choices
// map to empty categories.
func (f FormInput) Record() ml.PatientRecord {
	return ml.PatientRecord{
		Gender:          category(f.Gender, GenderOptions),
		Age:             f.Age,
		Hypertension:    yesNo(f.Hypertension),
		HeartDisease:    yesNo(f.HeartDisease),
		EverMarried:     category(f.EverMarried, YesNoOptions),
		WorkType:        category(f.WorkType, WorkTypeOptions),
		ResidenceType:   category(f.ResidenceType, ResidenceOptions),
		AvgGlucoseLevel: f.AvgGlucoseLevel,
		BMI:             f.BMI,
		SmokingStatus:   category(f.SmokingStatus, SmokingOptions),
	}
}

// ParseForm reads a submitted form. Missing fields keep their defaults.
func ParseForm(values url.Values) (FormInput, error) {
	f := DefaultFormInput()
	var err error
	str := func(key string, dst *string) {
		if v, ok := values[key]; ok && len(v) > 0 {
			*dst = strings.TrimSpace(v[0])
		}
	}
	num := func(key string, dst *float64) {
		v := strings.TrimSpace(values.Get(key))
		if v == "" {
			return
		}
		n, perr := strconv.ParseFloat(v, 64)
		if perr != nil || math.IsNaN(n) || math.IsInf(n, 0) {
			err = multierr.Append(err, fmt.Errorf("%s: %q is not a number", key, v))
			return
		}
		*dst = n
	}

	str("gender", &f.Gender)
	num("age", &f.Age)
	str("hypertension", &f.Hypertension)
	str("heart_disease", &f.HeartDisease)
	str("ever_married", &f.EverMarried)
	str("work_type", &f.WorkType)
	str("residence_type", &f.ResidenceType)
	num("avg_glucose_level", &f.AvgGlucoseLevel)
	num("bmi", &f.BMI)
	str("smoking_status", &f.SmokingStatus)
	return f, err
}

func checkChoice(field, value string, options []Option) error {
	for _, o := range options {
		if o.Value == value {
			return nil
		}
	}
	choices := make([]string, len(options))
	for i, o := range options {
		choices[i] = o.Value
	}
	return fmt.Errorf("%s: %q is not one of %s", field, value, strings.Join(choices, ", "))
}

func checkRange(field string, value, min, max float64) error {
	if math.IsNaN(value) || value < min || value > max {
		return fmt.Errorf("%s: %v is outside [%v, %v]", field, value, min, max)
	}
	return nil
}

func category(value string, options []Option) string {
	for _, o := range options {
		if o.Value == value {
			return o.Category
		}
	}
	return ""
}

func yesNo(value string) float64 {
	if value == "Yes" {
		return 1
	}
	return 0
}

package ml

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// ErrUnknownFeature is returned when an encoded record carries a column the
// model was not trained on.
var ErrUnknownFeature = errors.New("unknown feature")

// NumericColumn is a pass-through column and the mean used to impute it.
type NumericColumn struct {
	Name string  `json:"name"`
	Mean float64 `json:"mean"`
}

// CategoricalColumn is a dummy-encoded column. Categories holds the sorted
// vocabulary seen at fit time; Dropped is the first of them, which gets no
// indicator column.
type CategoricalColumn struct {
	Name       string   `json:"name"`
	Categories []string `json:"categories"`
	Dropped    string   `json:"dropped"`
}

// Schema fixes the column set and order of the encoded feature vector.
type Schema struct {
	Numeric      []NumericColumn     `json:"numeric"`
	Categorical  []CategoricalColumn `json:"categorical"`
	FeatureNames []string            `json:"feature_names"`
}

// EncoderOptions control which columns take part in fitting.
type EncoderOptions struct {
	IncludeID bool
}

// Encoder turns patient records into feature vectors using a fitted Schema.
type Encoder struct {
	schema Schema
	index  map[string]int
}

// IndicatorName is the name of the indicator column for one category.
func IndicatorName(column, category string) string {
	return column + "_" + category
}

// FitEncoder derives the schema from training records: numeric columns keep
// their CSV order, each categorical column expands to one indicator per
// category except the first in sorted order.
func FitEncoder(records []PatientRecord, opts EncoderOptions) (*Encoder, error) {
	if len(records) == 0 {
		return nil, errors.New("records is empty")
	}

	numericNames := NumericColumns()
	if opts.IncludeID {
		numericNames = append([]string{ColID}, numericNames...)
	}

	var schema Schema
	for _, name := range numericNames {
		values := make([]float64, 0, len(records))
		for _, r := range records {
			v, _ := r.Numeric(name)
			if !IsMissing(v) {
				values = append(values, v)
			}
		}
		mean := 0.0
		if len(values) > 0 {
			mean = stat.Mean(values, nil)
		}
		schema.Numeric = append(schema.Numeric, NumericColumn{Name: name, Mean: mean})
		schema.FeatureNames = append(schema.FeatureNames, name)
	}

	for _, name := range CategoricalColumns() {
		seen := make(map[string]struct{})
		for _, r := range records {
			v, _ := r.Category(name)
			if v == "" {
				continue
			}
			seen[v] = struct{}{}
		}
		categories := make([]string, 0, len(seen))
		for v := range seen {
			categories = append(categories, v)
		}
		sort.Strings(categories)

		col := CategoricalColumn{Name: name, Categories: categories}
		if len(categories) > 0 {
			col.Dropped = categories[0]
			for _, c := range categories[1:] {
				schema.FeatureNames = append(schema.FeatureNames, IndicatorName(name, c))
			}
		}
		schema.Categorical = append(schema.Categorical, col)
	}

	return NewEncoder(schema)
}

// NewEncoder rebuilds an encoder from a persisted schema, checking that the
// feature names agree with the column definitions.
func NewEncoder(schema Schema) (*Encoder, error) {
	expected := make([]string, 0, len(schema.FeatureNames))
	for _, col := range schema.Numeric {
		expected = append(expected, col.Name)
	}
	for _, col := range schema.Categorical {
		if len(col.Categories) == 0 {
			continue
		}
		if col.Dropped != col.Categories[0] {
			return nil, fmt.Errorf("column %s: dropped category %q is not the first of %v", col.Name, col.Dropped, col.Categories)
		}
		for _, c := range col.Categories[1:] {
			expected = append(expected, IndicatorName(col.Name, c))
		}
	}
	if len(expected) != len(schema.FeatureNames) {
		return nil, fmt.Errorf("schema lists %d feature names, columns define %d", len(schema.FeatureNames), len(expected))
	}
	index := make(map[string]int, len(expected))
	for i, name := range expected {
		if schema.FeatureNames[i] != name {
			return nil, fmt.Errorf("feature %d: schema says %q, columns define %q", i, schema.FeatureNames[i], name)
		}
		if _, dup := index[name]; dup {
			return nil, fmt.Errorf("duplicate feature name %q", name)
		}
		index[name] = i
	}
	return &Encoder{schema: schema, index: index}, nil
}

// Schema returns a copy of the fitted schema.
func (e *Encoder) Schema() Schema {
	out := Schema{
		Numeric:      append([]NumericColumn(nil), e.schema.Numeric...),
		Categorical:  make([]CategoricalColumn, len(e.schema.Categorical)),
		FeatureNames: e.FeatureNames(),
	}
	for i, col := range e.schema.Categorical {
		col.Categories = append([]string(nil), col.Categories...)
		out.Categorical[i] = col
	}
	return out
}

// FeatureNames returns the ordered feature names.
func (e *Encoder) FeatureNames() []string {
	return append([]string(nil), e.schema.FeatureNames...)
}

// Named builds the sparse named representation of a record. Missing numeric
// values are replaced by the training mean. The warnings list categorical
// values that were not seen at fit time; they encode as all zeros.
func (e *Encoder) Named(r PatientRecord) (map[string]float64, []string) {
	named := make(map[string]float64, len(e.schema.FeatureNames))
	var warnings []string

	for _, col := range e.schema.Numeric {
		v, ok := r.Numeric(col.Name)
		if !ok || IsMissing(v) {
			v = col.Mean
		}
		named[col.Name] = v
	}

	for _, col := range e.schema.Categorical {
		v, _ := r.Category(col.Name)
		if v == "" {
			continue
		}
		if !containsString(col.Categories, v) {
			warnings = append(warnings, fmt.Sprintf("%s: unseen category %q", col.Name, v))
			continue
		}
		if v == col.Dropped {
			continue
		}
		named[IndicatorName(col.Name, v)] = 1
	}

	return named, warnings
}

// Encode returns the aligned feature vector for a record.
func (e *Encoder) Encode(r PatientRecord) ([]float64, error) {
	vec, _, err := e.EncodeWithWarnings(r)
	return vec, err
}

// EncodeAll encodes every record in order.
func (e *Encoder) EncodeAll(records []PatientRecord) ([][]float64, error) {
	out := make([][]float64, len(records))
	for i, r := range records {
		vec, err := e.Encode(r)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

// EncodeWithWarnings is Encode plus the unseen-category warnings from Named.
func (e *Encoder) EncodeWithWarnings(r PatientRecord) ([]float64, []string, error) {
	named, warnings := e.Named(r)
	vec, unknown := Align(named, e.schema.FeatureNames)
	if len(unknown) > 0 {
		return nil, warnings, fmt.Errorf("%w: %v", ErrUnknownFeature, unknown)
	}
	return vec, warnings, nil
}

// Align reindexes a named vector against the persisted feature names.
// Names missing from the input are zero; input names that the list does
// not contain are returned, sorted, and left out of the vector.
func Align(named map[string]float64, featureNames []string) ([]float64, []string) {
	vec := make([]float64, len(featureNames))
	known := make(map[string]struct{}, len(featureNames))
	for i, name := range featureNames {
		known[name] = struct{}{}
		if v, ok := named[name]; ok && !math.IsNaN(v) {
			vec[i] = v
		}
	}
	var unknown []string
	for name := range named {
		if _, ok := known[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	return vec, unknown
}

func containsString(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}

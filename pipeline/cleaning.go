package pipeline

import (
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"strokerisk/ml"
)

// CleaningRule checks one patient record. A non-nil error rejects the row.
type CleaningRule interface {
	Apply(*ml.PatientRecord) error
	Name() string
}

// committer is a rule that remembers the rows that were kept, such as the
// ids seen so far.
type committer interface {
	Commit(*ml.PatientRecord)
}

// QualityIssue describes a rejected row.
type QualityIssue struct {
	Rule      string    `json:"rule"`
	Severity  string    `json:"severity"` // low, medium, high
	Message   string    `json:"message"`
	Row       int       `json:"row"`
	RecordID  int64     `json:"record_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// DataCleaner runs a set of rules over the rows of a dataset.
type DataCleaner struct {
	logger *zap.Logger
	rules  []CleaningRule

	issues     []QualityIssue
	issuesLock sync.RWMutex

	stats     CleaningStats
	statsLock sync.RWMutex
}

// CleaningStats counts the outcome of every Clean call.
type CleaningStats struct {
	TotalProcessed int64            `json:"total_processed"`
	Passed         int64            `json:"passed"`
	Rejected       int64            `json:"rejected"`
	Issues         map[string]int64 `json:"issues"`
	LastClean      time.Time        `json:"last_clean"`
}

// NewDataCleaner returns a cleaner with the default rules installed.
func NewDataCleaner(logger *zap.Logger) *DataCleaner {
	if logger == nil {
		logger = zap.NewNop()
	}
	cleaner := &DataCleaner{
		logger: logger,
		stats: CleaningStats{
			Issues: make(map[string]int64),
		},
	}

	cleaner.AddRule(NewLabelValidationRule())
	cleaner.AddRule(NewAgeRangeRule())
	cleaner.AddRule(NewBinaryFlagRule())
	cleaner.AddRule(NewMeasurementRangeRule())
	cleaner.AddRule(NewDuplicateDetectionRule())

	return cleaner
}

func (dc *DataCleaner) AddRule(rule CleaningRule) {
	dc.rules = append(dc.rules, rule)
	dc.logger.Debug("added cleaning rule", zap.String("rule", rule.Name()))
}

// Clean returns the rows that pass every rule, in their original order,
// and the issues raised by the others.
func (dc *DataCleaner) Clean(records []ml.PatientRecord) ([]ml.PatientRecord, []QualityIssue) {
	cleaned := make([]ml.PatientRecord, 0, len(records))
	var issues []QualityIssue

	dc.statsLock.Lock()
	defer dc.statsLock.Unlock()

	for i := range records {
		record := records[i]
		dc.stats.TotalProcessed++

		var rowIssues []QualityIssue
		for _, rule := range dc.rules {
			if err := rule.Apply(&record); err != nil {
				rowIssues = append(rowIssues, QualityIssue{
					Rule:      rule.Name(),
					Severity:  "high",
					Message:   err.Error(),
					Row:       i,
					RecordID:  record.ID,
					Timestamp: time.Now(),
				})
				dc.stats.Issues[rule.Name()]++
			}
		}

		if len(rowIssues) > 0 {
			dc.stats.Rejected++
			issues = append(issues, rowIssues...)
			continue
		}
		for _, rule := range dc.rules {
			if c, ok := rule.(committer); ok {
				c.Commit(&record)
			}
		}
		dc.stats.Passed++
		cleaned = append(cleaned, record)
	}
	dc.stats.LastClean = time.Now()

	if len(issues) > 0 {
		dc.issuesLock.Lock()
		dc.issues = append(dc.issues, issues...)
		dc.issuesLock.Unlock()
		dc.logger.Warn("rows rejected during cleaning",
			zap.Int("rejected", len(records)-len(cleaned)),
			zap.Int("issues", len(issues)))
	}

	return cleaned, issues
}

func (dc *DataCleaner) GetStats() CleaningStats {
	dc.statsLock.RLock()
	defer dc.statsLock.RUnlock()

	stats := dc.stats
	stats.Issues = make(map[string]int64, len(dc.stats.Issues))
	for k, v := range dc.stats.Issues {
		stats.Issues[k] = v
	}
	return stats
}

// GetIssues returns the most recent issues, all of them when limit <= 0.
func (dc *DataCleaner) GetIssues(limit int) []QualityIssue {
	dc.issuesLock.RLock()
	defer dc.issuesLock.RUnlock()

	if limit <= 0 || limit > len(dc.issues) {
		limit = len(dc.issues)
	}

	issues := make([]QualityIssue, limit)
	copy(issues, dc.issues[len(dc.issues)-limit:])
	return issues
}

func (dc *DataCleaner) ClearIssues() {
	dc.issuesLock.Lock()
	defer dc.issuesLock.Unlock()

	dc.issues = nil
}

// LabelValidationRule rejects labels other than 0 and 1.
type LabelValidationRule struct{}

func NewLabelValidationRule() *LabelValidationRule {
	return &LabelValidationRule{}
}

func (r *LabelValidationRule) Name() string {
	return "label_validation"
}

func (r *LabelValidationRule) Apply(record *ml.PatientRecord) error {
	if record.Stroke != ml.LabelLowRisk && record.Stroke != ml.LabelHighRisk {
		return fmt.Errorf("stroke label %d is not 0 or 1", record.Stroke)
	}
	return nil
}

// AgeRangeRule rejects ages outside [MinAge, MaxAge]. A missing age passes
// and is imputed later.
type AgeRangeRule struct {
	MinAge float64
	MaxAge float64
}

func NewAgeRangeRule() *AgeRangeRule {
	return &AgeRangeRule{
		MinAge: 0,
		MaxAge: 120,
	}
}

func (r *AgeRangeRule) Name() string {
	return "age_range"
}

func (r *AgeRangeRule) Apply(record *ml.PatientRecord) error {
	if ml.IsMissing(record.Age) {
		return nil
	}
	if record.Age < r.MinAge || record.Age > r.MaxAge {
		return fmt.Errorf("age %.2f out of range [%.0f, %.0f]", record.Age, r.MinAge, r.MaxAge)
	}
	return nil
}

// BinaryFlagRule checks that hypertension and heart_disease are 0 or 1.
type BinaryFlagRule struct{}

func NewBinaryFlagRule() *BinaryFlagRule {
	return &BinaryFlagRule{}
}

func (r *BinaryFlagRule) Name() string {
	return "binary_flag"
}

func (r *BinaryFlagRule) Apply(record *ml.PatientRecord) error {
	flags := []struct {
		name  string
		value float64
	}{
		{ml.ColHypertension, record.Hypertension},
		{ml.ColHeartDisease, record.HeartDisease},
	}
	for _, f := range flags {
		if ml.IsMissing(f.value) {
			continue
		}
		if f.value != 0 && f.value != 1 {
			return fmt.Errorf("%s %.2f is not 0 or 1", f.name, f.value)
		}
	}
	return nil
}

// MeasurementRangeRule rejects physiologically impossible glucose and BMI
// readings.
type MeasurementRangeRule struct {
	MaxGlucose float64
	MaxBMI     float64
}

func NewMeasurementRangeRule() *MeasurementRangeRule {
	return &MeasurementRangeRule{
		MaxGlucose: 1000,
		MaxBMI:     150,
	}
}

func (r *MeasurementRangeRule) Name() string {
	return "measurement_range"
}

func (r *MeasurementRangeRule) Apply(record *ml.PatientRecord) error {
	if g := record.AvgGlucoseLevel; !ml.IsMissing(g) && (g <= 0 || g > r.MaxGlucose || math.IsInf(g, 0)) {
		return fmt.Errorf("avg_glucose_level %.2f out of range (0, %.0f]", g, r.MaxGlucose)
	}
	if b := record.BMI; !ml.IsMissing(b) && (b <= 0 || b > r.MaxBMI || math.IsInf(b, 0)) {
		return fmt.Errorf("bmi %.2f out of range (0, %.0f]", b, r.MaxBMI)
	}
	return nil
}

// DuplicateDetectionRule rejects a row whose id belongs to a row already
// kept. Rows without an id are never duplicates.
type DuplicateDetectionRule struct {
	seenMap map[int64]struct{}
	mu      sync.Mutex
}

func NewDuplicateDetectionRule() *DuplicateDetectionRule {
	return &DuplicateDetectionRule{
		seenMap: make(map[int64]struct{}),
	}
}

func (r *DuplicateDetectionRule) Name() string {
	return "duplicate_detection"
}

func (r *DuplicateDetectionRule) Apply(record *ml.PatientRecord) error {
	if record.ID == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.seenMap[record.ID]; exists {
		return fmt.Errorf("duplicate patient id %d", record.ID)
	}
	return nil
}

// Commit marks the id of a kept row as seen.
func (r *DuplicateDetectionRule) Commit(record *ml.PatientRecord) {
	if record.ID == 0 {
		return
	}
	r.mu.Lock()
	r.seenMap[record.ID] = struct{}{}
	r.mu.Unlock()
}

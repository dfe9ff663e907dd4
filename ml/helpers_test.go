package ml

import (
	"math"
	"math/rand"
)

// syntheticRecords builds a dataset where stroke follows age, hypertension
// and glucose closely enough for a forest to learn it. Every fifth BMI is
// missing.
func syntheticRecords(n int, seed int64) []PatientRecord {
	rng := rand.New(rand.NewSource(seed))
	genders := []string{"Female", "Male", "Other"}
	works := []string{"Govt_job", "Never_worked", "Private", "Self-employed", "children"}
	smoking := []string{"Unknown", "formerly smoked", "never smoked", "smokes"}
	residences := []string{"Rural", "Urban"}
	married := []string{"No", "Yes"}

	records := make([]PatientRecord, n)
	for i := range records {
		age := float64(rng.Intn(90) + 1)
		hypertension := 0.0
		if rng.Float64() < 0.3 {
			hypertension = 1
		}
		glucose := 60 + rng.Float64()*200
		bmi := 15 + rng.Float64()*30
		if i%5 == 0 {
			bmi = math.NaN()
		}
		stroke := 0
		if age > 60 && (hypertension == 1 || glucose > 180) {
			stroke = 1
		}
		records[i] = PatientRecord{
			ID:              int64(i + 1),
			Gender:          genders[i%len(genders)],
			Age:             age,
			Hypertension:    hypertension,
			HeartDisease:    float64(rng.Intn(2)),
			EverMarried:     married[rng.Intn(len(married))],
			WorkType:        works[rng.Intn(len(works))],
			ResidenceType:   residences[rng.Intn(len(residences))],
			AvgGlucoseLevel: glucose,
			BMI:             bmi,
			SmokingStatus:   smoking[rng.Intn(len(smoking))],
			Stroke:          stroke,
		}
	}
	return records
}

func containsAll(haystack []string, needles ...string) bool {
	set := make(map[string]struct{}, len(haystack))
	for _, s := range haystack {
		set[s] = struct{}{}
	}
	for _, n := range needles {
		if _, ok := set[n]; !ok {
			return false
		}
	}
	return true
}

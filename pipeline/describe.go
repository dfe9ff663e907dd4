package pipeline

import (
	"fmt"
	"io"
	"math"
	"sort"
	"text/tabwriter"

	"gonum.org/v1/gonum/stat"

	"strokerisk/ml"
)

// Summary holds the describe() statistics of one numeric column. Missing
// values are excluded.
type Summary struct {
	Column string  `json:"column"`
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
	Min    float64 `json:"min"`
	Q25    float64 `json:"q25"`
	Q50    float64 `json:"q50"`
	Q75    float64 `json:"q75"`
	Max    float64 `json:"max"`
}

// SummaryColumns are the numeric columns described, id first when present.
func SummaryColumns(ds *Dataset) []string {
	cols := make([]string, 0, 7)
	for _, h := range ds.Header {
		if h == ml.ColID {
			cols = append(cols, ml.ColID)
			break
		}
	}
	cols = append(cols, ml.NumericColumns()...)
	return append(cols, ml.ColStroke)
}

// Describe computes count, mean, standard deviation, min, quartiles and max
// for each numeric column.
func Describe(ds *Dataset) []Summary {
	cols := SummaryColumns(ds)
	out := make([]Summary, 0, len(cols))
	for _, col := range cols {
		values := columnValues(ds.Records, col)
		s := Summary{Column: col, Count: len(values)}
		if len(values) == 0 {
			s.Mean, s.Std, s.Min, s.Q25, s.Q50, s.Q75, s.Max = nan(), nan(), nan(), nan(), nan(), nan(), nan()
			out = append(out, s)
			continue
		}
		sort.Float64s(values)
		s.Mean, s.Std = stat.MeanStdDev(values, nil)
		if len(values) < 2 {
			s.Std = nan()
		}
		s.Min = values[0]
		s.Max = values[len(values)-1]
		s.Q25 = stat.Quantile(0.25, stat.LinInterp, values, nil)
		s.Q50 = stat.Quantile(0.5, stat.LinInterp, values, nil)
		s.Q75 = stat.Quantile(0.75, stat.LinInterp, values, nil)
		out = append(out, s)
	}
	return out
}

// WriteSummary renders the statistics as an aligned table.
func WriteSummary(w io.Writer, summaries []Summary) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "\tcount\tmean\tstd\tmin\t25%\t50%\t75%\tmax\t")
	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%d\t%.4f\t%.4f\t%.4f\t%.4f\t%.4f\t%.4f\t%.4f\t\n",
			s.Column, s.Count, s.Mean, s.Std, s.Min, s.Q25, s.Q50, s.Q75, s.Max)
	}
	return tw.Flush()
}

// CorrelationMatrix returns the pairwise Pearson correlation of the
// described columns. Each pair uses the rows where both values are present;
// a pair with fewer than two such rows or no variance is NaN.
func CorrelationMatrix(ds *Dataset) ([]string, [][]float64) {
	cols := SummaryColumns(ds)
	columns := make([][]float64, len(cols))
	for i, col := range cols {
		columns[i] = make([]float64, len(ds.Records))
		for j, r := range ds.Records {
			columns[i][j] = value(r, col)
		}
	}
	return cols, Correlate(columns)
}

// EncodedCorrelation correlates every encoded feature column and the label,
// the matrix the heatmap shows. The label is the last row and column.
func EncodedCorrelation(featureNames []string, features [][]float64, labels []int) ([]string, [][]float64) {
	names := append(append([]string(nil), featureNames...), ml.ColStroke)
	columns := make([][]float64, len(names))
	for i := range columns {
		columns[i] = make([]float64, len(features))
	}
	for k, row := range features {
		for i := range featureNames {
			columns[i][k] = row[i]
		}
		columns[len(featureNames)][k] = float64(labels[k])
	}
	return names, Correlate(columns)
}

// Correlate returns the Pearson correlation of every pair of columns, using
// the rows where both are present. Undefined entries are NaN.
func Correlate(columns [][]float64) [][]float64 {
	matrix := make([][]float64, len(columns))
	for i := range matrix {
		matrix[i] = make([]float64, len(columns))
	}
	for i := range columns {
		for j := i; j < len(columns); j++ {
			var x, y []float64
			for k := range columns[i] {
				a, b := columns[i][k], columns[j][k]
				if ml.IsMissing(a) || ml.IsMissing(b) {
					continue
				}
				x = append(x, a)
				y = append(y, b)
			}
			c := nan()
			if len(x) >= 2 {
				c = stat.Correlation(x, y, nil)
				if math.IsInf(c, 0) {
					c = nan()
				}
			}
			matrix[i][j], matrix[j][i] = c, c
		}
	}
	return matrix
}

func columnValues(records []ml.PatientRecord, col string) []float64 {
	values := make([]float64, 0, len(records))
	for _, r := range records {
		if v := value(r, col); !ml.IsMissing(v) {
			values = append(values, v)
		}
	}
	return values
}

func value(r ml.PatientRecord, col string) float64 {
	if col == ml.ColStroke {
		return float64(r.Stroke)
	}
	v, ok := r.Numeric(col)
	if !ok {
		return nan()
	}
	return v
}

func nan() float64 { return math.NaN() }

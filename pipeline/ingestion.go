package pipeline

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"strokerisk/ml"
)

// ErrEmptyDataset is returned for a file with no data rows.
var ErrEmptyDataset = errors.New("dataset has no rows")

// Dataset is a parsed patient CSV.
type Dataset struct {
	Header  []string
	Records []ml.PatientRecord
}

// DecodeOptions select the character set of the input file.
type DecodeOptions struct {
	// Encoding is one of utf-8 (default), utf-16, latin1, windows-1252, gbk.
	Encoding string
}

// requiredColumns must all be present in the header; id is optional.
var requiredColumns = []string{
	ml.ColGender, ml.ColAge, ml.ColHypertension, ml.ColHeartDisease,
	ml.ColEverMarried, ml.ColWorkType, ml.ColResidenceType,
	ml.ColAvgGlucoseLevel, ml.ColBMI, ml.ColSmokingStatus, ml.ColStroke,
}

// LoadCSV reads a patient CSV from disk.
func LoadCSV(ctx context.Context, path string, opts DecodeOptions) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ds, err := ReadCSV(ctx, f, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ds, nil
}

// NewDecodingReader wraps r so that it yields UTF-8.
func NewDecodingReader(r io.Reader, name string) (io.Reader, error) {
	var dec transform.Transformer
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		dec = unicode.BOMOverride(unicode.UTF8.NewDecoder())
	case "utf-16", "utf16":
		dec = unicode.BOMOverride(unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder())
	case "latin1", "iso-8859-1":
		dec = charmap.ISO8859_1.NewDecoder()
	case "windows-1252", "cp1252":
		dec = charmap.Windows1252.NewDecoder()
	case "gbk":
		dec = simplifiedchinese.GBK.NewDecoder()
	default:
		return nil, fmt.Errorf("unsupported encoding %q", name)
	}
	return transform.NewReader(r, dec), nil
}

// ReadCSV parses a patient CSV. Numeric cells holding N/A, NA, NaN or
// nothing are kept as NaN.
func ReadCSV(ctx context.Context, r io.Reader, opts DecodeOptions) (*Dataset, error) {
	decoded, err := NewDecodingReader(r, opts.Encoding)
	if err != nil {
		return nil, err
	}
	reader := csv.NewReader(decoded)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, ErrEmptyDataset
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[name] = i
	}
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("missing required column %q", col)
		}
	}

	ds := &Dataset{Header: header}
	for line := 2; ; line++ {
		if line%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		record, err := parseRecord(row, index)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		ds.Records = append(ds.Records, record)
	}
	if len(ds.Records) == 0 {
		return nil, ErrEmptyDataset
	}
	return ds, nil
}

func parseRecord(row []string, index map[string]int) (ml.PatientRecord, error) {
	var r ml.PatientRecord
	cell := func(col string) string {
		i, ok := index[col]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}
	number := func(col string) (float64, error) {
		v, err := parseNumber(cell(col))
		if err != nil {
			return 0, fmt.Errorf("column %s: %w", col, err)
		}
		return v, nil
	}

	if _, ok := index[ml.ColID]; ok {
		if raw := cell(ml.ColID); raw != "" {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return r, fmt.Errorf("column %s: %w", ml.ColID, err)
			}
			r.ID = id
		}
	}

	var err error
	if r.Age, err = number(ml.ColAge); err != nil {
		return r, err
	}
	if r.Hypertension, err = number(ml.ColHypertension); err != nil {
		return r, err
	}
	if r.HeartDisease, err = number(ml.ColHeartDisease); err != nil {
		return r, err
	}
	if r.AvgGlucoseLevel, err = number(ml.ColAvgGlucoseLevel); err != nil {
		return r, err
	}
	if r.BMI, err = number(ml.ColBMI); err != nil {
		return r, err
	}

	label, err := number(ml.ColStroke)
	if err != nil {
		return r, err
	}
	if math.IsNaN(label) || label != math.Trunc(label) {
		return r, fmt.Errorf("column %s: label %q is not an integer", ml.ColStroke, cell(ml.ColStroke))
	}
	r.Stroke = int(label)

	r.Gender = cell(ml.ColGender)
	r.EverMarried = cell(ml.ColEverMarried)
	r.WorkType = cell(ml.ColWorkType)
	r.ResidenceType = cell(ml.ColResidenceType)
	r.SmokingStatus = cell(ml.ColSmokingStatus)
	return r, nil
}

func parseNumber(raw string) (float64, error) {
	switch strings.ToUpper(raw) {
	case "", "N/A", "NA", "NAN":
		return math.NaN(), nil
	}
	return strconv.ParseFloat(raw, 64)
}

// Head returns at most the first n records.
func Head(ds *Dataset, n int) []ml.PatientRecord {
	if ds == nil || n <= 0 {
		return nil
	}
	if n > len(ds.Records) {
		n = len(ds.Records)
	}
	return ds.Records[:n]
}

// MissingCounts reports how many records lack a value per numeric column.
func MissingCounts(ds *Dataset) map[string]int {
	counts := make(map[string]int)
	for _, r := range ds.Records {
		for _, col := range ml.NumericColumns() {
			if v, _ := r.Numeric(col); ml.IsMissing(v) {
				counts[col]++
			}
		}
	}
	return counts
}

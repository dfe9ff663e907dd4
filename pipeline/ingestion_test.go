package pipeline

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/unicode"

	"strokerisk/ml"
)

const sampleCSV = `id,gender,age,hypertension,heart_disease,ever_married,work_type,Residence_type,avg_glucose_level,bmi,smoking_status,stroke
9046,Male,67,0,1,Yes,Private,Urban,228.69,36.6,formerly smoked,1
51676,Female,61,0,0,Yes,Self-employed,Rural,202.21,N/A,never smoked,1
31112,Male,80,0,1,Yes,Private,Rural,105.92,32.5,never smoked,1
60182,Female,49,0,0,Yes,Private,Urban,171.23,34.4,smokes,0
1665,Female,79,1,0,Yes,Self-employed,Rural,174.12,24,never smoked,0
`

func TestReadCSV(t *testing.T) {
	ds, err := ReadCSV(context.Background(), strings.NewReader(sampleCSV), DecodeOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ds.Records) != 5 {
		t.Fatalf("expected 5 records, got %d", len(ds.Records))
	}
	first := ds.Records[0]
	if first.ID != 9046 || first.Gender != "Male" || first.Age != 67 || first.HeartDisease != 1 {
		t.Errorf("unexpected first record %+v", first)
	}
	if first.SmokingStatus != "formerly smoked" || first.Stroke != 1 {
		t.Errorf("unexpected first record %+v", first)
	}
	if !ml.IsMissing(ds.Records[1].BMI) {
		t.Errorf("expected N/A bmi to be missing, got %f", ds.Records[1].BMI)
	}
	if ds.Records[4].ResidenceType != "Rural" || ds.Records[4].Hypertension != 1 {
		t.Errorf("unexpected last record %+v", ds.Records[4])
	}
	if got := MissingCounts(ds)[ml.ColBMI]; got != 1 {
		t.Errorf("expected 1 missing bmi, got %d", got)
	}
}

func TestReadCSVErrors(t *testing.T) {
	header := "gender,age,hypertension,heart_disease,ever_married,work_type,Residence_type,avg_glucose_level,bmi,smoking_status,stroke\n"
	tests := []struct {
		name    string
		input   string
		wantErr string
		is      error
	}{
		{name: "empty file", input: "", is: ErrEmptyDataset},
		{name: "header only", input: header, is: ErrEmptyDataset},
		{name: "missing column", input: "gender,age\nMale,3\n", wantErr: `missing required column "hypertension"`},
		{name: "bad number", input: header + "Male,old,0,0,Yes,Private,Urban,100,20,smokes,0\n", wantErr: "line 2: column age"},
		{name: "bad label", input: header + "Male,30,0,0,Yes,Private,Urban,100,20,smokes,\n", wantErr: "column stroke"},
		{name: "short row", input: header + "Male,30\n", wantErr: "line 2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCSV(context.Background(), strings.NewReader(tt.input), DecodeOptions{})
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.is != nil && !errors.Is(err, tt.is) {
				t.Errorf("expected %v, got %v", tt.is, err)
			}
			if tt.wantErr != "" && !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestReadCSVWithoutID(t *testing.T) {
	input := "gender,age,hypertension,heart_disease,ever_married,work_type,Residence_type,avg_glucose_level,bmi,smoking_status,stroke\n" +
		"Female,3,0,0,No,children,Urban,95.12,18,Unknown,0\n"
	ds, err := ReadCSV(context.Background(), strings.NewReader(input), DecodeOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ds.Records[0].ID != 0 || ds.Records[0].WorkType != "children" {
		t.Errorf("unexpected record %+v", ds.Records[0])
	}
}

func TestReadCSVEncodings(t *testing.T) {
	latin := strings.Replace(sampleCSV, "Private,Urban,228.69", "Privé,Urban,228.69", 1)

	encodedLatin, err := charmap.ISO8859_1.NewEncoder().String(latin)
	if err != nil {
		t.Fatal(err)
	}
	ds, err := ReadCSV(context.Background(), strings.NewReader(encodedLatin), DecodeOptions{Encoding: "latin1"})
	if err != nil {
		t.Fatalf("latin1: unexpected error: %v", err)
	}
	if ds.Records[0].WorkType != "Privé" {
		t.Errorf("latin1: work_type = %q", ds.Records[0].WorkType)
	}

	withBOM := append([]byte{0xEF, 0xBB, 0xBF}, sampleCSV...)
	ds, err = ReadCSV(context.Background(), bytes.NewReader(withBOM), DecodeOptions{})
	if err != nil {
		t.Fatalf("bom: unexpected error: %v", err)
	}
	if ds.Header[0] != "id" {
		t.Errorf("bom: header[0] = %q", ds.Header[0])
	}

	utf16, err := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder().String(sampleCSV)
	if err != nil {
		t.Fatal(err)
	}
	ds, err = ReadCSV(context.Background(), strings.NewReader(utf16), DecodeOptions{Encoding: "utf-16"})
	if err != nil {
		t.Fatalf("utf-16: unexpected error: %v", err)
	}
	if len(ds.Records) != 5 {
		t.Errorf("utf-16: expected 5 records, got %d", len(ds.Records))
	}

	if _, err := ReadCSV(context.Background(), strings.NewReader(sampleCSV), DecodeOptions{Encoding: "ebcdic"}); err == nil {
		t.Error("expected error for unsupported encoding")
	}
}

func TestLoadCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "healthcare-dataset-stroke-data.csv")
	if err := os.WriteFile(path, []byte(sampleCSV), 0o644); err != nil {
		t.Fatal(err)
	}
	ds, err := LoadCSV(context.Background(), path, DecodeOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := Head(ds, 2); len(got) != 2 || got[1].ID != 51676 {
		t.Errorf("unexpected head %+v", got)
	}
	if got := Head(ds, 50); len(got) != 5 {
		t.Errorf("head larger than dataset returned %d rows", len(got))
	}

	if _, err := LoadCSV(context.Background(), filepath.Join(t.TempDir(), "missing.csv"), DecodeOptions{}); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

func TestNewDecodingReader(t *testing.T) {
	tests := []struct {
		name string
		enc  encoding.Encoding
		text string
	}{
		{"utf-8", unicode.UTF8, "Privé"},
		{"UTF8", unicode.UTF8, "Privé"},
		{"iso-8859-1", charmap.ISO8859_1, "Privé"},
		{"windows-1252", charmap.Windows1252, "Privé €"},
		{"cp1252", charmap.Windows1252, "Privé"},
		{"gbk", simplifiedchinese.GBK, "吸烟"},
		{"utf16", unicode.UTF16(unicode.LittleEndian, unicode.UseBOM), "Privé"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := tt.enc.NewEncoder().String(tt.text)
			if err != nil {
				t.Fatal(err)
			}
			r, err := NewDecodingReader(strings.NewReader(raw), tt.name)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			var buf bytes.Buffer
			if _, err := buf.ReadFrom(r); err != nil {
				t.Fatal(err)
			}
			if buf.String() != tt.text {
				t.Errorf("decoded %q, want %q", buf.String(), tt.text)
			}
		})
	}
}

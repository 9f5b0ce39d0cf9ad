package dataset

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/pkg/errors"
)

func TestReadTable(t *testing.T) {
	t.Run("whitespace records wrap across lines", func(t *testing.T) {
		in := "# comment\n1 2\n3\n4 5 6\n"
		tab, err := ReadTable(strings.NewReader(in), []string{"a", "b", "c"}, FormatAuto)
		if err != nil {
			t.Fatal(err)
		}
		want := [][]float64{{1, 2, 3}, {4, 5, 6}}
		if fmt.Sprint(tab.Rows) != fmt.Sprint(want) {
			t.Errorf("expected %v, got %v", want, tab.Rows)
		}
	})

	t.Run("csv header selects columns", func(t *testing.T) {
		in := "x, y, z\n1,2,3\n4,5,6\n"
		tab, err := ReadTable(strings.NewReader(in), []string{"Z", "x"}, FormatAuto)
		if err != nil {
			t.Fatal(err)
		}
		if fmt.Sprint(tab.Rows) != "[[3 1] [6 4]]" {
			t.Errorf("unexpected rows %v", tab.Rows)
		}
		if tab.Columns[0] != "Z" || tab.Len() != 2 {
			t.Errorf("unexpected columns %v", tab.Columns)
		}
	})

	t.Run("csv header names columns", func(t *testing.T) {
		tab, err := ReadTable(strings.NewReader("a,b\n1,2\n"), nil, FormatCSV)
		if err != nil {
			t.Fatal(err)
		}
		if i, err := tab.Index("B"); err != nil || i != 1 {
			t.Errorf("expected column b at 1, got %d, %v", i, err)
		}
	})

	t.Run("headerless without names", func(t *testing.T) {
		tab, err := ReadTable(strings.NewReader("1 2\n3 4\n"), nil, FormatWhitespace)
		if err != nil {
			t.Fatal(err)
		}
		if tab.Columns[1] != "col1" || tab.Len() != 2 {
			t.Errorf("unexpected table %+v", tab)
		}
	})

	errCases := []struct {
		name    string
		in      string
		columns []string
	}{
		{"empty", "# nothing\n", nil},
		{"header only", "a,b\n", nil},
		{"values do not fill rows", "1 2 3 4\n5\n", []string{"a", "b"}},
		{"non-numeric cell", "1,2\n3,x\n", nil},
		{"short csv row", "a,b,c\n1,2,3\n4,5\n", nil},
		{"unknown column", "a,b\n1,2\n", []string{"c"}},
	}
	for _, tc := range errCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ReadTable(strings.NewReader(tc.in), tc.columns, FormatAuto); !errors.Is(err, ErrFormat) {
				t.Errorf("expected ErrFormat, got %v", err)
			}
		})
	}
}

func TestTableXY(t *testing.T) {
	tab := &Table{Columns: []string{"a", "target", "b"}, Rows: [][]float64{{1, 10, 2}, {3, 20, 4}}}
	x, y, features, err := tab.XY("TARGET")
	if err != nil {
		t.Fatal(err)
	}
	if fmt.Sprint(x) != "[[1 2] [3 4]]" || fmt.Sprint(y) != "[10 20]" || fmt.Sprint(features) != "[a b]" {
		t.Errorf("unexpected split %v %v %v", x, y, features)
	}
	if _, _, _, err := tab.XY("missing"); err == nil {
		t.Error("expected error for unknown target")
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatAuto, "CSV": FormatCSV, "whitespace": FormatWhitespace} {
		if got, err := ParseFormat(in); err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseFormat("parquet"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestSplitIndices(t *testing.T) {
	train, test, err := SplitIndices(11, 0.2, 42)
	if err != nil {
		t.Fatal(err)
	}
	// ceil(11 * 0.2) = 3
	if len(test) != 3 || len(train) != 8 {
		t.Fatalf("expected 8/3, got %d/%d", len(train), len(test))
	}
	all := append(append([]int(nil), train...), test...)
	sort.Ints(all)
	for i, v := range all {
		if v != i {
			t.Fatalf("split is not a partition: %v", all)
		}
	}

	train2, test2, _ := SplitIndices(11, 0.2, 42)
	if fmt.Sprint(train, test) != fmt.Sprint(train2, test2) {
		t.Error("same seed should give the same split")
	}

	for _, tc := range []struct {
		n     int
		ratio float64
	}{{10, 0}, {10, 1}, {1, 0.5}, {2, 0.9}} {
		if _, _, err := SplitIndices(tc.n, tc.ratio, 1); err == nil {
			t.Errorf("expected error for n=%d ratio=%v", tc.n, tc.ratio)
		}
	}
}

func TestSplitTrainTestKeepsPairs(t *testing.T) {
	x := [][]float64{{0}, {1}, {2}, {3}, {4}}
	y := []float64{0, 10, 20, 30, 40}
	xTrain, xTest, yTrain, yTest, err := SplitTrainTest(x, y, 0.4, 7)
	if err != nil {
		t.Fatal(err)
	}
	for i := range xTrain {
		if yTrain[i] != xTrain[i][0]*10 {
			t.Errorf("train pair %d broken", i)
		}
	}
	for i := range xTest {
		if yTest[i] != xTest[i][0]*10 {
			t.Errorf("test pair %d broken", i)
		}
	}
	if _, _, _, _, err := SplitTrainTest(x, y[:2], 0.4, 7); err == nil {
		t.Error("expected error for mismatched lengths")
	}
}

func TestStandardScaler(t *testing.T) {
	var s StandardScaler
	if _, err := s.Transform([][]float64{{1}}); err == nil {
		t.Error("expected error before Fit")
	}
	out, err := s.FitTransform([][]float64{{1, 5}, {3, 5}})
	if err != nil {
		t.Fatal(err)
	}
	if fmt.Sprint(out) != "[[-1 0] [1 0]]" {
		t.Errorf("unexpected transform %v", out)
	}
	if fmt.Sprint(s.Mean(), s.Scale()) != "[2 5] [1 1]" {
		t.Errorf("unexpected statistics %v %v", s.Mean(), s.Scale())
	}
	if _, err := s.Transform([][]float64{{1}}); err == nil {
		t.Error("expected error for a narrower row")
	}
	if err := s.Fit(nil); err == nil {
		t.Error("expected error fitting zero rows")
	}
}

func TestTabularDataset(t *testing.T) {
	ds, err := NewTabularDataset([][]float64{{1, 2}, {3, 4}}, []float64{5, 6})
	if err != nil {
		t.Fatal(err)
	}
	if ds.Len() != 2 || ds.Features() != 2 {
		t.Errorf("unexpected sizes %d/%d", ds.Len(), ds.Features())
	}
	x, y, err := ds.Get(1)
	if err != nil {
		t.Fatal(err)
	}
	if fmt.Sprint(x.Shape, x.Data, y.Shape, y.Data) != "[2] [3 4] [1] [6]" {
		t.Errorf("unexpected sample %v %v %v %v", x.Shape, x.Data, y.Shape, y.Data)
	}
	if _, _, err := ds.Get(2); err == nil {
		t.Error("expected out of range error")
	}
	if _, err := NewTabularDataset([][]float64{{1}, {2, 3}}, []float64{1, 2}); err == nil {
		t.Error("expected error for ragged rows")
	}
}

// writeBoston writes n rows in the wrapped layout of the classic housing
// file: 11 values on one line and 3 on the next.
func writeBoston(t *testing.T, n int) string {
	t.Helper()
	var b strings.Builder
	for r := 0; r < n; r++ {
		for c := 0; c < 14; c++ {
			fmt.Fprintf(&b, " %d.5", r*(c+1))
			if c == 10 {
				b.WriteString("\n")
			}
		}
		b.WriteString("\n")
	}
	path := filepath.Join(t.TempDir(), "housing.data")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestPrepare(t *testing.T) {
	path := writeBoston(t, 10)
	p, err := Prepare(Options{Path: path, Target: "MEDV", TestRatio: 0.2, Seed: 1})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if p.Train.Len() != 8 || p.Test.Len() != 2 {
		t.Errorf("expected 8/2 split, got %d/%d", p.Train.Len(), p.Test.Len())
	}
	if len(p.Features) != 13 || p.Features[12] != "LSTAT" || p.Train.Features() != 13 {
		t.Errorf("unexpected features %v", p.Features)
	}

	// Training features are standardized; targets are untouched.
	for j := 0; j < 13; j++ {
		var sum float64
		for i := 0; i < p.Train.Len(); i++ {
			row, _ := p.Train.Row(i)
			sum += row[j]
		}
		if math.Abs(sum) > 1e-9 {
			t.Errorf("column %d not centered: sum %v", j, sum)
		}
	}
	for i := 0; i < p.Test.Len(); i++ {
		row, target := p.Test.Row(i)
		want := (target - 0.5) / 14
		raw := row[0]*p.Scaler.Scale()[0] + p.Scaler.Mean()[0]
		if math.Abs(raw-(want+0.5)) > 1e-9 {
			t.Errorf("test row %d: target %v does not match CRIM %v", i, target, raw)
		}
	}

	if _, err := Prepare(Options{Path: filepath.Join(t.TempDir(), "missing"), Target: "MEDV", TestRatio: 0.2}); err == nil {
		t.Error("expected error for a missing file")
	}
	if _, err := Prepare(Options{Path: path, Target: "PRICE", TestRatio: 0.2}); err == nil {
		t.Error("expected error for an unknown target")
	}
}

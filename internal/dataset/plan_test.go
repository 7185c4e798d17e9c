package dataset

import (
	"errors"
	"slices"
	"testing"
)

func TestChunks_Historical(t *testing.T) {
	chunks := Chunks(ScenarioHistorical)

	want := []Chunk{
		{1971, 1980}, {1981, 1990}, {1991, 2000}, {2001, 2010}, {2011, 2014},
	}
	if !slices.Equal(chunks, want) {
		t.Fatalf("expected %v, got %v", want, chunks)
	}

	for _, c := range chunks {
		if c.End-c.Start > ChunkSpan {
			t.Errorf("chunk %v spans more than %d years", c, ChunkSpan)
		}
	}
	if last := chunks[len(chunks)-1]; last.End != 2014 {
		t.Errorf("expected last historical chunk to end in 2014, got %d", last.End)
	}
}

func TestChunks_Future(t *testing.T) {
	for _, s := range []Scenario{ScenarioSSP126, ScenarioSSP585} {
		chunks := Chunks(s)
		if len(chunks) != 8 {
			t.Fatalf("%s: expected 8 chunks, got %d", s, len(chunks))
		}
		if chunks[0] != (Chunk{2021, 2030}) {
			t.Errorf("%s: unexpected first chunk %v", s, chunks[0])
		}
		for _, c := range chunks {
			if c.End-c.Start != ChunkSpan {
				t.Errorf("%s: chunk %v is not %d years wide", s, c, ChunkSpan)
			}
		}
		if last := chunks[len(chunks)-1]; last.End != 2100 {
			t.Errorf("%s: expected last chunk to end in 2100, got %d", s, last.End)
		}
	}
}

func TestPlan_SingleModelHistorical(t *testing.T) {
	sel, err := ParseSelection([]string{"GFDL-ESM4"}, []string{"tas"}, []string{"historical"})
	if err != nil {
		t.Fatalf("ParseSelection: %v", err)
	}

	items := slices.Collect(Plan(sel))
	if len(items) != 5 {
		t.Fatalf("expected 5 items, got %d", len(items))
	}
	if Count(sel) != 5 {
		t.Errorf("expected Count 5, got %d", Count(sel))
	}

	first := items[0]
	if first.Model != ModelGFDLESM4 || first.Variable != VariableTas || first.YearStart != 1971 || first.YearEnd != 1980 {
		t.Errorf("unexpected first item: %+v", first)
	}
	last := items[4]
	if last.YearStart != 2011 || last.YearEnd != 2014 {
		t.Errorf("unexpected last item: %+v", last)
	}
}

func TestPlan_AllModelsFuture(t *testing.T) {
	sel, err := ParseSelection([]string{"all"}, []string{"pr"}, []string{"ssp585"})
	if err != nil {
		t.Fatalf("ParseSelection: %v", err)
	}

	items := slices.Collect(Plan(sel))
	if len(items) != 40 {
		t.Fatalf("expected 5 models x 8 chunks = 40 items, got %d", len(items))
	}

	perModel := map[Model]int{}
	for _, it := range items {
		perModel[it.Model]++
	}
	for _, m := range Models {
		if perModel[m] != 8 {
			t.Errorf("expected 8 items for %s, got %d", m, perModel[m])
		}
	}
}

func TestPlan_Deterministic(t *testing.T) {
	sel, err := ParseSelection([]string{"all"}, []string{"tas", "pr"}, []string{"all"})
	if err != nil {
		t.Fatalf("ParseSelection: %v", err)
	}

	a := slices.Collect(Plan(sel))
	b := slices.Collect(Plan(sel))
	if !slices.Equal(a, b) {
		t.Error("expected two plans of the same selection to be identical")
	}
	if len(a) != Count(sel) {
		t.Errorf("expected %d items, got %d", Count(sel), len(a))
	}
}

func TestPlan_StopsEarly(t *testing.T) {
	sel, _ := ParseSelection([]string{"all"}, []string{"tas"}, []string{"all"})

	n := 0
	for range Plan(sel) {
		n++
		if n == 3 {
			break
		}
	}
	if n != 3 {
		t.Errorf("expected iteration to stop at 3, got %d", n)
	}
}

func TestParseSelection_Invalid(t *testing.T) {
	tests := []struct {
		name      string
		models    []string
		variables []string
		scenarios []string
	}{
		{"unknown model", []string{"HadGEM"}, []string{"tas"}, []string{"historical"}},
		{"unknown variable", []string{"GFDL-ESM4"}, []string{"sfcwind"}, []string{"historical"}},
		{"unknown scenario", []string{"GFDL-ESM4"}, []string{"tas"}, []string{"ssp370"}},
		{"all variables is not shorthand", []string{"GFDL-ESM4"}, []string{"all"}, []string{"historical"}},
		{"missing models", nil, []string{"tas"}, []string{"historical"}},
		{"missing variables", []string{"GFDL-ESM4"}, nil, []string{"historical"}},
		{"blank variables", []string{"GFDL-ESM4"}, []string{" "}, []string{"historical"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSelection(tt.models, tt.variables, tt.scenarios)
			if !errors.Is(err, ErrInvalidSelection) {
				t.Errorf("expected ErrInvalidSelection, got %v", err)
			}
		})
	}
}

func TestParseSelection_Dedupes(t *testing.T) {
	sel, err := ParseSelection([]string{"MRI-ESM2-0", "MRI-ESM2-0"}, []string{"pr", "tas", "pr"}, []string{"ssp126"})
	if err != nil {
		t.Fatalf("ParseSelection: %v", err)
	}
	if len(sel.Models) != 1 {
		t.Errorf("expected 1 model, got %v", sel.Models)
	}
	if !slices.Equal(sel.Variables, []Variable{VariablePr, VariableTas}) {
		t.Errorf("unexpected variables %v", sel.Variables)
	}
	if sel.AllModels() {
		t.Error("single model selection reported as all models")
	}
}

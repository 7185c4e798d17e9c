// Package dataset describes the ISIMIP3b bias-adjusted daily climate catalog:
// models, variables, scenarios, the chunked file layout and work item planning.
package dataset

import (
	"errors"
	"fmt"
	"strings"
)

// All is the selection token that expands to every model or scenario.
const All = "all"

// ErrInvalidSelection is returned for unknown model, variable or scenario tokens.
var ErrInvalidSelection = errors.New("invalid selection")

// Model is a CMIP6 global climate model published in ISIMIP3b.
type Model string

const (
	ModelGFDLESM4   Model = "GFDL-ESM4"
	ModelMPIESM12HR Model = "MPI-ESM1-2-HR"
	ModelIPSLCM6ALR Model = "IPSL-CM6A-LR"
	ModelMRIESM20   Model = "MRI-ESM2-0"
	ModelUKESM10LL  Model = "UKESM1-0-LL"
)

// Models lists every model in catalog order.
var Models = []Model{ModelGFDLESM4, ModelMPIESM12HR, ModelIPSLCM6ALR, ModelMRIESM20, ModelUKESM10LL}

// ID returns the lowercase identifier used in file names.
func (m Model) ID() string {
	return strings.ToLower(string(m))
}

// Experiment returns the ensemble member tag used in file names.
// UKESM1-0-LL only publishes the f2 forcing variant.
func (m Model) Experiment() string {
	if m == ModelUKESM10LL {
		return "r1i1p1f2"
	}
	return "r1i1p1f1"
}

// Valid reports whether m is part of the catalog.
func (m Model) Valid() bool {
	for _, known := range Models {
		if m == known {
			return true
		}
	}
	return false
}

// Variable is a daily climate variable.
type Variable string

const (
	VariableHurs   Variable = "hurs"
	VariableHuss   Variable = "huss"
	VariablePr     Variable = "pr"
	VariablePrsn   Variable = "prsn"
	VariablePs     Variable = "ps"
	VariableTas    Variable = "tas"
	VariableTasmax Variable = "tasmax"
	VariableTasmin Variable = "tasmin"
)

// Variables lists every variable in catalog order.
var Variables = []Variable{
	VariableHurs, VariableHuss, VariablePr, VariablePrsn,
	VariablePs, VariableTas, VariableTasmax, VariableTasmin,
}

// Valid reports whether v is part of the catalog.
func (v Variable) Valid() bool {
	for _, known := range Variables {
		if v == known {
			return true
		}
	}
	return false
}

// Scenario is a forcing experiment. It determines the year chunking.
type Scenario string

const (
	ScenarioHistorical Scenario = "historical"
	ScenarioSSP126     Scenario = "ssp126"
	ScenarioSSP585     Scenario = "ssp585"
)

// Scenarios lists every scenario in catalog order.
var Scenarios = []Scenario{ScenarioHistorical, ScenarioSSP126, ScenarioSSP585}

// Valid reports whether s is part of the catalog.
func (s Scenario) Valid() bool {
	for _, known := range Scenarios {
		if s == known {
			return true
		}
	}
	return false
}

// Selection is a validated user selection.
type Selection struct {
	Models    []Model
	Variables []Variable
	Scenarios []Scenario
}

// AllModels reports whether the selection covers the full model catalog.
func (s Selection) AllModels() bool {
	return len(s.Models) == len(Models)
}

// ParseSelection validates raw tokens. "all" expands models and scenarios;
// variables must always be listed explicitly. Duplicates are dropped while
// keeping first-seen order.
func ParseSelection(models, variables, scenarios []string) (Selection, error) {
	var sel Selection

	if len(models) == 0 {
		return sel, fmt.Errorf("%w: at least one model is required", ErrInvalidSelection)
	}
	if len(variables) == 0 {
		return sel, fmt.Errorf("%w: at least one variable is required", ErrInvalidSelection)
	}
	if len(scenarios) == 0 {
		return sel, fmt.Errorf("%w: a scenario is required", ErrInvalidSelection)
	}

	if containsAll(models) {
		sel.Models = append(sel.Models, Models...)
	} else {
		for _, raw := range dedupe(models) {
			m := Model(raw)
			if !m.Valid() {
				return Selection{}, fmt.Errorf("%w: unknown model %q (valid: %s)", ErrInvalidSelection, raw, joinNames(Models))
			}
			sel.Models = append(sel.Models, m)
		}
	}

	for _, raw := range dedupe(variables) {
		v := Variable(raw)
		if !v.Valid() {
			return Selection{}, fmt.Errorf("%w: unknown variable %q (valid: %s)", ErrInvalidSelection, raw, joinNames(Variables))
		}
		sel.Variables = append(sel.Variables, v)
	}

	if containsAll(scenarios) {
		sel.Scenarios = append(sel.Scenarios, Scenarios...)
	} else {
		for _, raw := range dedupe(scenarios) {
			s := Scenario(raw)
			if !s.Valid() {
				return Selection{}, fmt.Errorf("%w: unknown scenario %q (valid: %s)", ErrInvalidSelection, raw, joinNames(Scenarios))
			}
			sel.Scenarios = append(sel.Scenarios, s)
		}
	}

	if len(sel.Models) == 0 || len(sel.Variables) == 0 || len(sel.Scenarios) == 0 {
		return Selection{}, fmt.Errorf("%w: selection is empty", ErrInvalidSelection)
	}

	return sel, nil
}

func containsAll(tokens []string) bool {
	for _, t := range tokens {
		if strings.EqualFold(strings.TrimSpace(t), All) {
			return true
		}
	}
	return false
}

func dedupe(tokens []string) []string {
	seen := make(map[string]bool, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func joinNames[T ~string](values []T) string {
	names := make([]string, len(values))
	for i, v := range values {
		names[i] = string(v)
	}
	return strings.Join(names, ", ")
}

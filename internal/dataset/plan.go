package dataset

import (
	"fmt"
	"iter"
)

const (
	// ChunkSpan is the maximum yearEnd-yearStart of one file.
	ChunkSpan = 9

	historicalStart = 1971
	historicalEnd   = 2014
	futureStart     = 2021
	futureEnd       = 2100
	chunkStep       = 10
)

// Chunk is the inclusive year range of one file.
type Chunk struct {
	Start int
	End   int
}

// WorkItem is the atomic unit of fetch and crop.
type WorkItem struct {
	Model     Model
	Variable  Variable
	Scenario  Scenario
	YearStart int
	YearEnd   int
}

// Key identifies the item in logs and summaries.
func (w WorkItem) Key() string {
	return fmt.Sprintf("%s/%s/%s/%d-%d", w.Model, w.Scenario, w.Variable, w.YearStart, w.YearEnd)
}

// Chunks returns the year chunks published for a scenario. Historical files
// step by a decade from 1971 and the last one stops at 2014; future files
// cover whole decades from 2021 to 2100.
func Chunks(s Scenario) []Chunk {
	start, last := futureStart, futureEnd
	if s == ScenarioHistorical {
		start, last = historicalStart, historicalEnd
	}

	var chunks []Chunk
	for y := start; y <= last; y += chunkStep {
		chunks = append(chunks, Chunk{Start: y, End: min(y+ChunkSpan, last)})
	}
	return chunks
}

// Plan expands a selection into work items ordered by model, scenario,
// variable and chunk. Items are generated lazily while ranging.
func Plan(sel Selection) iter.Seq[WorkItem] {
	return func(yield func(WorkItem) bool) {
		for _, m := range sel.Models {
			for _, s := range sel.Scenarios {
				chunks := Chunks(s)
				for _, v := range sel.Variables {
					for _, c := range chunks {
						item := WorkItem{
							Model:     m,
							Variable:  v,
							Scenario:  s,
							YearStart: c.Start,
							YearEnd:   c.End,
						}
						if !yield(item) {
							return
						}
					}
				}
			}
		}
	}
}

// Count returns the number of items Plan yields for sel.
func Count(sel Selection) int {
	n := 0
	for _, s := range sel.Scenarios {
		n += len(Chunks(s))
	}
	return n * len(sel.Models) * len(sel.Variables)
}

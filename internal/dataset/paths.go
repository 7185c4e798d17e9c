package dataset

import (
	"fmt"
	"path"
	"strings"
)

// DefaultBaseURL is the ISIMIP3b bias-adjusted daily climate input root.
const DefaultBaseURL = "https://files.isimip.org/ISIMIP3b/InputData/climate/atmosphere/bias-adjusted/global/daily"

// CroppedSuffix marks a spatially subset file.
const CroppedSuffix = "_cropped.nc"

// Paths locates one chunk file remotely and locally. Raw and Cropped are
// slash-separated keys relative to the output root.
type Paths struct {
	URL     string
	Raw     string
	Cropped string
}

// PathBuilder maps catalog coordinates onto the remote and local layout.
type PathBuilder struct {
	BaseURL string
}

// NewPathBuilder returns a builder rooted at baseURL, or DefaultBaseURL when empty.
func NewPathBuilder(baseURL string) PathBuilder {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return PathBuilder{BaseURL: strings.TrimSuffix(baseURL, "/")}
}

// Build returns the paths of one chunk file.
func (p PathBuilder) Build(m Model, v Variable, s Scenario, yearStart, yearEnd int) (Paths, error) {
	if !m.Valid() {
		return Paths{}, fmt.Errorf("%w: unknown model %q", ErrInvalidSelection, m)
	}
	if !v.Valid() {
		return Paths{}, fmt.Errorf("%w: unknown variable %q", ErrInvalidSelection, v)
	}
	if !s.Valid() {
		return Paths{}, fmt.Errorf("%w: unknown scenario %q", ErrInvalidSelection, s)
	}
	if yearEnd < yearStart || yearEnd-yearStart > ChunkSpan {
		return Paths{}, fmt.Errorf("invalid year range %d-%d", yearStart, yearEnd)
	}

	name := fmt.Sprintf("%s_%s_w5e5_%s_%s_global_daily_%d_%d", m.ID(), m.Experiment(), s, v, yearStart, yearEnd)
	dir := Dir(m, s)

	return Paths{
		URL:     fmt.Sprintf("%s/%s/%s/%s.nc", p.BaseURL, s, m, name),
		Raw:     path.Join(dir, name+".nc"),
		Cropped: CroppedKey(path.Join(dir, name+".nc")),
	}, nil
}

// BuildItem is Build applied to a work item.
func (p PathBuilder) BuildItem(item WorkItem) (Paths, error) {
	return p.Build(item.Model, item.Variable, item.Scenario, item.YearStart, item.YearEnd)
}

// CroppedKey maps a raw file key onto its cropped counterpart.
func CroppedKey(rawKey string) string {
	return strings.TrimSuffix(rawKey, ".nc") + CroppedSuffix
}

// Dir is the local directory key holding one model/scenario's files.
func Dir(m Model, s Scenario) string {
	return path.Join(string(m), string(s))
}

// DescriptorPath is the NcML descriptor key for one model/scenario.
func DescriptorPath(m Model, s Scenario) string {
	return path.Join("ncml", string(s), fmt.Sprintf("%s_%s.ncml", m, s))
}

// CombinedPath is the merged-file key for one model/scenario.
func CombinedPath(m Model, s Scenario) string {
	return path.Join("combined", string(s), fmt.Sprintf("%s_combined.nc", m))
}

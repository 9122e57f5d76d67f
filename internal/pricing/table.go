// Package pricing prices token usage from a per-model table.
package pricing

import (
	_ "embed"
	"os"
	"sort"
	"strings"

	"github.com/Laisky/errors/v2"
	"gopkg.in/yaml.v3"
)

// DefaultModel prices any model the table does not know.
const DefaultModel = "gpt-3.5-turbo"

//go:embed pricing.yaml
var defaultTableYAML []byte

// Entry is the price of one model in USD per 1K tokens.
type Entry struct {
	Model       string  `yaml:"-" json:"model"`
	InputPer1K  float64 `yaml:"input" json:"input"`
	OutputPer1K float64 `yaml:"output" json:"output"`
}

type tableFile struct {
	DefaultModel string           `yaml:"default_model"`
	Models       map[string]Entry `yaml:"models"`
}

// Table maps model names to prices. It is never modified after construction.
type Table struct {
	defaultModel string
	entries      map[string]Entry
}

// Default returns the built-in table.
func Default() *Table {
	t, err := Parse(defaultTableYAML)
	if err != nil {
		panic(errors.Wrap(err, "embedded pricing table"))
	}
	return t
}

// Parse reads a complete YAML (or JSON) table. The default model must be
// priced by the table itself.
func Parse(data []byte) (*Table, error) {
	t, err := parse(data)
	if err != nil {
		return nil, err
	}
	if t.defaultModel == "" {
		t.defaultModel = DefaultModel
	}
	if _, ok := t.entries[t.defaultModel]; !ok {
		return nil, errors.Errorf("default model %q has no price", t.defaultModel)
	}
	return t, nil
}

// Overlay reads a partial table and layers it over the built-in one.
func Overlay(data []byte) (*Table, error) {
	override, err := parse(data)
	if err != nil {
		return nil, err
	}
	return Default().Merge(override)
}

func parse(data []byte) (*Table, error) {
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, "parse pricing table")
	}
	if len(f.Models) == 0 {
		return nil, errors.New("pricing table has no models")
	}

	t := &Table{
		defaultModel: f.DefaultModel,
		entries:      make(map[string]Entry, len(f.Models)),
	}
	for name, e := range f.Models {
		if e.InputPer1K < 0 || e.OutputPer1K < 0 {
			return nil, errors.Errorf("negative price for model %q", name)
		}
		e.Model = name
		t.entries[name] = e
	}

	return t, nil
}

// Load reads a table file and layers it over the built-in table.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read pricing file %s", path)
	}
	t, err := Overlay(data)
	if err != nil {
		return nil, errors.Wrapf(err, "pricing file %s", path)
	}
	return t, nil
}

// Merge returns a new table with other's entries and default model layered
// over t.
func (t *Table) Merge(other *Table) (*Table, error) {
	merged := &Table{
		defaultModel: t.defaultModel,
		entries:      make(map[string]Entry, len(t.entries)+len(other.entries)),
	}
	for k, v := range t.entries {
		merged.entries[k] = v
	}
	for k, v := range other.entries {
		merged.entries[k] = v
	}
	if other.defaultModel != "" {
		merged.defaultModel = other.defaultModel
	}
	if _, ok := merged.entries[merged.defaultModel]; !ok {
		return nil, errors.Errorf("default model %q has no price", merged.defaultModel)
	}

	return merged, nil
}

// Lookup returns the entry for model. When the model is unknown it returns
// the default model's entry and fallback=true. It never fails.
func (t *Table) Lookup(model string) (entry Entry, fallback bool) {
	if e, ok := t.entries[strings.TrimSpace(model)]; ok {
		return e, false
	}
	return t.entries[t.defaultModel], true
}

// DefaultModel is the model used for unknown names.
func (t *Table) DefaultModel() string {
	return t.defaultModel
}

// Entries lists every entry sorted by model name.
func (t *Table) Entries() []Entry {
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
	return out
}

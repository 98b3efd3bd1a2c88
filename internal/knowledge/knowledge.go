// Package knowledge holds the static descriptions shown for each plant label.
package knowledge

import (
	"bytes"
	_ "embed"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/Brownie44l1/aushadhi-api/internal/catalog"
)

// ErrUnknownLabel is returned when no entry is registered for a label.
var ErrUnknownLabel = errors.New("unknown label")

//go:embed plants.yaml
var embedded []byte

// Entry describes one plant.
type Entry struct {
	Label       string `yaml:"label" json:"label"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
}

type document struct {
	Plants []Entry `yaml:"plants"`
}

// Table maps labels to entries. It is read-only after construction.
type Table struct {
	entries map[string]Entry
	order   []string
}

// Default returns the table compiled into the binary.
func Default() *Table {
	t, err := Load(bytes.NewReader(embedded))
	if err != nil {
		panic(errors.Wrap(err, "embedded plants.yaml"))
	}
	return t
}

// LoadFile reads a table from a YAML file in the embedded format.
func LoadFile(path string) (*Table, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, errors.Wrap(err, "opening knowledge file")
	}
	defer f.Close()
	return Load(f)
}

// Load decodes a table. Labels must be unique and every entry needs a
// description.
func Load(r io.Reader) (*Table, error) {
	var doc document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, errors.Wrap(err, "decoding knowledge table")
	}
	if len(doc.Plants) == 0 {
		return nil, errors.New("knowledge table has no plants")
	}

	t := &Table{entries: make(map[string]Entry, len(doc.Plants))}
	for i, e := range doc.Plants {
		e.Label = strings.TrimSpace(e.Label)
		e.Description = strings.TrimSpace(e.Description)
		if e.Label == "" {
			return nil, errors.Errorf("plant %d has no label", i)
		}
		if e.Description == "" {
			return nil, errors.Errorf("plant %q has no description", e.Label)
		}
		if _, ok := t.entries[e.Label]; ok {
			return nil, errors.Errorf("plant %q is listed twice", e.Label)
		}
		if e.Name == "" {
			e.Name = strings.ReplaceAll(e.Label, "_", " ")
		}
		t.entries[e.Label] = e
		t.order = append(t.order, e.Label)
	}
	return t, nil
}

// Lookup returns the entry for label.
func (t *Table) Lookup(label string) (Entry, error) {
	e, ok := t.entries[label]
	if !ok {
		return Entry{}, errors.Wrapf(ErrUnknownLabel, "%q", label)
	}
	return e, nil
}

// Len is the number of entries.
func (t *Table) Len() int {
	return len(t.order)
}

// Labels returns the labels in file order.
func (t *Table) Labels() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// Missing returns the catalog labels that have no entry.
func (t *Table) Missing(cat *catalog.Catalog) []string {
	var missing []string
	for _, l := range cat.Labels() {
		if _, ok := t.entries[l]; !ok {
			missing = append(missing, l)
		}
	}
	return missing
}

// Package catalog builds the ordered list of plant labels the classifier was
// trained against.
package catalog

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// ErrBuild is returned when a catalog cannot be built from its source.
var ErrBuild = errors.New("catalog build failed")

// Catalog is an ordered, immutable sequence of unique labels. Position i names
// output i of the classifier.
type Catalog struct {
	labels []string
	index  map[string]int
}

// FromDir builds a catalog from the class subdirectories of root, sorted
// lexicographically by name. Plain files and hidden directories are skipped.
func FromDir(root string) (*Catalog, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, errors.Wrapf(ErrBuild, "dataset root %q: %v", root, err)
	}
	if !info.IsDir() {
		return nil, errors.Wrapf(ErrBuild, "dataset root %q is not a directory", root)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.Wrapf(ErrBuild, "reading dataset root %q: %v", root, err)
	}

	var labels []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		labels = append(labels, e.Name())
	}
	if len(labels) == 0 {
		return nil, errors.Wrapf(ErrBuild, "dataset root %q has no class subdirectories", root)
	}
	sort.Strings(labels)
	return FromLabels(labels)
}

// FromLabels builds a catalog that keeps the given order.
func FromLabels(labels []string) (*Catalog, error) {
	if len(labels) == 0 {
		return nil, errors.Wrap(ErrBuild, "no labels")
	}
	c := &Catalog{
		labels: make([]string, len(labels)),
		index:  make(map[string]int, len(labels)),
	}
	for i, l := range labels {
		if l == "" {
			return nil, errors.Wrapf(ErrBuild, "label %d is empty", i)
		}
		if j, ok := c.index[l]; ok {
			return nil, errors.Wrapf(ErrBuild, "label %q appears at %d and %d", l, j, i)
		}
		c.labels[i] = l
		c.index[l] = i
	}
	return c, nil
}

// FromFile reads a labels file with one label per line. Blank lines are
// ignored and the file order is kept.
func FromFile(path string) (*Catalog, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, errors.Wrapf(ErrBuild, "labels file %q: %v", path, err)
	}
	defer f.Close()

	var labels []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		labels = append(labels, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(ErrBuild, "reading labels file %q: %v", path, err)
	}
	return FromLabels(labels)
}

// WriteFile stores the catalog in the format FromFile reads.
func (c *Catalog) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data := strings.Join(c.labels, "\n") + "\n"
	return os.WriteFile(path, []byte(data), 0o644)
}

// Len is the number of labels.
func (c *Catalog) Len() int {
	return len(c.labels)
}

// At returns the label at position i. It panics if i is out of range.
func (c *Catalog) At(i int) string {
	return c.labels[i]
}

// Index returns the position of label, or -1.
func (c *Catalog) Index(label string) int {
	if i, ok := c.index[label]; ok {
		return i
	}
	return -1
}

// Labels returns a copy of the ordered labels.
func (c *Catalog) Labels() []string {
	out := make([]string, len(c.labels))
	copy(out, c.labels)
	return out
}

// Equal reports whether both catalogs hold the same labels in the same order.
func (c *Catalog) Equal(other *Catalog) bool {
	if c == nil || other == nil {
		return c == other
	}
	if len(c.labels) != len(other.labels) {
		return false
	}
	for i := range c.labels {
		if c.labels[i] != other.labels[i] {
			return false
		}
	}
	return true
}

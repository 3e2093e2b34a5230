package sqlanalysis

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"
)

// Table describes one table of the supplied schema catalogue.
type Table struct {
	Name            string   `yaml:"name"`
	Columns         []string `yaml:"columns"`
	IndexedColumns  []string `yaml:"indexed_columns"`
	FullTextColumns []string `yaml:"fulltext_columns"`
	Large           bool     `yaml:"large"`
}

// Catalog is the optional index/column catalogue. An empty catalogue
// disables the checks that depend on schema knowledge; the analyzer
// never guesses.
type Catalog struct {
	Tables []Table `yaml:"tables"`
}

// LoadCatalog reads a catalogue definition from a YAML file.
func LoadCatalog(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	var c Catalog
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	return &c, nil
}

// Empty reports whether no schema knowledge is available.
func (c *Catalog) Empty() bool {
	return c == nil || len(c.Tables) == 0
}

// Table finds a table by name, case-insensitively.
func (c *Catalog) Table(name string) (*Table, bool) {
	if c == nil {
		return nil, false
	}
	for i := range c.Tables {
		if strings.EqualFold(c.Tables[i].Name, name) {
			return &c.Tables[i], true
		}
	}
	return nil, false
}

// HasColumn reports whether the table declares the column.
func (t *Table) HasColumn(column string) bool {
	return containsFold(t.Columns, column)
}

// HasIndexOn reports whether the column is covered by an index.
func (t *Table) HasIndexOn(column string) bool {
	return containsFold(t.IndexedColumns, column)
}

// HasFullTextOn reports whether the column has a full-text index.
func (t *Table) HasFullTextOn(column string) bool {
	return containsFold(t.FullTextColumns, column)
}

func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}

// Package catalog holds the read-only category and advice reference data the
// pipeline consumes. It is loaded once from YAML and never mutated.
package catalog

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"analyzer/internal/domain"
)

// File is the on-disk layout of the catalog.
type File struct {
	Categories []domain.Category `yaml:"categories" validate:"required,min=1,dive"`
	Advice     []domain.Advice   `yaml:"advice" validate:"required,min=1,dive"`
}

// Catalog is an immutable lookup table.
type Catalog struct {
	categories []domain.Category
	advice     []domain.Advice
	byCategory map[string]domain.Category
	byAdvice   map[string]domain.Advice
}

// Load reads and validates the catalog at path.
func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes YAML catalog data.
func Parse(raw []byte) (*Catalog, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}
	return New(f)
}

// New validates f and builds the lookup maps. Ids are case-insensitive.
func New(f File) (*Catalog, error) {
	f.normalize()
	if err := validator.New().Struct(f); err != nil {
		return nil, fmt.Errorf("catalog: invalid: %w", err)
	}
	c := &Catalog{
		categories: f.Categories,
		advice:     f.Advice,
		byCategory: make(map[string]domain.Category, len(f.Categories)),
		byAdvice:   make(map[string]domain.Advice, len(f.Advice)),
	}
	for _, cat := range f.Categories {
		if _, dup := c.byCategory[cat.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate category id %q", cat.ID)
		}
		c.byCategory[cat.ID] = cat
	}
	for _, adv := range f.Advice {
		if _, dup := c.byAdvice[adv.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate advice id %q", adv.ID)
		}
		c.byAdvice[adv.ID] = adv
	}
	return c, nil
}

func (f *File) normalize() {
	for i := range f.Categories {
		f.Categories[i].ID = NormalizeID(f.Categories[i].ID)
		f.Categories[i].Label = strings.TrimSpace(f.Categories[i].Label)
	}
	for i := range f.Advice {
		f.Advice[i].ID = NormalizeID(f.Advice[i].ID)
		f.Advice[i].Name = strings.TrimSpace(f.Advice[i].Name)
		f.Advice[i].Description = strings.TrimSpace(f.Advice[i].Description)
	}
}

// NormalizeID canonicalises a category or advice id.
func NormalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Category looks up a category by id.
func (c *Catalog) Category(id string) (domain.Category, bool) {
	cat, ok := c.byCategory[NormalizeID(id)]
	return cat, ok
}

// Advice looks up an advice entry by id.
func (c *Catalog) Advice(id string) (domain.Advice, bool) {
	adv, ok := c.byAdvice[NormalizeID(id)]
	return adv, ok
}

// Categories returns the categories in file order.
func (c *Catalog) Categories() []domain.Category {
	return append([]domain.Category(nil), c.categories...)
}

// AdviceList returns the advice entries in file order.
func (c *Catalog) AdviceList() []domain.Advice {
	return append([]domain.Advice(nil), c.advice...)
}

package reference

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/petscan/internal/model"
)

// catalogFile is the on-disk layout of a reference catalog.
type catalogFile struct {
	Ingredients []catalogEntry `yaml:"ingredients"`
}

type catalogEntry struct {
	model.ReferenceEntry `yaml:",inline"`
	Aliases              []string `yaml:"aliases,omitempty"`
}

// Catalog is an in-memory reference keyed by normalized name and alias.
// It is read-only after construction.
type Catalog struct {
	entries map[string]*model.ReferenceEntry
}

// LoadCatalog reads a YAML catalog from path.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "reference: read catalog %s", path)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes a YAML catalog and validates every entry.
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "reference: parse catalog")
	}

	cat := &Catalog{entries: make(map[string]*model.ReferenceEntry, len(f.Ingredients))}
	for i := range f.Ingredients {
		ce := f.Ingredients[i]
		if normalizeName(ce.Name) == "" {
			return nil, eris.Errorf("reference: catalog entry %d has no name", i)
		}
		if !ce.SafetyLevel.Valid() {
			return nil, eris.Errorf("reference: catalog entry %q has invalid safety_level %q", ce.Name, ce.SafetyLevel)
		}
		compat := model.ParseSpeciesCompatibility(string(ce.SpeciesCompatibility))
		if compat == "" {
			return nil, eris.Errorf("reference: catalog entry %q has invalid species_compatibility %q",
				ce.Name, ce.SpeciesCompatibility)
		}

		entry := ce.ReferenceEntry
		entry.SpeciesCompatibility = compat
		if entry.Nutrients != nil && entry.Nutrients.IsEmpty() {
			entry.Nutrients = nil
		}
		cat.add(&entry, ce.Aliases)
	}
	return cat, nil
}

// NewCatalog builds a catalog from entries, mostly for tests and embedding.
func NewCatalog(entries ...model.ReferenceEntry) *Catalog {
	cat := &Catalog{entries: make(map[string]*model.ReferenceEntry, len(entries))}
	for i := range entries {
		e := entries[i]
		cat.add(&e, nil)
	}
	return cat
}

func (c *Catalog) add(e *model.ReferenceEntry, aliases []string) {
	c.entries[normalizeName(e.Name)] = e
	for _, a := range aliases {
		if key := normalizeName(a); key != "" {
			c.entries[key] = e
		}
	}
}

// Len returns the number of lookup keys, aliases included.
func (c *Catalog) Len() int {
	return len(c.entries)
}

// Lookup implements Service. The returned entry is a copy.
func (c *Catalog) Lookup(ctx context.Context, name string) (*model.ReferenceEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e, ok := c.entries[normalizeName(name)]
	if !ok {
		return nil, nil
	}
	out := *e
	return &out, nil
}

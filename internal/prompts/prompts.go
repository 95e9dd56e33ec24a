// Package prompts holds the prompt template catalogue served by the
// get_prompt_templates tool and the MCP prompts built on top of it.
//
// Templates are YAML documents under templates/, one per category, embedded in
// the binary and parsed once.
package prompts

import (
	"embed"
	"fmt"
	"io/fs"
	"maps"
	"path"
	"slices"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed templates/*.yaml
var templateFS embed.FS

// exclusiveCategories select their whole set by name instead of matching the
// filter against template keys, because their keys do not share a prefix.
var exclusiveCategories = map[string]bool{"warwickshire": true}

// Template is one prompt template.
type Template struct {
	Key      string `yaml:"key"`
	Text     string `yaml:"text"`
	Category string `yaml:"-"`
}

type categoryFile struct {
	Category    string     `yaml:"category"`
	Description string     `yaml:"description"`
	Templates   []Template `yaml:"templates"`
}

// Category describes one template set.
type Category struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Count       int    `json:"count"`
}

// Catalog is the parsed template set. It is immutable and safe for
// concurrent use.
type Catalog struct {
	templates  map[string]Template
	categories map[string]Category
	members    map[string][]string
}

// Load parses every embedded template document.
func Load() (*Catalog, error) {
	return loadFS(templateFS, "templates")
}

func loadFS(fsys fs.FS, dir string) (*Catalog, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("prompts: read templates: %w", err)
	}
	c := &Catalog{
		templates:  make(map[string]Template),
		categories: make(map[string]Category),
		members:    make(map[string][]string),
	}
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".yaml" {
			continue
		}
		data, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("prompts: read %s: %w", e.Name(), err)
		}
		var f categoryFile
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("prompts: decode %s: %w", e.Name(), err)
		}
		if f.Category == "" {
			return nil, fmt.Errorf("prompts: %s: missing category", e.Name())
		}
		for _, t := range f.Templates {
			if t.Key == "" || strings.TrimSpace(t.Text) == "" {
				return nil, fmt.Errorf("prompts: %s: template with empty key or text", e.Name())
			}
			if prev, dup := c.templates[t.Key]; dup {
				return nil, fmt.Errorf("prompts: duplicate key %q in %s and %s", t.Key, prev.Category, f.Category)
			}
			t.Category = f.Category
			c.templates[t.Key] = t
			c.members[f.Category] = append(c.members[f.Category], t.Key)
		}
		c.categories[f.Category] = Category{Name: f.Category, Description: f.Description, Count: len(f.Templates)}
	}
	return c, nil
}

var (
	defaultCatalog     *Catalog
	defaultCatalogOnce sync.Once
)

// Default returns the embedded catalogue. It panics if the embedded
// documents are invalid.
func Default() *Catalog {
	defaultCatalogOnce.Do(func() {
		c, err := Load()
		if err != nil {
			panic(err)
		}
		defaultCatalog = c
	})
	return defaultCatalog
}

// Len returns the number of templates.
func (c *Catalog) Len() int { return len(c.templates) }

// Get returns the template with the given key.
func (c *Catalog) Get(key string) (Template, bool) {
	t, ok := c.templates[key]
	return t, ok
}

// All returns every template keyed by name.
func (c *Catalog) All() map[string]string {
	out := make(map[string]string, len(c.templates))
	for k, t := range c.templates {
		out[k] = t.Text
	}
	return out
}

// Filter returns the templates selected by category. An empty category
// selects everything. An exclusive category name selects exactly its set.
// Anything else is a case-insensitive substring match on template keys, so
// an unknown category yields an empty result.
func (c *Catalog) Filter(category string) map[string]string {
	needle := strings.ToLower(strings.TrimSpace(category))
	if needle == "" {
		return c.All()
	}
	out := make(map[string]string)
	if exclusiveCategories[needle] {
		for _, k := range c.members[needle] {
			out[k] = c.templates[k].Text
		}
		return out
	}
	for k, t := range c.templates {
		if strings.Contains(strings.ToLower(k), needle) {
			out[k] = t.Text
		}
	}
	return out
}

// Categories lists the template sets sorted by name.
func (c *Catalog) Categories() []Category {
	cats := slices.Collect(maps.Values(c.categories))
	sort.Slice(cats, func(i, j int) bool { return cats[i].Name < cats[j].Name })
	return cats
}

// Render returns the text of key with every {name} placeholder that has an
// entry in vars substituted. Placeholders without a value are left intact
// for the reader to fill in.
func (c *Catalog) Render(key string, vars map[string]string) (string, error) {
	t, ok := c.templates[key]
	if !ok {
		return "", fmt.Errorf("prompts: unknown template %q", key)
	}
	return Substitute(t.Text, vars), nil
}

// Substitute replaces {name} placeholders in text with values from vars.
func Substitute(text string, vars map[string]string) string {
	if len(vars) == 0 {
		return text
	}
	pairs := make([]string, 0, 2*len(vars))
	for _, k := range slices.Sorted(maps.Keys(vars)) {
		pairs = append(pairs, "{"+k+"}", vars[k])
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

// Package catalog loads document templates and serves them read-only.
package catalog

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/hyperjump/scribe/internal/models"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed templates/*.yaml
var builtin embed.FS

// SupportedMajorVersion is the only template format major version the loader accepts.
const SupportedMajorVersion = "1"

var schemaLoader = gojsonschema.NewStringLoader(templateSchema)

// DefaultDocumentTypes lists the documents produced for each conversation type.
var DefaultDocumentTypes = map[models.ConversationType][]models.DocumentType{
	models.TypeIdea:    {models.DocPRD, models.DocBRD, models.DocUXDD},
	models.TypeFeature: {models.DocPRD, models.DocSRS, models.DocUXDD},
	models.TypeTool:    {models.DocSRS, models.DocERD, models.DocDBRD},
}

// Definition is one raw template definition, usually the contents of a YAML file.
type Definition struct {
	Name string
	Data []byte
}

// Catalog holds one template per document type. It is never mutated after Load,
// so concurrent readers need no lock.
type Catalog struct {
	templates map[models.DocumentType]*models.Template
	order     []models.DocumentType
}

// Load parses and validates definitions. Any invalid definition fails the whole load
// with a template_load error.
func Load(defs []Definition) (*Catalog, error) {
	c := &Catalog{templates: make(map[models.DocumentType]*models.Template, len(defs))}
	for _, def := range defs {
		tpl, err := parse(def)
		if err != nil {
			return nil, err
		}
		if _, dup := c.templates[tpl.DocumentType]; dup {
			return nil, models.TemplateLoadError("%s: document type %q defined twice", def.Name, tpl.DocumentType)
		}
		c.templates[tpl.DocumentType] = tpl
		c.order = append(c.order, tpl.DocumentType)
	}
	for _, dt := range c.order {
		tpl := c.templates[dt]
		for _, rel := range tpl.Relationships {
			if _, ok := c.templates[rel.Target]; !ok {
				return nil, models.TemplateLoadError("%s: %s relationship references undefined document type %q", dt, rel.Kind, rel.Target)
			}
		}
	}
	sort.Slice(c.order, func(i, j int) bool { return c.order[i] < c.order[j] })
	return c, nil
}

// LoadFS loads every .yaml/.yml file in dir of fsys.
func LoadFS(fsys fs.FS, dir string) (*Catalog, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read template directory: %w", err)
	}
	var defs []Definition
	for _, e := range entries {
		if e.IsDir() || !IsTemplateFile(e.Name()) {
			continue
		}
		data, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read template %s: %w", e.Name(), err)
		}
		defs = append(defs, Definition{Name: e.Name(), Data: data})
	}
	if len(defs) == 0 {
		return nil, models.TemplateLoadError("no templates found in %s", dir)
	}
	return Load(defs)
}

// LoadDir loads templates from a directory on disk.
func LoadDir(dir string) (*Catalog, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("template directory: %w", err)
	}
	return LoadFS(os.DirFS(dir), ".")
}

// Builtin loads the templates compiled into the binary.
func Builtin() (*Catalog, error) {
	return LoadFS(builtin, "templates")
}

// IsTemplateFile reports whether name looks like a template definition.
func IsTemplateFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// Get returns the template for docType.
func (c *Catalog) Get(docType models.DocumentType) (*models.Template, error) {
	tpl, ok := c.templates[docType]
	if !ok {
		return nil, models.NotFoundError("template %q not found", docType)
	}
	return tpl, nil
}

// Types returns the loaded document types in sorted order.
func (c *Catalog) Types() []models.DocumentType {
	return append([]models.DocumentType(nil), c.order...)
}

// Templates returns every template in sorted document type order.
func (c *Catalog) Templates() []*models.Template {
	out := make([]*models.Template, 0, len(c.order))
	for _, dt := range c.order {
		out = append(out, c.templates[dt])
	}
	return out
}

// DocumentTypesFor returns the default document types of convType that this catalog provides.
func (c *Catalog) DocumentTypesFor(convType models.ConversationType) []models.DocumentType {
	var out []models.DocumentType
	for _, dt := range DefaultDocumentTypes[convType] {
		if _, ok := c.templates[dt]; ok {
			out = append(out, dt)
		}
	}
	return out
}

func parse(def Definition) (*models.Template, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(def.Data, &raw); err != nil {
		return nil, models.TemplateLoadError("%s: invalid yaml: %v", def.Name, err)
	}
	if raw == nil {
		return nil, models.TemplateLoadError("%s: empty definition", def.Name)
	}
	if err := validateSchema(raw); err != nil {
		return nil, models.TemplateLoadError("%s: %v", def.Name, err)
	}

	var tpl models.Template
	if err := yaml.Unmarshal(def.Data, &tpl); err != nil {
		return nil, models.TemplateLoadError("%s: %v", def.Name, err)
	}
	if err := checkVersion(tpl.Version); err != nil {
		return nil, models.TemplateLoadError("%s: %v", def.Name, err)
	}
	if tpl.Phase == "" {
		tpl.Phase = models.PhaseDefinition
	}
	tpl.Normalize()
	if err := checkStructure(&tpl); err != nil {
		return nil, models.TemplateLoadError("%s: %v", def.Name, err)
	}
	return &tpl, nil
}

func validateSchema(raw map[string]interface{}) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewGoLoader(raw))
	if err != nil {
		return fmt.Errorf("validation error: %w", err)
	}
	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errs[i] = desc.String()
		}
		return fmt.Errorf("schema validation failed: %v", errs)
	}
	return nil
}

func checkVersion(v string) error {
	major := strings.SplitN(strings.TrimPrefix(strings.TrimSpace(v), "v"), ".", 2)[0]
	if major != SupportedMajorVersion {
		return fmt.Errorf("unsupported template version %q", v)
	}
	return nil
}

func checkStructure(tpl *models.Template) error {
	sectionIDs := make(map[string]bool)
	questions := make(map[string]*models.Question)
	for _, sec := range tpl.OrderedSections() {
		if sec.ID == "" {
			return fmt.Errorf("section %q has no id", sec.Title)
		}
		if sectionIDs[sec.ID] {
			return fmt.Errorf("duplicate section id %q", sec.ID)
		}
		sectionIDs[sec.ID] = true
		for i := range sec.Questions {
			q := &sec.Questions[i]
			if _, dup := questions[q.ID]; dup {
				return fmt.Errorf("duplicate question id %q in document type %s", q.ID, tpl.DocumentType)
			}
			questions[q.ID] = q
		}
	}
	for _, q := range questions {
		if q.Kind == models.KindDynamic && q.ForEach == "" {
			return fmt.Errorf("dynamic question %q has no for_each source", q.ID)
		}
		if q.ForEach == "" {
			continue
		}
		src, ok := questions[q.ForEach]
		if !ok {
			return fmt.Errorf("question %q: for_each references unknown question %q", q.ID, q.ForEach)
		}
		if src.ForEach != "" {
			return fmt.Errorf("question %q: for_each source %q is itself dynamic", q.ID, q.ForEach)
		}
	}
	for _, rule := range tpl.Rules.Document {
		if !sectionIDs[rule.Section] {
			return fmt.Errorf("validation rule %q references unknown section %q", rule.Name, rule.Section)
		}
	}
	return nil
}

// Store holds the current catalog and lets it be replaced atomically, for
// example when the template directory changes. Readers always see a complete catalog.
type Store struct {
	current atomic.Pointer[Catalog]
}

// NewStore returns a store serving c.
func NewStore(c *Catalog) *Store {
	s := &Store{}
	s.current.Store(c)
	return s
}

// Current returns the catalog in effect.
func (s *Store) Current() *Catalog {
	return s.current.Load()
}

// Swap replaces the catalog and returns the previous one.
func (s *Store) Swap(c *Catalog) *Catalog {
	return s.current.Swap(c)
}

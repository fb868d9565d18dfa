package dedup

import (
	"context"
	"sync"

	"github.com/hyperjump/scribe/internal/models"
)

// Loader fetches the persisted entries of a project.
type Loader func(ctx context.Context, projectID string) ([]models.FingerprintEntry, error)

// Registry maps fingerprints to the place their content was first written,
// per project. Entries are never updated or removed.
type Registry struct {
	mu       sync.Mutex
	projects map[string]map[string]models.FingerprintEntry
	loader   Loader
}

// Option configures a Registry.
type Option func(*Registry)

// WithLoader lets the registry fill a project from storage on first use.
func WithLoader(l Loader) Option {
	return func(r *Registry) { r.loader = l }
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{projects: make(map[string]map[string]models.FingerprintEntry)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) project(ctx context.Context, projectID string) (map[string]models.FingerprintEntry, error) {
	if p, ok := r.projects[projectID]; ok {
		return p, nil
	}
	p := make(map[string]models.FingerprintEntry)
	if r.loader != nil {
		entries, err := r.loader(ctx, projectID)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if _, dup := p[e.Fingerprint]; !dup {
				p[e.Fingerprint] = e
			}
		}
	}
	r.projects[projectID] = p
	return p, nil
}

// Lookup returns the entry registered for fingerprint in projectID.
func (r *Registry) Lookup(ctx context.Context, projectID, fingerprint string) (models.FingerprintEntry, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, err := r.project(ctx, projectID)
	if err != nil {
		return models.FingerprintEntry{}, false, err
	}
	e, ok := p[fingerprint]
	return e, ok, nil
}

// Commit registers entries. The check and the insert happen under one lock, so
// when two writers race on the same fingerprint the first one wins. It returns
// the entries that were actually inserted.
func (r *Registry) Commit(ctx context.Context, entries []models.FingerprintEntry) ([]models.FingerprintEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var inserted []models.FingerprintEntry
	for _, e := range entries {
		p, err := r.project(ctx, e.ProjectID)
		if err != nil {
			return inserted, err
		}
		if _, exists := p[e.Fingerprint]; exists {
			continue
		}
		p[e.Fingerprint] = e
		inserted = append(inserted, e)
	}
	return inserted, nil
}

// Forget drops the cached entries of a project. Persisted entries are untouched.
func (r *Registry) Forget(projectID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.projects, projectID)
}

// Location identifies one block of one document.
type Location struct {
	DocumentID   string
	DocumentType models.DocumentType
	SectionID    string
	QuestionID   string
}

// Same reports whether e was written at l.
func (l Location) Same(e models.FingerprintEntry) bool {
	return l.DocumentType == e.DocumentType && l.SectionID == e.SectionID && l.QuestionID == e.QuestionID
}

// ReferenceTo builds the reference that replaces content at l with the content of e.
func (l Location) ReferenceTo(e models.FingerprintEntry) *models.Reference {
	return &models.Reference{
		SourceDoc:          l.DocumentID,
		SourceSection:      l.SectionID,
		TargetDoc:          e.DocumentID,
		TargetDocumentType: e.DocumentType,
		TargetSection:      e.SectionID,
		TargetQuestion:     e.QuestionID,
	}
}

// Check is a check-duplicate pass over one assembly. It sees committed entries
// and the ones registered earlier in the same pass.
type Check struct {
	registry  *Registry
	projectID string
	pending   map[string]models.FingerprintEntry
	order     []string
	// Current reports whether an entry's location still holds the content it was
	// registered with. Stale entries never produce references.
	Current func(e models.FingerprintEntry) bool
}

// NewCheck starts a pass for projectID.
func (r *Registry) NewCheck(projectID string) *Check {
	return &Check{registry: r, projectID: projectID, pending: make(map[string]models.FingerprintEntry)}
}

// CheckDuplicate returns a Reference when content already exists at another
// location in the project, otherwise it records content at loc and returns nil.
func (c *Check) CheckDuplicate(ctx context.Context, content string, loc Location) (*models.Reference, error) {
	fp := Fingerprint(content)
	if e, ok := c.pending[fp]; ok {
		if loc.Same(e) {
			return nil, nil
		}
		return loc.ReferenceTo(e), nil
	}
	e, ok, err := c.registry.Lookup(ctx, c.projectID, fp)
	if err != nil {
		return nil, err
	}
	if ok && !loc.Same(e) && (c.Current == nil || c.Current(e)) {
		return loc.ReferenceTo(e), nil
	}
	if !ok {
		c.pending[fp] = models.FingerprintEntry{
			ProjectID:    c.projectID,
			Fingerprint:  fp,
			DocumentID:   loc.DocumentID,
			DocumentType: loc.DocumentType,
			SectionID:    loc.SectionID,
			QuestionID:   loc.QuestionID,
		}
		c.order = append(c.order, fp)
	}
	return nil, nil
}

// Pending returns the entries this pass would register, in insertion order.
func (c *Check) Pending() []models.FingerprintEntry {
	out := make([]models.FingerprintEntry, 0, len(c.order))
	for _, fp := range c.order {
		out = append(out, c.pending[fp])
	}
	return out
}

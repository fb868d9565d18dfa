package agent

import (
	"github.com/hyperjump/scribe/internal/models"
)

type routeKey struct {
	docType models.DocumentType
	section string
}

// Router maps (document type, section) to a specialist. It is a lookup table
// built once; Route has no side effects.
type Router struct {
	specialists map[string]*Specialist
	routes      map[routeKey]string
	fallback    string
}

// NewRouter builds the routing table. Section-level claims win over
// document-level claims; among equal claims the first specialist listed wins.
// The specialist with OrchestratorID, when present, is the fallback.
func NewRouter(specialists []Specialist) *Router {
	r := &Router{
		specialists: make(map[string]*Specialist, len(specialists)),
		routes:      make(map[routeKey]string),
	}
	for i := range specialists {
		s := specialists[i]
		r.specialists[s.ID] = &s
		if s.ID == OrchestratorID {
			r.fallback = s.ID
		}
		for _, dt := range s.DocumentTypes {
			if len(s.Sections) == 0 {
				r.claim(routeKey{docType: dt}, s.ID)
				continue
			}
			for _, sec := range s.Sections {
				r.claim(routeKey{docType: dt, section: sec}, s.ID)
			}
		}
	}
	return r
}

func (r *Router) claim(k routeKey, id string) {
	if _, taken := r.routes[k]; !taken {
		r.routes[k] = id
	}
}

// Route returns the specialist responsible for sectionID of docType.
func (r *Router) Route(docType models.DocumentType, sectionID string) (string, error) {
	if id, ok := r.routes[routeKey{docType: docType, section: sectionID}]; ok {
		return id, nil
	}
	if id, ok := r.routes[routeKey{docType: docType}]; ok {
		return id, nil
	}
	if r.fallback != "" {
		return r.fallback, nil
	}
	return "", models.UnroutableQuestionError(docType, sectionID)
}

// Orchestrator returns the fallback specialist id, or an unroutable error.
func (r *Router) Orchestrator() (string, error) {
	if r.fallback == "" {
		return "", models.UnroutableQuestionError("", "phase transition")
	}
	return r.fallback, nil
}

// Specialist returns the specialist registered under id.
func (r *Router) Specialist(id string) (*Specialist, bool) {
	s, ok := r.specialists[id]
	return s, ok
}

// Unroutable returns, for every section of tpl that no agent can take, the
// routing error. An empty result means the template is fully routable.
func (r *Router) Unroutable(tpl *models.Template) []error {
	var errs []error
	for _, sec := range tpl.OrderedSections() {
		if _, err := r.Route(tpl.DocumentType, sec.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

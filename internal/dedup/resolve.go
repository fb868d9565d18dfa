package dedup

import (
	"context"
	"fmt"

	"github.com/hyperjump/scribe/internal/models"
)

// maxDepth bounds reference chains (a -> b -> c ...).
const maxDepth = 8

// DocumentSource returns the latest version of a document.
type DocumentSource interface {
	LatestDocument(ctx context.Context, documentID string) (*models.Document, error)
}

// Resolver substitutes references with the current content of their targets.
type Resolver struct {
	docs DocumentSource
}

// NewResolver returns a resolver reading from docs.
func NewResolver(docs DocumentSource) *Resolver {
	return &Resolver{docs: docs}
}

// Resolve returns the current content a reference points at, following chains.
func (r *Resolver) Resolve(ctx context.Context, ref *models.Reference) (string, error) {
	cache := make(map[string]*models.Document)
	return r.resolve(ctx, ref, cache, 0)
}

func (r *Resolver) resolve(ctx context.Context, ref *models.Reference, cache map[string]*models.Document, depth int) (string, error) {
	if depth >= maxDepth {
		return "", fmt.Errorf("reference chain too deep at %s/%s", ref.TargetDoc, ref.TargetSection)
	}
	doc, ok := cache[ref.TargetDoc]
	if !ok {
		var err error
		doc, err = r.docs.LatestDocument(ctx, ref.TargetDoc)
		if err != nil {
			return "", err
		}
		cache[ref.TargetDoc] = doc
	}
	b := doc.Block(ref.TargetSection, ref.TargetQuestion)
	if b == nil {
		return "", models.NotFoundError("reference target %s/%s/%s no longer exists", ref.TargetDoc, ref.TargetSection, ref.TargetQuestion)
	}
	if b.Ref != nil {
		return r.resolve(ctx, b.Ref, cache, depth+1)
	}
	return b.Content, nil
}

// ResolveDocument returns a copy of doc with every reference replaced by the
// current content of its target. Unresolvable references keep their pointer and
// get empty content; the first such error is returned alongside the copy.
func (r *Resolver) ResolveDocument(ctx context.Context, doc *models.Document) (*models.Document, error) {
	out := *doc
	out.Sections = make([]models.DocumentSection, len(doc.Sections))
	cache := map[string]*models.Document{}
	var firstErr error
	for i, sec := range doc.Sections {
		sec.Blocks = append([]models.Block(nil), sec.Blocks...)
		for j := range sec.Blocks {
			b := &sec.Blocks[j]
			if b.Ref == nil {
				continue
			}
			content, err := r.resolve(ctx, b.Ref, cache, 0)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			b.Content = content
		}
		out.Sections[i] = sec
	}
	return &out, firstErr
}

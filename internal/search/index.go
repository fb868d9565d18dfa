// Package search keeps a full-text index over assembled document sections.
package search

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
	"go.uber.org/zap"

	"github.com/hyperjump/scribe/internal/models"
	"github.com/hyperjump/scribe/pkg/utils"
)

// snippetLen caps the content returned with a hit.
const snippetLen = 200

// entry is what gets indexed per document section. Field names come from the
// json tags.
type entry struct {
	ConversationID string `json:"conversation_id"`
	DocumentID     string `json:"document_id"`
	DocumentType   string `json:"document_type"`
	SectionID      string `json:"section_id"`
	Version        int    `json:"version"`
	Status         string `json:"status"`
	Title          string `json:"title"`
	Content        string `json:"content"`
}

// Index is a bleve index of the latest version of every document section.
type Index struct {
	index  bleve.Index
	logger *zap.Logger

	// terms is the cached dictionary for suggestions, dropped on every write.
	mu    sync.Mutex
	terms map[string]int
}

// Option configures an Index.
type Option func(*Index)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(ix *Index) { ix.logger = l }
}

func newMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()

	// Standard analyzer: lowercase and tokenize without stemming, so a query
	// matches the word the user typed.
	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("title", text)
	docMapping.AddFieldMappingsAt("content", text)

	exact := bleve.NewTextFieldMapping()
	exact.Analyzer = keyword.Name
	for _, f := range []string{"conversation_id", "document_id", "document_type", "section_id", "status"} {
		docMapping.AddFieldMappingsAt(f, exact)
	}
	docMapping.AddFieldMappingsAt("version", bleve.NewNumericFieldMapping())

	im.AddDocumentMapping("section", docMapping)
	im.DefaultType = "section"
	im.DefaultMapping = docMapping
	return im
}

// Open creates or opens the index at path. An empty path keeps the index in
// memory. An existing index is reused; remove its directory after changing
// the mapping.
func Open(path string, opts ...Option) (*Index, error) {
	ix := &Index{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(ix)
	}

	var err error
	switch {
	case path == "":
		ix.index, err = bleve.NewMemOnly(newMapping())
	default:
		if _, statErr := os.Stat(path); statErr == nil {
			ix.index, err = bleve.Open(path)
		} else {
			ix.index, err = bleve.New(path, newMapping())
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open search index: %w", err)
	}
	return ix, nil
}

func entryID(documentID, sectionID string) string {
	return documentID + "/" + sectionID
}

// IndexDocument indexes every section of doc, replacing what an earlier
// version of the same document put there. Reference blocks are skipped; their
// content is indexed where it was first written.
func (ix *Index) IndexDocument(ctx context.Context, doc *models.Document) error {
	batch := ix.index.NewBatch()
	for _, sec := range doc.Sections {
		var parts []string
		for _, b := range sec.Blocks {
			if b.Ref == nil && b.Content != "" {
				parts = append(parts, b.Content)
			}
		}
		id := entryID(doc.ID, sec.ID)
		if len(parts) == 0 {
			batch.Delete(id)
			continue
		}
		if err := batch.Index(id, entry{
			ConversationID: doc.ConversationID,
			DocumentID:     doc.ID,
			DocumentType:   string(doc.DocumentType),
			SectionID:      sec.ID,
			Version:        doc.Version,
			Status:         string(doc.Status),
			Title:          sec.Title,
			Content:        strings.Join(parts, "\n"),
		}); err != nil {
			return fmt.Errorf("failed to index %s: %w", id, err)
		}
	}
	if err := ix.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to index document %s: %w", doc.ID, err)
	}
	ix.mu.Lock()
	ix.terms = nil
	ix.mu.Unlock()
	ix.logger.Debug("search document indexed",
		zap.String("document_id", doc.ID),
		zap.Int("version", doc.Version),
		zap.Int("sections", len(doc.Sections)))
	return nil
}

// Query is a search request.
type Query struct {
	Text string
	// ConversationID restricts hits to one conversation when set.
	ConversationID string
	DocumentType   models.DocumentType
	Limit          int
	// Fuzzy tolerates typos up to Fuzziness edits per term (default 1).
	Fuzzy     bool
	Fuzziness int
}

// Hit is one matching section.
type Hit struct {
	ConversationID string              `json:"conversation_id"`
	DocumentID     string              `json:"document_id"`
	DocumentType   models.DocumentType `json:"document_type"`
	Version        int                 `json:"version"`
	SectionID      string              `json:"section_id"`
	SectionTitle   string              `json:"section_title"`
	Snippet        string              `json:"snippet"`
	Score          float64             `json:"score"`
}

// Search returns matching sections, best first. Title matches weigh double.
func (ix *Index) Search(ctx context.Context, q Query) ([]Hit, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, models.InvalidInputError("search query is empty")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}

	title := ix.textQuery(text, "title", q)
	title.SetBoost(2)
	content := ix.textQuery(text, "content", q)
	must := []blevequery.Query{bleve.NewDisjunctionQuery(title, content)}
	if q.ConversationID != "" {
		must = append(must, termQuery("conversation_id", q.ConversationID))
	}
	if q.DocumentType != "" {
		must = append(must, termQuery("document_type", string(q.DocumentType)))
	}

	req := bleve.NewSearchRequestOptions(bleve.NewConjunctionQuery(must...), limit, 0, false)
	req.Fields = []string{"*"}
	res, err := ix.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hits = append(hits, Hit{
			ConversationID: field(h.Fields, "conversation_id"),
			DocumentID:     field(h.Fields, "document_id"),
			DocumentType:   models.DocumentType(field(h.Fields, "document_type")),
			Version:        numField(h.Fields, "version"),
			SectionID:      field(h.Fields, "section_id"),
			SectionTitle:   field(h.Fields, "title"),
			Snippet:        utils.Truncate(field(h.Fields, "content"), snippetLen),
			Score:          h.Score,
		})
	}
	return hits, nil
}

// textQuery matches text in field, as one fuzzy query per term when q.Fuzzy is set.
func (ix *Index) textQuery(text, fieldName string, q Query) blevequery.BoostableQuery {
	if !q.Fuzzy {
		mq := bleve.NewMatchQuery(text)
		mq.SetField(fieldName)
		return mq
	}
	fuzziness := q.Fuzziness
	if fuzziness <= 0 {
		fuzziness = 1
	}
	terms := tokenize(text)
	queries := make([]blevequery.Query, 0, len(terms))
	for _, t := range terms {
		fq := bleve.NewFuzzyQuery(t)
		fq.SetFuzziness(fuzziness)
		fq.SetField(fieldName)
		queries = append(queries, fq)
	}
	return bleve.NewDisjunctionQuery(queries...)
}

func termQuery(fieldName, value string) blevequery.Query {
	tq := bleve.NewTermQuery(value)
	tq.SetField(fieldName)
	return tq
}

func field(fields map[string]interface{}, name string) string {
	if s, ok := fields[name].(string); ok {
		return s
	}
	return ""
}

func numField(fields map[string]interface{}, name string) int {
	if f, ok := fields[name].(float64); ok {
		return int(f)
	}
	return 0
}

func tokenize(text string) []string {
	return strings.Fields(strings.ToLower(text))
}

// DocCount returns the number of indexed sections.
func (ix *Index) DocCount() (uint64, error) {
	return ix.index.DocCount()
}

// Close closes the index.
func (ix *Index) Close() error {
	return ix.index.Close()
}

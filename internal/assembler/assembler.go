// Package assembler merges a conversation's answers into versioned documents.
package assembler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/scribe/internal/conversation"
	"github.com/hyperjump/scribe/internal/dedup"
	"github.com/hyperjump/scribe/internal/models"
	"github.com/hyperjump/scribe/internal/selector"
)

// Assembler builds document versions. It holds no per-conversation state.
type Assembler struct {
	registry *dedup.Registry
	newID    func() string
	logger   *zap.Logger
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Assembler) { a.logger = l }
}

// WithIDs replaces the document id generator.
func WithIDs(fn func() string) Option {
	return func(a *Assembler) { a.newID = fn }
}

// New returns an assembler that checks content against registry.
func New(registry *dedup.Registry, opts ...Option) *Assembler {
	a := &Assembler{
		registry: registry,
		newID:    uuid.NewString,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Request is the input of one assembly.
type Request struct {
	Conversation *models.Conversation
	Template     *models.Template
	// Previous is the latest stored version, nil for the first one.
	Previous *models.Document
	// Status forces the status of the new version. Empty derives it: generated
	// once the selector reports the document complete, draft before.
	Status models.DocumentStatus
	Now    time.Time
}

// Result is the outcome of Assemble.
type Result struct {
	Document *models.Document
	// Changed is false when the new version would equal Previous; Document is
	// then Previous and nothing needs to be stored.
	Changed bool
	// Pending are the fingerprints to persist with Document and then commit to
	// the registry.
	Pending []models.FingerprintEntry
}

// Assemble builds the next version of req.Template's document. A draft comes
// back together with an incomplete_section error naming what is missing; the
// result is still usable.
func (a *Assembler) Assemble(ctx context.Context, req Request) (*Result, error) {
	conv, tpl := req.Conversation, req.Template
	dt := tpl.DocumentType
	view := conversation.View(conv, dt)

	docID := ""
	switch {
	case req.Previous != nil:
		docID = req.Previous.ID
	case conv.Progress[dt] != nil && conv.Progress[dt].DocumentID != "":
		docID = conv.Progress[dt].DocumentID
	default:
		docID = a.newID()
	}

	check := a.registry.NewCheck(conv.ID)
	check.Current = func(e models.FingerprintEntry) bool {
		ans, ok := conv.Answer(e.DocumentType, e.QuestionID)
		return ok && dedup.Fingerprint(ans.Value) == e.Fingerprint
	}

	sections := make([]models.DocumentSection, 0, len(tpl.OrderedSections()))
	for _, sec := range tpl.OrderedSections() {
		ds := models.DocumentSection{
			ID:        sec.ID,
			Title:     sec.Title,
			Required:  sec.Required,
			Satisfied: selector.SectionSatisfied(tpl, sec, view),
			Blocks:    []models.Block{},
		}
		for _, q := range selector.Questions(sec, view) {
			if q.IsPrototype() {
				continue
			}
			ans, ok := conv.Answer(dt, q.ID)
			if !ok || strings.TrimSpace(ans.Value) == "" {
				continue
			}
			loc := dedup.Location{DocumentID: docID, DocumentType: dt, SectionID: sec.ID, QuestionID: q.ID}
			ref, err := check.CheckDuplicate(ctx, ans.Value, loc)
			if err != nil {
				return nil, models.WrapError(models.KindInternal, err, "check duplicates for %s/%s", dt, q.ID)
			}
			if ref != nil {
				a.logger.Debug("assembler replaced duplicate with reference",
					zap.String("conversation_id", conv.ID),
					zap.String("question_id", q.ID),
					zap.String("target_document_type", string(ref.TargetDocumentType)),
					zap.String("target_question", ref.TargetQuestion))
				ds.Blocks = append(ds.Blocks, models.Block{QuestionID: q.ID, Ref: ref})
				continue
			}
			ds.Blocks = append(ds.Blocks, models.Block{QuestionID: q.ID, Content: ans.Value})
		}
		sections = append(sections, ds)
	}

	sel := selector.Next(tpl, view)
	status := req.Status
	if status == "" {
		status = models.StatusGenerated
		if sel.Kind != selector.KindDocumentComplete {
			status = models.StatusDraft
		}
	}
	coverage := selector.Coverage(tpl, view)
	hash, err := contentHash(tpl.Title, sections)
	if err != nil {
		return nil, models.WrapError(models.KindInternal, err, "hash %s document", dt)
	}

	var incomplete error
	if status == models.StatusDraft {
		incomplete = models.IncompleteSectionError(dt, missing(tpl, view, sel))
	}

	prev := req.Previous
	if prev != nil && prev.ContentHash == hash && prev.Status == status && prev.Coverage == coverage {
		return &Result{Document: prev}, incomplete
	}

	version := 1
	if prev != nil {
		version = prev.Version + 1
	}
	doc := &models.Document{
		ID:             docID,
		ConversationID: conv.ID,
		DocumentType:   dt,
		Version:        version,
		Title:          tpl.Title,
		Sections:       sections,
		Status:         status,
		Coverage:       coverage,
		ContentHash:    hash,
		CreatedAt:      req.Now,
	}
	return &Result{Document: doc, Changed: true, Pending: check.Pending()}, incomplete
}

// missing names what keeps a document from completing: unsatisfied required
// sections and failed rules, or the sections still open.
func missing(tpl *models.Template, p selector.Progress, sel selector.Selection) []string {
	if sel.Kind == selector.KindIncomplete {
		return sel.Unsatisfied
	}
	out := append(selector.Unsatisfied(tpl, p), selector.FailedRules(tpl, p)...)
	if len(out) > 0 {
		return out
	}
	for _, sec := range tpl.OrderedSections() {
		if !p.Closed(sec.ID) {
			out = append(out, sec.ID)
		}
	}
	return out
}

func contentHash(title string, sections []models.DocumentSection) (string, error) {
	data, err := json.Marshal(struct {
		Title    string                   `json:"title"`
		Sections []models.DocumentSection `json:"sections"`
	}{title, sections})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

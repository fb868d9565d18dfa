// Package conversation implements the conversation state machine: answer
// recording, phase progression, checkpoints, pause/resume and token budgets.
package conversation

import (
	"strings"
	"time"

	"github.com/hyperjump/scribe/internal/catalog"
	"github.com/hyperjump/scribe/internal/models"
	"github.com/hyperjump/scribe/internal/selector"
)

// ClarifySuffix marks the follow-up question posed when an answer could not be used.
// An answer to "<id>#clarify" is recorded under "<id>".
const ClarifySuffix = "#clarify"

// Settings are the tunables of the state machine.
type Settings struct {
	CheckpointEvery int
	ResumeWindow    time.Duration
	TokenCeiling    int
}

// DefaultSettings checkpoints every 5 answers, allows resume within 7 days and
// caps a conversation at 50000 tokens.
func DefaultSettings() Settings {
	return Settings{
		CheckpointEvery: 5,
		ResumeWindow:    7 * 24 * time.Hour,
		TokenCeiling:    50000,
	}
}

// Machine applies transitions to conversations. Methods mutate the conversation
// they are given: callers pass a clone and keep it only when the whole turn
// succeeded, so a failed transition never leaves partial state behind.
type Machine struct {
	settings Settings
}

// NewMachine returns a machine; zero settings take their defaults.
func NewMachine(s Settings) *Machine {
	d := DefaultSettings()
	if s.CheckpointEvery <= 0 {
		s.CheckpointEvery = d.CheckpointEvery
	}
	if s.ResumeWindow <= 0 {
		s.ResumeWindow = d.ResumeWindow
	}
	if s.TokenCeiling <= 0 {
		s.TokenCeiling = d.TokenCeiling
	}
	return &Machine{settings: s}
}

// Settings returns the effective settings.
func (m *Machine) Settings() Settings {
	return m.settings
}

// Start creates a conversation. When docTypes is empty the defaults of typ are
// used. Document types without a template, or rejected by usable, are disabled
// rather than offered.
func (m *Machine) Start(id string, typ models.ConversationType, docTypes []models.DocumentType, cat *catalog.Catalog, usable func(*models.Template) error, now time.Time) (*models.Conversation, error) {
	if !typ.Valid() {
		return nil, models.InvalidInputError("unknown conversation type %q", typ)
	}
	if len(docTypes) == 0 {
		docTypes = cat.DocumentTypesFor(typ)
	}
	c := &models.Conversation{
		ID:           id,
		Type:         typ,
		Phase:        models.PhaseDiscovery,
		Status:       models.StatusActive,
		Answers:      make(map[string]models.Answer),
		Progress:     make(map[models.DocumentType]*models.DocumentProgress),
		TokenCeiling: m.settings.TokenCeiling,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for _, dt := range docTypes {
		if _, seen := c.Progress[dt]; seen {
			continue
		}
		c.DocumentTypes = append(c.DocumentTypes, dt)
		c.ProgressFor(dt)
		tpl, err := cat.Get(dt)
		if err == nil && usable != nil {
			err = usable(tpl)
		}
		if err != nil {
			Disable(c, dt, err)
		}
	}
	if len(c.ActiveDocumentTypes()) == 0 {
		return nil, models.InvalidInputError("no document type is available for a %s conversation", typ)
	}
	m.Advance(c, cat)
	return c, nil
}

// Disable stops docType from being offered in c.
func Disable(c *models.Conversation, docType models.DocumentType, reason error) {
	p := c.ProgressFor(docType)
	p.Disabled = true
	if reason != nil {
		p.DisabledReason = reason.Error()
	}
	if c.Current != nil && c.Current.DocumentType == docType {
		c.Current = nil
	}
}

// CheckTurn rejects a turn on a conversation that cannot take one. It runs
// before any model call so a rejected turn costs nothing.
func (m *Machine) CheckTurn(c *models.Conversation) error {
	switch c.Status {
	case models.StatusCompleted:
		return models.InvalidStateError("conversation %s is completed", c.ID)
	case models.StatusPaused:
		return models.InvalidStateError("conversation %s is paused", c.ID)
	}
	if c.TokenCeiling > 0 && c.TokensUsed >= c.TokenCeiling {
		return models.BudgetExceededError(c.TokensUsed, c.TokenCeiling)
	}
	return nil
}

// Charge adds the tokens of one model call.
func (m *Machine) Charge(c *models.Conversation, tokens int) {
	if tokens > 0 {
		c.TokensUsed += tokens
	}
}

// Target is the question an incoming answer resolves to.
type Target struct {
	DocumentType models.DocumentType
	Template     *models.Template
	Question     models.Question
	// Clarifying is set when the answer replies to a clarifying follow-up.
	Clarifying bool
}

// Target resolves questionID (and optionally docType) against c. An empty
// questionID means the currently posed question.
func (m *Machine) Target(c *models.Conversation, cat *catalog.Catalog, docType models.DocumentType, questionID string) (*Target, error) {
	if questionID == "" {
		if c.Current == nil {
			return nil, models.InvalidStateError("conversation %s has no pending question", c.ID)
		}
		docType, questionID = c.Current.DocumentType, c.Current.Question.ID
	}
	base := strings.TrimSuffix(questionID, ClarifySuffix)
	clarifying := base != questionID

	var candidates []models.DocumentType
	switch {
	case docType != "":
		if _, ok := c.Progress[docType]; !ok {
			return nil, models.InvalidInputError("document type %q is not part of conversation %s", docType, c.ID)
		}
		candidates = []models.DocumentType{docType}
	case c.Current != nil && (c.Current.Question.ID == questionID || c.Current.Question.ID == base):
		candidates = append(candidates, c.Current.DocumentType)
		candidates = append(candidates, c.DocumentTypes...)
	default:
		candidates = c.DocumentTypes
	}

	for _, dt := range candidates {
		p := c.ProgressFor(dt)
		tpl, err := cat.Get(dt)
		if err != nil {
			continue
		}
		q, ok := findQuestion(tpl, p, base)
		if !ok {
			continue
		}
		if p.Disabled {
			return nil, models.InvalidStateError("document type %s is disabled: %s", dt, p.DisabledReason)
		}
		return &Target{DocumentType: dt, Template: tpl, Question: q, Clarifying: clarifying}, nil
	}
	return nil, models.InvalidInputError("unknown question %q", questionID)
}

func findQuestion(tpl *models.Template, p *models.DocumentProgress, id string) (models.Question, bool) {
	for _, q := range p.Dynamic {
		if q.ID == id {
			return q, true
		}
	}
	if id != models.BaseQuestionID(id) {
		return models.Question{}, false
	}
	q := tpl.Question(id)
	if q == nil || q.IsPrototype() {
		return models.Question{}, false
	}
	return *q, true
}

// Clarify poses a clarifying follow-up for t instead of recording an answer.
func (m *Machine) Clarify(c *models.Conversation, t *Target, prompt string, now time.Time) {
	q := t.Question
	q.ID = q.ID + ClarifySuffix
	q.Kind = models.KindClarifying
	q.Content = prompt
	q.Options = append([]string(nil), t.Question.Options...)
	c.Current = &models.PendingQuestion{DocumentType: t.DocumentType, Question: q}
	c.UpdatedAt = now
}

// Record stores a as the answer to t and advances the conversation. It returns
// false, leaving c untouched, when a carries the value already on record.
func (m *Machine) Record(c *models.Conversation, cat *catalog.Catalog, t *Target, a models.Answer) bool {
	if prev, ok := c.Answer(t.DocumentType, t.Question.ID); ok && prev.Value == a.Value {
		return false
	}
	a.ConversationID = c.ID
	a.DocumentType = t.DocumentType
	a.QuestionID = t.Question.ID
	c.Answers[models.AnswerKey(t.DocumentType, t.Question.ID)] = a

	p := c.ProgressFor(t.DocumentType)
	p.Skipped = remove(p.Skipped, t.Question.ID)
	// A correction retires the follow-ups of items it no longer lists.
	for _, id := range selector.Retire(t.Template, t.Question.ID, a.Value, p.Dynamic, func(id string) bool {
		return c.Answered(t.DocumentType, id)
	}) {
		p.Dynamic = removeQuestion(p.Dynamic, id)
		p.Skipped = remove(p.Skipped, id)
	}
	for _, q := range selector.Expand(t.Template, t.Question.ID, a.Value, p.HasDynamic) {
		p.Dynamic = append(p.Dynamic, q)
		p.Closed = remove(p.Closed, q.SectionID)
	}

	c.AnswerCount++
	c.AnswersSinceCheckpoint++
	c.UpdatedAt = a.CreatedAt
	m.Advance(c, cat)
	return true
}

// Skip declines t. Skipped questions are not offered again until answered.
func (m *Machine) Skip(c *models.Conversation, cat *catalog.Catalog, t *Target, now time.Time) (bool, error) {
	if c.Answered(t.DocumentType, t.Question.ID) {
		return false, models.InvalidInputError("question %s is already answered", t.Question.ID)
	}
	p := c.ProgressFor(t.DocumentType)
	if p.IsSkipped(t.Question.ID) {
		return false, nil
	}
	p.Skipped = append(p.Skipped, t.Question.ID)
	c.UpdatedAt = now
	m.Advance(c, cat)
	return true, nil
}

// MarkDocument records the latest version of a document and advances.
func (m *Machine) MarkDocument(c *models.Conversation, cat *catalog.Catalog, doc *models.Document) {
	p := c.ProgressFor(doc.DocumentType)
	p.DocumentID = doc.ID
	p.LatestVersion = doc.Version
	p.LatestStatus = doc.Status
	m.Advance(c, cat)
}

// Advance closes exhausted sections, refreshes document completion, moves the
// phase forward while its exit condition holds and picks the next question.
// Phases never move backwards.
func (m *Machine) Advance(c *models.Conversation, cat *catalog.Catalog) {
	if c.Status == models.StatusCompleted {
		c.Current = nil
		return
	}
	for {
		next := m.refresh(c, cat)
		if !m.phaseDone(c, cat, next == nil) {
			c.Current = next
			return
		}
		switch c.Phase {
		case models.PhaseDiscovery:
			c.Phase = models.PhaseDefinition
		case models.PhaseDefinition:
			c.Phase = models.PhaseReview
		}
	}
}

// refresh closes sections with nothing left to ask and returns the first
// question in phase scope.
func (m *Machine) refresh(c *models.Conversation, cat *catalog.Catalog) *models.PendingQuestion {
	var first *models.PendingQuestion
	for _, dt := range c.ActiveDocumentTypes() {
		tpl, err := cat.Get(dt)
		if err != nil {
			Disable(c, dt, err)
			continue
		}
		p := c.ProgressFor(dt)
		v := View(c, dt)
		sel := selector.Next(tpl, v)
		for sel.Kind == selector.KindSectionComplete {
			p.Closed = appendUnique(p.Closed, sel.SectionID)
			sel = selector.Next(tpl, v)
		}
		p.Complete = sel.Kind == selector.KindDocumentComplete
		if first == nil && sel.Kind == selector.KindQuestion && inScope(c.Phase, tpl) {
			first = &models.PendingQuestion{DocumentType: dt, Question: *sel.Question}
		}
	}
	return first
}

func inScope(phase models.Phase, tpl *models.Template) bool {
	return tpl.Phase.Rank() <= phase.Rank()
}

// phaseDone reports whether the current phase may be left. Discovery ends once
// every discovery template has its required sections satisfied. Definition ends
// once every requested document has a generated version. Either also ends when
// nothing is left to ask, so a skipped question never strands a conversation.
func (m *Machine) phaseDone(c *models.Conversation, cat *catalog.Catalog, exhausted bool) bool {
	switch c.Phase {
	case models.PhaseDiscovery:
		if exhausted {
			return true
		}
		for _, dt := range c.ActiveDocumentTypes() {
			tpl, err := cat.Get(dt)
			if err != nil || tpl.Phase != models.PhaseDiscovery {
				continue
			}
			if len(selector.Unsatisfied(tpl, View(c, dt))) > 0 {
				return false
			}
		}
		return true
	case models.PhaseDefinition:
		for _, dt := range c.ActiveDocumentTypes() {
			p := c.ProgressFor(dt)
			if p.LatestVersion == 0 {
				return false
			}
			if p.LatestStatus == models.StatusDraft && !exhausted {
				return false
			}
		}
		return true
	}
	return false
}

// CheckpointDue reports whether enough answers were recorded since the last checkpoint.
func (m *Machine) CheckpointDue(c *models.Conversation) bool {
	return c.AnswersSinceCheckpoint >= m.settings.CheckpointEvery
}

// Checkpoint snapshots c. The snapshot includes the updated checkpoint counters.
func (m *Machine) Checkpoint(c *models.Conversation, id string, now time.Time) *models.Checkpoint {
	c.CheckpointCount++
	c.AnswersSinceCheckpoint = 0
	at := now
	c.LastCheckpointAt = &at
	return &models.Checkpoint{
		ID:             id,
		ConversationID: c.ID,
		Sequence:       c.CheckpointCount,
		Phase:          c.Phase,
		TokensUsed:     c.TokensUsed,
		State:          c.Clone(),
		CreatedAt:      now,
	}
}

// Pause suspends an active conversation. The caller checkpoints afterwards.
func (m *Machine) Pause(c *models.Conversation, now time.Time) error {
	switch c.Status {
	case models.StatusCompleted:
		return models.InvalidStateError("conversation %s is completed", c.ID)
	case models.StatusPaused:
		return models.InvalidStateError("conversation %s is already paused", c.ID)
	}
	c.Status = models.StatusPaused
	c.UpdatedAt = now
	return nil
}

// Resume reactivates c from its latest checkpoint. An active c is returned as
// is. A paused c with no checkpoint, or one older than the resume window, is
// completed and marked stale and a not_found error is returned together with
// it; the caller persists it either way.
func (m *Machine) Resume(c *models.Conversation, cat *catalog.Catalog, latest *models.Checkpoint, now time.Time) (*models.Conversation, error) {
	if c.Status == models.StatusCompleted {
		if c.Stale {
			return c, models.NotFoundError("conversation %s is stale", c.ID)
		}
		return c, models.InvalidStateError("conversation %s is completed", c.ID)
	}
	// The resume window only bounds how long a paused conversation waits.
	if c.Status == models.StatusActive {
		return c, nil
	}
	if latest == nil || latest.State == nil || now.Sub(latest.CreatedAt) > m.settings.ResumeWindow {
		c.Status = models.StatusCompleted
		c.Stale = true
		c.Current = nil
		c.UpdatedAt = now
		if latest == nil {
			return c, models.NotFoundError("no checkpoint for conversation %s", c.ID)
		}
		return c, models.NotFoundError("latest checkpoint of conversation %s expired at %s",
			c.ID, latest.CreatedAt.Add(m.settings.ResumeWindow).Format(time.RFC3339))
	}

	restored := latest.State.Clone()
	restored.Status = models.StatusActive
	restored.Stale = false
	if restored.Phase.Rank() < c.Phase.Rank() {
		restored.Phase = c.Phase
	}
	if restored.TokensUsed < c.TokensUsed {
		restored.TokensUsed = c.TokensUsed
	}
	restored.CheckpointCount = c.CheckpointCount
	restored.LastCheckpointAt = c.LastCheckpointAt
	restored.UpdatedAt = now
	m.Advance(restored, cat)
	return restored, nil
}

// Complete ends a conversation. Only legal from review.
func (m *Machine) Complete(c *models.Conversation, now time.Time) error {
	if c.Status == models.StatusCompleted {
		return models.InvalidStateError("conversation %s is already completed", c.ID)
	}
	if c.Status == models.StatusPaused {
		return models.InvalidStateError("conversation %s is paused", c.ID)
	}
	if c.Phase != models.PhaseReview {
		return models.InvalidStateError("conversation %s is in %s, complete requires review", c.ID, c.Phase)
	}
	c.Phase = models.PhaseCompleted
	c.Status = models.StatusCompleted
	c.Current = nil
	c.UpdatedAt = now
	return nil
}

// CheckReview rejects review actions outside the review phase.
func (m *Machine) CheckReview(c *models.Conversation) error {
	if c.Status != models.StatusActive || c.Phase != models.PhaseReview {
		return models.InvalidStateError("conversation %s is %s in %s, review requires an active conversation in review", c.ID, c.Status, c.Phase)
	}
	return nil
}

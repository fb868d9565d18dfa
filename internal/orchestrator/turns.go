package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/scribe/internal/agent"
	"github.com/hyperjump/scribe/internal/assembler"
	"github.com/hyperjump/scribe/internal/catalog"
	"github.com/hyperjump/scribe/internal/conversation"
	"github.com/hyperjump/scribe/internal/events"
	"github.com/hyperjump/scribe/internal/models"
	"github.com/hyperjump/scribe/internal/selector"
	"github.com/hyperjump/scribe/internal/storage"
)

// CreateRequest starts a conversation. Empty DocumentTypes uses the defaults
// of Type.
type CreateRequest struct {
	Type          models.ConversationType `json:"type"`
	DocumentTypes []models.DocumentType   `json:"document_types,omitempty"`
}

// AnswerRequest submits an answer. An empty QuestionID answers the question
// currently posed; DocumentType disambiguates ids shared by several templates.
type AnswerRequest struct {
	DocumentType models.DocumentType `json:"document_type,omitempty"`
	QuestionID   string              `json:"question_id,omitempty"`
	Value        string              `json:"value"`
	Skip         bool                `json:"skip,omitempty"`
}

// TurnResult is the outcome of a turn.
type TurnResult struct {
	Conversation *models.Conversation    `json:"conversation"`
	Question     *models.PendingQuestion `json:"question,omitempty"`
	Documents    []*models.Document      `json:"documents,omitempty"`
	// Recorded is false when the turn stored no new answer: a repeated value,
	// a skip or a clarification.
	Recorded bool `json:"recorded"`
	// Clarification is the follow-up posed instead of recording the answer.
	Clarification string `json:"clarification,omitempty"`
}

func result(ch *change) *TurnResult {
	return &TurnResult{
		Conversation: ch.conv,
		Question:     ch.conv.Current,
		Documents:    ch.docs,
		Recorded:     ch.answer != nil,
	}
}

// routable rejects templates with sections no specialist can take.
func (o *Orchestrator) routable(tpl *models.Template) error {
	if errs := o.router.Unroutable(tpl); len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// Create starts a conversation, checkpoints it and poses the first question.
// Document types that cannot be served are disabled, not fatal.
func (o *Orchestrator) Create(ctx context.Context, req CreateRequest) (res *TurnResult, err error) {
	defer o.observe("create", time.Now(), &err)
	now := o.env.Clock()
	cat := o.env.Catalog.Current()

	conv, err := o.machine.Start(o.newID(), req.Type, req.DocumentTypes, cat, o.routable, now)
	if err != nil {
		return nil, err
	}
	for _, dt := range conv.DocumentTypes {
		if p := conv.Progress[dt]; p.Disabled {
			o.logger.Warn("document type disabled",
				zap.String("conversation_id", conv.ID),
				zap.String("document_type", string(dt)),
				zap.String("reason", p.DisabledReason))
		}
	}
	cp := o.machine.Checkpoint(conv, o.newID(), now)
	if err := o.store.CreateConversation(ctx, conv); err != nil {
		return nil, models.WrapError(models.KindInternal, err, "store conversation")
	}

	s := o.adopt(conv.ID, conv.Clone())
	s.lock()
	defer o.end(conv.ID, s)
	o.saveCheckpoint(ctx, s, cp)

	o.env.Telemetry.ObservePhase(conv.Phase)
	o.logger.Info("conversation created",
		zap.String("conversation_id", conv.ID),
		zap.String("type", string(conv.Type)),
		zap.String("phase", string(conv.Phase)))
	if conv.Current != nil {
		cur := *conv.Current
		o.hub.Queue(conv.ID).Publish(events.Event{Kind: events.KindQuestionPosed, Time: now, Phase: conv.Phase, Question: &cur})
	}
	return &TurnResult{Conversation: conv, Question: conv.Current}, nil
}

// Answer runs one turn: the answer goes to the specialist responsible for the
// question's section, the extracted value is recorded and the affected
// document is reassembled. On any failure the conversation is left as it was
// and no tokens are charged.
func (o *Orchestrator) Answer(ctx context.Context, conversationID string, req AnswerRequest) (res *TurnResult, err error) {
	defer o.observe("answer", time.Now(), &err)
	s, err := o.begin(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	defer o.end(conversationID, s)

	res, err = o.answer(ctx, s, conversationID, req)
	return res, o.fail(conversationID, err)
}

func (o *Orchestrator) answer(ctx context.Context, s *session, id string, req AnswerRequest) (*TurnResult, error) {
	conv, err := o.snapshot(ctx, s, id)
	if err != nil {
		return nil, err
	}
	if err := o.machine.CheckTurn(conv); err != nil {
		return nil, err
	}
	cat := o.env.Catalog.Current()
	target, err := o.machine.Target(conv, cat, req.DocumentType, req.QuestionID)
	if err != nil {
		return nil, err
	}
	ch := newChange(conv, true)
	now := o.env.Clock()

	if req.Skip {
		changed, err := o.machine.Skip(conv, cat, target, now)
		if err != nil {
			return nil, err
		}
		if !changed {
			return result(ch), nil
		}
		if err := o.reassemble(ctx, ch, cat, target.DocumentType, now); err != nil {
			return nil, err
		}
		if err := o.commit(ctx, s, ch); err != nil {
			return nil, err
		}
		return result(ch), nil
	}

	input := strings.TrimSpace(req.Value)
	if input == "" {
		return nil, models.InvalidInputError("answer to %s is empty", target.Question.ID)
	}
	agentID, err := o.router.Route(target.DocumentType, target.Question.SectionID)
	if err != nil {
		// Configuration failure: the type cannot be served any more.
		conversation.Disable(conv, target.DocumentType, err)
		o.machine.Advance(conv, cat)
		if cerr := o.commit(ctx, s, ch); cerr != nil {
			return nil, errors.Join(err, cerr)
		}
		return nil, err
	}
	specialist, ok := o.router.Specialist(agentID)
	if !ok {
		return nil, models.UnroutableQuestionError(target.DocumentType, target.Question.SectionID)
	}

	// The model call runs on the snapshot without holding the state lock.
	ex, err := agent.Invoke(ctx, o.completer, specialist, o.agentTurn(conv, target, input), o.maxTokens)
	if err != nil {
		o.logger.Warn("specialist call failed",
			zap.String("conversation_id", id),
			zap.String("agent_id", agentID),
			zap.String("question_id", target.Question.ID),
			zap.Error(err))
		return nil, err
	}
	o.machine.Charge(conv, ex.Tokens())

	if ex.Value == "" {
		o.machine.Clarify(conv, target, ex.Clarify, now)
		if err := o.commit(ctx, s, ch); err != nil {
			return nil, err
		}
		res := result(ch)
		res.Clarification = ex.Clarify
		return res, nil
	}

	answer := models.Answer{
		ID:            o.newID(),
		Value:         ex.Value,
		Input:         input,
		SourceAgentID: ex.AgentID,
		CreatedAt:     now,
	}
	if o.machine.Record(conv, cat, target, answer) {
		stored := conv.Answers[models.AnswerKey(target.DocumentType, target.Question.ID)]
		ch.answer = &stored
		if err := o.reassemble(ctx, ch, cat, target.DocumentType, now); err != nil {
			return nil, err
		}
	} else if target.Clarifying {
		// Same value as before: drop the follow-up and move on.
		o.machine.Advance(conv, cat)
	}
	if err := o.commit(ctx, s, ch); err != nil {
		return nil, err
	}
	o.logger.Debug("answer recorded",
		zap.String("conversation_id", id),
		zap.String("document_type", string(target.DocumentType)),
		zap.String("question_id", target.Question.ID),
		zap.String("agent_id", ex.AgentID),
		zap.Int("tokens", ex.Tokens()),
		zap.Bool("changed", ch.answer != nil))
	return result(ch), nil
}

// agentTurn builds the specialist input: the question, its section and the
// answers already given in that section.
func (o *Orchestrator) agentTurn(conv *models.Conversation, t *conversation.Target, input string) agent.Turn {
	turn := agent.Turn{
		DocumentType:  t.DocumentType,
		DocumentTitle: t.Template.Title,
		Question:      t.Question,
		Input:         input,
	}
	sec := t.Template.Section(t.Question.SectionID)
	if sec == nil {
		return turn
	}
	turn.SectionTitle = sec.Title
	for _, q := range selector.Questions(sec, conversation.View(conv, t.DocumentType)) {
		if q.ID == t.Question.ID {
			continue
		}
		if a, ok := conv.Answer(t.DocumentType, q.ID); ok && a.Value != "" {
			turn.Context = append(turn.Context, fmt.Sprintf("%s: %s", q.Content, a.Value))
		}
	}
	return turn
}

// reassemble builds the next version of docType's document into ch. Final
// documents are snapshots and are left alone. An incomplete document is
// stored as a draft.
func (o *Orchestrator) reassemble(ctx context.Context, ch *change, cat *catalog.Catalog, docType models.DocumentType, now time.Time) error {
	prev, err := o.previous(ctx, ch.conv, docType)
	if err != nil {
		return err
	}
	if prev != nil && prev.Status == models.StatusFinal {
		return nil
	}
	res, err := o.build(ctx, ch.conv, cat, docType, prev, "", now)
	if err != nil {
		return err
	}
	ch.addDocument(res, now)
	return nil
}

// previous returns the latest stored version of docType, nil before the first.
func (o *Orchestrator) previous(ctx context.Context, conv *models.Conversation, docType models.DocumentType) (*models.Document, error) {
	p := conv.ProgressFor(docType)
	if p.LatestVersion == 0 || p.DocumentID == "" {
		return nil, nil
	}
	doc, err := o.store.GetDocument(ctx, p.DocumentID, p.LatestVersion)
	if err != nil {
		return nil, fmt.Errorf("load %s v%d: %w", docType, p.LatestVersion, err)
	}
	return doc, nil
}

// build assembles docType and marks the new version on conv.
func (o *Orchestrator) build(ctx context.Context, conv *models.Conversation, cat *catalog.Catalog, docType models.DocumentType, prev *models.Document, status models.DocumentStatus, now time.Time) (*assembler.Result, error) {
	tpl, err := cat.Get(docType)
	if err != nil {
		return nil, err
	}
	res, err := o.assembler.Assemble(ctx, assembler.Request{
		Conversation: conv,
		Template:     tpl,
		Previous:     prev,
		Status:       status,
		Now:          now,
	})
	switch {
	case errors.Is(err, models.ErrIncompleteSection):
		o.logger.Debug("document stored as draft",
			zap.String("conversation_id", conv.ID),
			zap.String("document_type", string(docType)),
			zap.Error(err))
	case err != nil:
		return nil, err
	}
	if res.Changed {
		o.machine.MarkDocument(conv, cat, res.Document)
	}
	return res, nil
}

// Pause suspends a conversation and checkpoints it. It does not wait for an
// in-flight turn; that turn still records its answer and the conversation
// stays paused.
func (o *Orchestrator) Pause(ctx context.Context, conversationID string) (conv *models.Conversation, err error) {
	defer o.observe("pause", time.Now(), &err)
	s, err := o.session(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	now := o.env.Clock()

	s.mu.Lock()
	defer s.mu.Unlock()
	conv = s.conv.Clone()
	if err := o.machine.Pause(conv, now); err != nil {
		return nil, o.fail(conversationID, err)
	}
	cp := o.machine.Checkpoint(conv, o.newID(), now)
	if err := o.store.SaveTurn(ctx, &storage.Turn{Conversation: conv}); err != nil {
		return nil, models.WrapError(models.KindInternal, err, "persist pause of %s", conversationID)
	}
	if err := o.store.SaveCheckpoint(ctx, cp); err != nil {
		return nil, models.WrapError(models.KindInternal, err, "checkpoint %s", conversationID)
	}
	s.conv = conv
	o.env.Telemetry.ObserveCheckpoint()
	o.logger.Info("conversation paused", zap.String("conversation_id", conversationID))
	return conv.Clone(), nil
}

// Resume reactivates a paused conversation from its latest checkpoint. A
// paused conversation whose checkpoint is missing or older than the resume
// window is completed, marked stale and reported as not_found. Active
// conversations are returned as they are.
func (o *Orchestrator) Resume(ctx context.Context, conversationID string) (res *TurnResult, err error) {
	defer o.observe("resume", time.Now(), &err)
	s, err := o.begin(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	defer o.end(conversationID, s)

	conv, err := o.snapshot(ctx, s, conversationID)
	if err != nil {
		return nil, err
	}
	latest, err := o.store.LatestCheckpoint(ctx, conversationID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}
	before := conv.Status
	restored, rerr := o.machine.Resume(conv, o.env.Catalog.Current(), latest, o.env.Clock())
	if rerr != nil && !errors.Is(rerr, models.ErrNotFound) {
		return nil, o.fail(conversationID, rerr)
	}
	if rerr != nil && before == models.StatusCompleted {
		return nil, o.fail(conversationID, rerr)
	}
	if rerr == nil && before == models.StatusActive {
		return &TurnResult{Conversation: restored, Question: restored.Current}, nil
	}

	ch := newChange(restored, rerr == nil)
	ch.phase, ch.status = conv.Phase, before
	if err := o.commit(ctx, s, ch); err != nil {
		return nil, err
	}
	if rerr != nil {
		o.logger.Info("conversation expired", zap.String("conversation_id", conversationID), zap.Error(rerr))
		return nil, o.fail(conversationID, rerr)
	}
	o.logger.Info("conversation resumed", zap.String("conversation_id", conversationID))
	return result(ch), nil
}

// Complete ends a conversation in review and freezes every document as a
// final version.
func (o *Orchestrator) Complete(ctx context.Context, conversationID string) (res *TurnResult, err error) {
	defer o.observe("complete", time.Now(), &err)
	s, err := o.begin(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	defer o.end(conversationID, s)

	conv, err := o.snapshot(ctx, s, conversationID)
	if err != nil {
		return nil, err
	}
	ch := newChange(conv, false)
	ch.checkpoint = true
	now := o.env.Clock()
	if err := o.machine.Complete(conv, now); err != nil {
		return nil, o.fail(conversationID, err)
	}
	cat := o.env.Catalog.Current()
	for _, dt := range conv.ActiveDocumentTypes() {
		prev, err := o.previous(ctx, conv, dt)
		if err != nil {
			return nil, o.fail(conversationID, err)
		}
		if prev == nil || prev.Status == models.StatusFinal {
			continue
		}
		res, err := o.build(ctx, conv, cat, dt, prev, models.StatusFinal, now)
		if err != nil {
			return nil, o.fail(conversationID, err)
		}
		ch.addDocument(res, now)
	}
	if err := o.commit(ctx, s, ch); err != nil {
		return nil, o.fail(conversationID, err)
	}
	o.logger.Info("conversation completed",
		zap.String("conversation_id", conversationID),
		zap.Int("documents", len(ch.docs)))
	return result(ch), nil
}

// Review marks the latest version of docType as reviewed. Only legal in the
// review phase. Reviewing twice creates no new version.
func (o *Orchestrator) Review(ctx context.Context, conversationID string, docType models.DocumentType) (doc *models.Document, err error) {
	defer o.observe("review", time.Now(), &err)
	s, err := o.begin(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	defer o.end(conversationID, s)

	conv, err := o.snapshot(ctx, s, conversationID)
	if err != nil {
		return nil, err
	}
	if err := o.machine.CheckReview(conv); err != nil {
		return nil, o.fail(conversationID, err)
	}
	prev, err := o.activeDocument(ctx, conv, docType)
	if err != nil {
		return nil, o.fail(conversationID, err)
	}
	now := o.env.Clock()
	ch := newChange(conv, false)
	res, err := o.build(ctx, conv, o.env.Catalog.Current(), docType, prev, models.StatusReviewed, now)
	if err != nil {
		return nil, o.fail(conversationID, err)
	}
	if !res.Changed {
		return res.Document, nil
	}
	ch.addDocument(res, now)
	if err := o.commit(ctx, s, ch); err != nil {
		return nil, o.fail(conversationID, err)
	}
	return res.Document, nil
}

// Regenerate writes a new version of docType from the current answers even
// when nothing changed. After completion the new version is final.
func (o *Orchestrator) Regenerate(ctx context.Context, conversationID string, docType models.DocumentType) (doc *models.Document, err error) {
	defer o.observe("regenerate", time.Now(), &err)
	s, err := o.begin(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	defer o.end(conversationID, s)

	conv, err := o.snapshot(ctx, s, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Status == models.StatusPaused {
		return nil, o.fail(conversationID, models.InvalidStateError("conversation %s is paused", conversationID))
	}
	if _, err := o.activeDocument(ctx, conv, docType); err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, o.fail(conversationID, err)
	}
	prev, err := o.previous(ctx, conv, docType)
	if err != nil {
		return nil, o.fail(conversationID, err)
	}

	status := models.DocumentStatus("")
	switch {
	case conv.Status == models.StatusCompleted:
		status = models.StatusFinal
	case prev != nil && prev.Status == models.StatusReviewed:
		status = models.StatusReviewed
	}
	now := o.env.Clock()
	ch := newChange(conv, false)
	res, err := o.build(ctx, conv, o.env.Catalog.Current(), docType, prev, status, now)
	if err != nil {
		return nil, o.fail(conversationID, err)
	}
	if !res.Changed && prev != nil {
		again := *prev
		again.Version = prev.Version + 1
		again.CreatedAt = now
		res = &assembler.Result{Document: &again, Changed: true}
		o.machine.MarkDocument(conv, o.env.Catalog.Current(), &again)
	}
	ch.addDocument(res, now)
	if err := o.commit(ctx, s, ch); err != nil {
		return nil, o.fail(conversationID, err)
	}
	o.logger.Info("document regenerated",
		zap.String("conversation_id", conversationID),
		zap.String("document_type", string(docType)),
		zap.Int("version", res.Document.Version))
	return res.Document, nil
}

// activeDocument returns the latest version of docType, which must be an
// enabled type of conv.
func (o *Orchestrator) activeDocument(ctx context.Context, conv *models.Conversation, docType models.DocumentType) (*models.Document, error) {
	p, ok := conv.Progress[docType]
	if !ok {
		return nil, models.InvalidInputError("document type %q is not part of conversation %s", docType, conv.ID)
	}
	if p.Disabled {
		return nil, models.InvalidStateError("document type %s is disabled: %s", docType, p.DisabledReason)
	}
	prev, err := o.previous(ctx, conv, docType)
	if err != nil {
		return nil, err
	}
	if prev == nil {
		return nil, models.NotFoundError("no %s document in conversation %s yet", docType, conv.ID)
	}
	return prev, nil
}

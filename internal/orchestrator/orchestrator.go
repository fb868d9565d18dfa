// Package orchestrator runs conversation turns: it routes answers to
// specialists, records them through the state machine, assembles documents,
// persists everything a turn produced and publishes the resulting events.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/scribe/internal/agent"
	"github.com/hyperjump/scribe/internal/assembler"
	"github.com/hyperjump/scribe/internal/catalog"
	"github.com/hyperjump/scribe/internal/conversation"
	"github.com/hyperjump/scribe/internal/dedup"
	"github.com/hyperjump/scribe/internal/events"
	"github.com/hyperjump/scribe/internal/models"
	"github.com/hyperjump/scribe/internal/storage"
)

// Telemetry receives orchestration measurements.
type Telemetry interface {
	ObserveTurn(operation string, err error, d time.Duration)
	ObserveDocument(doc *models.Document)
	ObserveCheckpoint()
	ObservePhase(phase models.Phase)
}

type nopTelemetry struct{}

func (nopTelemetry) ObserveTurn(string, error, time.Duration) {}
func (nopTelemetry) ObserveDocument(*models.Document)         {}
func (nopTelemetry) ObserveCheckpoint()                       {}
func (nopTelemetry) ObservePhase(models.Phase)                {}

// Context is the process-wide state built once at startup and threaded
// through the orchestrator.
type Context struct {
	Catalog   *catalog.Store
	Telemetry Telemetry
	Clock     func() time.Time
}

// Indexer receives every stored document version.
type Indexer interface {
	IndexDocument(ctx context.Context, doc *models.Document) error
}

// Orchestrator coordinates conversation turns. Turns on one conversation run
// one at a time; different conversations run concurrently.
type Orchestrator struct {
	env       Context
	store     storage.Storage
	machine   *conversation.Machine
	router    *agent.Router
	completer agent.Completer
	assembler *assembler.Assembler
	registry  *dedup.Registry
	resolver  *dedup.Resolver
	hub       *events.Hub
	indexer   Indexer
	newID     func() string
	maxTokens int
	logger    *zap.Logger

	mu       sync.Mutex
	sessions map[string]*session
	wg       sync.WaitGroup
}

// session serializes the turns of one conversation. turn is held for a whole
// turn including the model call; mu only guards conv and is never held across
// a model call, so a pause can land while a turn is in flight.
type session struct {
	turn sync.Mutex
	// pending is closed once the last asynchronous checkpoint is stored.
	// Guarded by turn.
	pending chan struct{}

	mu   sync.Mutex
	conv *models.Conversation
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithIndexer indexes every stored document version.
func WithIndexer(ix Indexer) Option {
	return func(o *Orchestrator) { o.indexer = ix }
}

// WithIDs replaces the id generator for conversations, answers, documents and checkpoints.
func WithIDs(fn func() string) Option {
	return func(o *Orchestrator) { o.newID = fn }
}

// WithMaxTokens caps the completion size of one specialist call.
func WithMaxTokens(n int) Option {
	return func(o *Orchestrator) { o.maxTokens = n }
}

// WithEventBuffer sets how many events each conversation queue retains.
func WithEventBuffer(n int) Option {
	return func(o *Orchestrator) { o.hub = events.NewHub(n) }
}

// New returns an orchestrator. completer runs specialist model calls under the
// retry policy.
func New(env Context, store storage.Storage, machine *conversation.Machine, router *agent.Router, completer agent.Completer, opts ...Option) *Orchestrator {
	if env.Telemetry == nil {
		env.Telemetry = nopTelemetry{}
	}
	if env.Clock == nil {
		env.Clock = time.Now
	}
	o := &Orchestrator{
		env:       env,
		store:     store,
		machine:   machine,
		router:    router,
		completer: completer,
		hub:       events.NewHub(0),
		newID:     uuid.NewString,
		maxTokens: 1024,
		logger:    zap.NewNop(),
		sessions:  make(map[string]*session),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.registry = dedup.NewRegistry(dedup.WithLoader(store.ListFingerprints))
	o.resolver = dedup.NewResolver(store)
	o.assembler = assembler.New(o.registry, assembler.WithLogger(o.logger), assembler.WithIDs(o.newID))
	return o
}

// Catalog returns the catalog in effect.
func (o *Orchestrator) Catalog() *catalog.Catalog {
	return o.env.Catalog.Current()
}

// Events returns the event queue of a conversation.
func (o *Orchestrator) Events(conversationID string) *events.Queue {
	return o.hub.Queue(conversationID)
}

// Close waits for pending checkpoint writes.
func (o *Orchestrator) Close() {
	o.wg.Wait()
}

// session returns the session of a stored conversation, loading it on first
// use. Ids that are not stored leave nothing behind.
func (o *Orchestrator) session(ctx context.Context, id string) (*session, error) {
	o.mu.Lock()
	s, ok := o.sessions[id]
	o.mu.Unlock()
	if ok {
		return s, nil
	}
	c, err := o.store.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	return o.adopt(id, c), nil
}

// adopt registers a session holding c unless one already exists.
func (o *Orchestrator) adopt(id string, c *models.Conversation) *session {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok := o.sessions[id]; ok {
		return s
	}
	s := &session{conv: c}
	o.sessions[id] = s
	return s
}

func (o *Orchestrator) known(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.sessions[id]
	return ok
}

// begin takes the turn lock of a conversation and waits for its previous
// checkpoint to be stored. The caller must call o.end.
func (o *Orchestrator) begin(ctx context.Context, id string) (*session, error) {
	s, err := o.session(ctx, id)
	if err != nil {
		return nil, err
	}
	s.lock()
	return s, nil
}

func (s *session) lock() {
	s.turn.Lock()
	if s.pending != nil {
		<-s.pending
		s.pending = nil
	}
}

// end releases the turn lock. A completed conversation is evicted with its
// event queue once its last checkpoint is stored; later calls reload it.
func (o *Orchestrator) end(id string, s *session) {
	defer s.turn.Unlock()
	s.mu.Lock()
	done := s.conv != nil && s.conv.Status == models.StatusCompleted
	s.mu.Unlock()
	if !done {
		return
	}
	if s.pending != nil {
		<-s.pending
		s.pending = nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sessions[id] == s {
		delete(o.sessions, id)
		o.hub.Drop(id)
	}
}

// snapshot returns a copy of the committed state, loading it on first use.
func (o *Orchestrator) snapshot(ctx context.Context, s *session, id string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conv == nil {
		c, err := o.store.GetConversation(ctx, id)
		if err != nil {
			return nil, err
		}
		s.conv = c
	}
	return s.conv.Clone(), nil
}

// change is everything one turn writes.
type change struct {
	conv *models.Conversation
	// phase and status are those of the snapshot the turn started from.
	phase        models.Phase
	status       models.Status
	answer       *models.Answer
	docs         []*models.Document
	fingerprints []models.FingerprintEntry
	// announce publishes the next question after the turn.
	announce bool
	// checkpoint forces a checkpoint regardless of the answer count.
	checkpoint bool
}

func newChange(conv *models.Conversation, announce bool) *change {
	return &change{conv: conv, phase: conv.Phase, status: conv.Status, announce: announce}
}

func (ch *change) addDocument(res *assembler.Result, now time.Time) {
	if res == nil || !res.Changed {
		return
	}
	ch.docs = append(ch.docs, res.Document)
	for _, e := range res.Pending {
		e.CreatedAt = now
		ch.fingerprints = append(ch.fingerprints, e)
	}
}

// commit persists ch in one transaction and then publishes its effects. A
// pause that landed while the turn was in flight is kept, and a fresh
// checkpoint of the final state is taken so resume restores it.
func (o *Orchestrator) commit(ctx context.Context, s *session, ch *change) error {
	now := o.env.Clock()

	s.mu.Lock()
	cur := s.conv
	pausedMeanwhile := cur != nil && cur.Status == models.StatusPaused &&
		ch.status == models.StatusActive && ch.conv.Status == models.StatusActive
	if pausedMeanwhile {
		ch.conv.Status = models.StatusPaused
	}
	if cur != nil && cur.CheckpointCount > ch.conv.CheckpointCount {
		ch.conv.CheckpointCount = cur.CheckpointCount
		ch.conv.LastCheckpointAt = cur.LastCheckpointAt
	}
	var cp *models.Checkpoint
	if ch.checkpoint || pausedMeanwhile || (ch.conv.Status == models.StatusActive && o.machine.CheckpointDue(ch.conv)) {
		cp = o.machine.Checkpoint(ch.conv, o.newID(), now)
	}
	err := o.store.SaveTurn(ctx, &storage.Turn{
		Conversation: ch.conv,
		Answer:       ch.answer,
		Documents:    ch.docs,
		Fingerprints: ch.fingerprints,
	})
	if err != nil {
		s.mu.Unlock()
		return models.WrapError(models.KindInternal, err, "persist turn of %s", ch.conv.ID)
	}
	s.conv = ch.conv
	s.mu.Unlock()

	if _, err := o.registry.Commit(ctx, ch.fingerprints); err != nil {
		// Persisted already; the next load of the project picks them up.
		o.registry.Forget(ch.conv.ID)
		o.logger.Warn("fingerprint registry commit failed", zap.String("conversation_id", ch.conv.ID), zap.Error(err))
	}
	if cp != nil {
		o.saveCheckpoint(ctx, s, cp)
	}
	if ch.phase != "" && ch.conv.Phase != ch.phase {
		o.env.Telemetry.ObservePhase(ch.conv.Phase)
		o.logger.Info("conversation phase changed",
			zap.String("conversation_id", ch.conv.ID),
			zap.String("from", string(ch.phase)),
			zap.String("to", string(ch.conv.Phase)))
	}

	q := o.hub.Queue(ch.conv.ID)
	for _, doc := range ch.docs {
		o.env.Telemetry.ObserveDocument(doc)
		if o.indexer != nil {
			if err := o.indexer.IndexDocument(ctx, doc); err != nil {
				o.logger.Warn("document indexing failed", zap.String("document_id", doc.ID), zap.Error(err))
			}
		}
		q.Publish(events.Event{Kind: events.KindDocumentUpdated, Time: now, Phase: ch.conv.Phase, Document: events.Summarize(doc)})
	}
	if ch.announce && ch.conv.Current != nil && ch.conv.Status == models.StatusActive {
		cur := *ch.conv.Current
		q.Publish(events.Event{Kind: events.KindQuestionPosed, Time: now, Phase: ch.conv.Phase, Question: &cur})
	}
	return nil
}

// saveCheckpoint stores cp without holding up the turn. The next turn of the
// conversation waits for it in begin.
func (o *Orchestrator) saveCheckpoint(ctx context.Context, s *session, cp *models.Checkpoint) {
	done := make(chan struct{})
	s.pending = done
	bg := context.WithoutCancel(ctx)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer close(done)
		if err := o.store.SaveCheckpoint(bg, cp); err != nil {
			o.logger.Error("checkpoint failed",
				zap.String("conversation_id", cp.ConversationID),
				zap.Int("sequence", cp.Sequence),
				zap.Error(err))
			return
		}
		o.env.Telemetry.ObserveCheckpoint()
		o.logger.Debug("checkpoint stored",
			zap.String("conversation_id", cp.ConversationID),
			zap.Int("sequence", cp.Sequence))
	}()
}

// fail publishes err as an error event of the conversation and returns it.
// Conversations that were never loaded get no event.
func (o *Orchestrator) fail(conversationID string, err error) error {
	if err == nil || conversationID == "" || !o.known(conversationID) {
		return err
	}
	o.hub.Queue(conversationID).Publish(events.Event{
		Kind:  events.KindError,
		Time:  o.env.Clock(),
		Error: &events.ErrorPayload{Kind: models.KindOf(err), Message: err.Error()},
	})
	return err
}

func (o *Orchestrator) observe(operation string, start time.Time, err *error) {
	o.env.Telemetry.ObserveTurn(operation, *err, time.Since(start))
}

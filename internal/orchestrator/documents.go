package orchestrator

import (
	"context"

	"github.com/hyperjump/scribe/internal/assembler"
	"github.com/hyperjump/scribe/internal/models"
)

// Conversation returns the committed state of a conversation.
func (o *Orchestrator) Conversation(ctx context.Context, id string) (*models.Conversation, error) {
	s, err := o.session(ctx, id)
	if err != nil {
		return nil, err
	}
	return o.snapshot(ctx, s, id)
}

// Conversations lists conversations, most recently updated first.
func (o *Orchestrator) Conversations(ctx context.Context, offset, limit int) ([]*models.Conversation, error) {
	if limit <= 0 {
		limit = 20
	}
	return o.store.ListConversations(ctx, offset, limit)
}

// Answers returns every answer ever recorded in a conversation, corrections included.
func (o *Orchestrator) Answers(ctx context.Context, conversationID string) ([]*models.Answer, error) {
	if _, err := o.Conversation(ctx, conversationID); err != nil {
		return nil, err
	}
	return o.store.ListAnswers(ctx, conversationID)
}

// Documents returns the latest version of each document of a conversation.
func (o *Orchestrator) Documents(ctx context.Context, conversationID string) ([]*models.Document, error) {
	if _, err := o.Conversation(ctx, conversationID); err != nil {
		return nil, err
	}
	return o.store.ListDocuments(ctx, conversationID)
}

// Document returns one version of a document; version 0 is the latest.
func (o *Orchestrator) Document(ctx context.Context, id string, version int) (*models.Document, error) {
	if version < 0 {
		return nil, models.InvalidInputError("invalid version %d", version)
	}
	if version == 0 {
		return o.store.LatestDocument(ctx, id)
	}
	return o.store.GetDocument(ctx, id, version)
}

// Versions returns every version of a document, oldest first.
func (o *Orchestrator) Versions(ctx context.Context, id string) ([]*models.Document, error) {
	docs, err := o.store.ListDocumentVersions(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, models.NotFoundError("document not found: %s", id)
	}
	return docs, nil
}

// Resolve returns a copy of doc with references replaced by the current
// content of their targets. A reference that cannot be resolved keeps empty
// content and its error is returned with the copy.
func (o *Orchestrator) Resolve(ctx context.Context, doc *models.Document) (*models.Document, error) {
	return o.resolver.ResolveDocument(ctx, doc)
}

// Render returns doc as markdown with references resolved.
func (o *Orchestrator) Render(ctx context.Context, doc *models.Document) (string, error) {
	resolved, err := o.Resolve(ctx, doc)
	return assembler.Markdown(resolved), err
}

// Package storage defines the persistence interface for conversations, answers,
// checkpoints, document versions and content fingerprints.
package storage

import (
	"context"

	"github.com/hyperjump/scribe/internal/models"
)

// Turn is everything one conversation turn writes. It is stored in a single
// transaction: either every row lands or none does.
type Turn struct {
	Conversation *models.Conversation
	// Answer is nil for turns that record none (skips, clarifications, reviews).
	Answer       *models.Answer
	Documents    []*models.Document
	Fingerprints []models.FingerprintEntry
}

// Storage defines persistence operations. Answers, checkpoints, document
// versions and fingerprints are append-only.
type Storage interface {
	// Conversation operations
	CreateConversation(ctx context.Context, c *models.Conversation) error
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	ListConversations(ctx context.Context, offset, limit int) ([]*models.Conversation, error)
	SaveTurn(ctx context.Context, turn *Turn) error

	// Answer history, superseded answers included
	ListAnswers(ctx context.Context, conversationID string) ([]*models.Answer, error)

	// Checkpoint operations
	SaveCheckpoint(ctx context.Context, cp *models.Checkpoint) error
	LatestCheckpoint(ctx context.Context, conversationID string) (*models.Checkpoint, error)

	// Document operations
	GetDocument(ctx context.Context, id string, version int) (*models.Document, error)
	LatestDocument(ctx context.Context, id string) (*models.Document, error)
	LatestDocumentByType(ctx context.Context, conversationID string, docType models.DocumentType) (*models.Document, error)
	ListDocuments(ctx context.Context, conversationID string) ([]*models.Document, error)
	ListDocumentVersions(ctx context.Context, id string) ([]*models.Document, error)

	// Fingerprint registry
	ListFingerprints(ctx context.Context, projectID string) ([]models.FingerprintEntry, error)

	// Stats
	CountConversations(ctx context.Context) (int64, error)
	CountDocuments(ctx context.Context) (int64, error)

	Close() error
}

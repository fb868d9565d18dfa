package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/scribe/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		phase TEXT NOT NULL,
		status TEXT NOT NULL,
		tokens_used INTEGER NOT NULL DEFAULT 0,
		state TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_conversations_updated_at ON conversations(updated_at);

	CREATE TABLE IF NOT EXISTS answers (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		document_type TEXT NOT NULL,
		question_id TEXT NOT NULL,
		value TEXT NOT NULL,
		input TEXT,
		source_agent_id TEXT,
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id)
	);

	CREATE INDEX IF NOT EXISTS idx_answers_conversation ON answers(conversation_id, created_at);

	CREATE TABLE IF NOT EXISTS checkpoints (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		sequence INTEGER NOT NULL,
		phase TEXT NOT NULL,
		tokens_used INTEGER NOT NULL,
		state TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		UNIQUE (conversation_id, sequence),
		FOREIGN KEY (conversation_id) REFERENCES conversations(id)
	);

	CREATE TABLE IF NOT EXISTS documents (
		id TEXT NOT NULL,
		version INTEGER NOT NULL,
		conversation_id TEXT NOT NULL,
		document_type TEXT NOT NULL,
		title TEXT,
		status TEXT NOT NULL,
		coverage REAL NOT NULL,
		content_hash TEXT NOT NULL,
		sections TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (id, version),
		UNIQUE (conversation_id, document_type, version)
	);

	CREATE INDEX IF NOT EXISTS idx_documents_conversation ON documents(conversation_id, document_type);

	CREATE TABLE IF NOT EXISTS fingerprints (
		project_id TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		document_id TEXT NOT NULL,
		document_type TEXT NOT NULL,
		section_id TEXT NOT NULL,
		question_id TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (project_id, fingerprint)
	);
	`
	_, err := db.Exec(schema)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// CreateConversation inserts a new conversation.
func (s *SQLiteStorage) CreateConversation(ctx context.Context, c *models.Conversation) error {
	state, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, type, phase, status, tokens_used, state, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Type, c.Phase, c.Status, c.TokensUsed, string(state), c.CreatedAt, c.UpdatedAt,
	)
	return err
}

func upsertConversation(ctx context.Context, x execer, c *models.Conversation) error {
	state, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}
	_, err = x.ExecContext(ctx,
		`INSERT INTO conversations (id, type, phase, status, tokens_used, state, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   phase = excluded.phase,
		   status = excluded.status,
		   tokens_used = excluded.tokens_used,
		   state = excluded.state,
		   updated_at = excluded.updated_at`,
		c.ID, c.Type, c.Phase, c.Status, c.TokensUsed, string(state), c.CreatedAt, c.UpdatedAt,
	)
	return err
}

// GetConversation returns a conversation by ID.
func (s *SQLiteStorage) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	var state string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM conversations WHERE id = ?`, id).Scan(&state)
	if err == sql.ErrNoRows {
		return nil, models.NotFoundError("conversation not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	var c models.Conversation
	if err := json.Unmarshal([]byte(state), &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation: %w", err)
	}
	return &c, nil
}

// ListConversations returns conversations, most recently updated first.
func (s *SQLiteStorage) ListConversations(ctx context.Context, offset, limit int) ([]*models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT state FROM conversations ORDER BY updated_at DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Conversation
	for rows.Next() {
		var state string
		if err := rows.Scan(&state); err != nil {
			return nil, err
		}
		var c models.Conversation
		if err := json.Unmarshal([]byte(state), &c); err != nil {
			return nil, fmt.Errorf("failed to unmarshal conversation: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// SaveTurn writes the conversation, its new answer, new document versions and
// their fingerprints in one transaction. A fingerprint already registered for
// the project is left as is.
func (s *SQLiteStorage) SaveTurn(ctx context.Context, turn *Turn) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := upsertConversation(ctx, tx, turn.Conversation); err != nil {
		return err
	}

	if a := turn.Answer; a != nil {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO answers (id, conversation_id, document_type, question_id, value, input, source_agent_id, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.ConversationID, a.DocumentType, a.QuestionID, a.Value, a.Input, a.SourceAgentID, a.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert answer: %w", err)
		}
	}

	for _, doc := range turn.Documents {
		sections, err := json.Marshal(doc.Sections)
		if err != nil {
			return fmt.Errorf("failed to marshal sections: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO documents (id, version, conversation_id, document_type, title, status, coverage, content_hash, sections, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			doc.ID, doc.Version, doc.ConversationID, doc.DocumentType, doc.Title, doc.Status,
			doc.Coverage, doc.ContentHash, string(sections), doc.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert document %s v%d: %w", doc.ID, doc.Version, err)
		}
	}

	if len(turn.Fingerprints) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT OR IGNORE INTO fingerprints (project_id, fingerprint, document_id, document_type, section_id, question_id, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		)
		if err != nil {
			return err
		}
		defer stmt.Close()
		now := time.Now()
		for _, e := range turn.Fingerprints {
			created := e.CreatedAt
			if created.IsZero() {
				created = now
			}
			if _, err := stmt.ExecContext(ctx, e.ProjectID, e.Fingerprint, e.DocumentID, e.DocumentType, e.SectionID, e.QuestionID, created); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

// ListAnswers returns every recorded answer of a conversation in recording order.
func (s *SQLiteStorage) ListAnswers(ctx context.Context, conversationID string) ([]*models.Answer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, document_type, question_id, value, COALESCE(input, ''), COALESCE(source_agent_id, ''), created_at
		 FROM answers WHERE conversation_id = ? ORDER BY created_at, rowid`,
		conversationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Answer
	for rows.Next() {
		var a models.Answer
		if err := rows.Scan(&a.ID, &a.ConversationID, &a.DocumentType, &a.QuestionID, &a.Value, &a.Input, &a.SourceAgentID, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// SaveCheckpoint appends a checkpoint.
func (s *SQLiteStorage) SaveCheckpoint(ctx context.Context, cp *models.Checkpoint) error {
	state, err := json.Marshal(cp.State)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint state: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (id, conversation_id, sequence, phase, tokens_used, state, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		cp.ID, cp.ConversationID, cp.Sequence, cp.Phase, cp.TokensUsed, string(state), cp.CreatedAt,
	)
	return err
}

// LatestCheckpoint returns the checkpoint with the highest sequence.
func (s *SQLiteStorage) LatestCheckpoint(ctx context.Context, conversationID string) (*models.Checkpoint, error) {
	var cp models.Checkpoint
	var state string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, sequence, phase, tokens_used, state, created_at
		 FROM checkpoints WHERE conversation_id = ? ORDER BY sequence DESC LIMIT 1`,
		conversationID,
	).Scan(&cp.ID, &cp.ConversationID, &cp.Sequence, &cp.Phase, &cp.TokensUsed, &state, &cp.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, models.NotFoundError("no checkpoint for conversation %s", conversationID)
	}
	if err != nil {
		return nil, err
	}
	cp.State = &models.Conversation{}
	if err := json.Unmarshal([]byte(state), cp.State); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint state: %w", err)
	}
	return &cp, nil
}

const documentColumns = `id, version, conversation_id, document_type, title, status, coverage, content_hash, sections, created_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row scanner) (*models.Document, error) {
	var doc models.Document
	var title sql.NullString
	var sections string
	if err := row.Scan(&doc.ID, &doc.Version, &doc.ConversationID, &doc.DocumentType, &title,
		&doc.Status, &doc.Coverage, &doc.ContentHash, &sections, &doc.CreatedAt); err != nil {
		return nil, err
	}
	doc.Title = title.String
	if err := json.Unmarshal([]byte(sections), &doc.Sections); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sections: %w", err)
	}
	return &doc, nil
}

func (s *SQLiteStorage) queryDocument(ctx context.Context, notFound error, query string, args ...interface{}) (*models.Document, error) {
	doc, err := scanDocument(s.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, notFound
	}
	return doc, err
}

func (s *SQLiteStorage) queryDocuments(ctx context.Context, query string, args ...interface{}) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// GetDocument returns one version of a document.
func (s *SQLiteStorage) GetDocument(ctx context.Context, id string, version int) (*models.Document, error) {
	return s.queryDocument(ctx,
		models.NotFoundError("document not found: %s v%d", id, version),
		`SELECT `+documentColumns+` FROM documents WHERE id = ? AND version = ?`, id, version)
}

// LatestDocument returns the highest version of a document.
func (s *SQLiteStorage) LatestDocument(ctx context.Context, id string) (*models.Document, error) {
	return s.queryDocument(ctx,
		models.NotFoundError("document not found: %s", id),
		`SELECT `+documentColumns+` FROM documents WHERE id = ? ORDER BY version DESC LIMIT 1`, id)
}

// LatestDocumentByType returns the highest version of docType in a conversation.
func (s *SQLiteStorage) LatestDocumentByType(ctx context.Context, conversationID string, docType models.DocumentType) (*models.Document, error) {
	return s.queryDocument(ctx,
		models.NotFoundError("no %s document in conversation %s", docType, conversationID),
		`SELECT `+documentColumns+` FROM documents WHERE conversation_id = ? AND document_type = ?
		 ORDER BY version DESC LIMIT 1`, conversationID, docType)
}

// ListDocuments returns the latest version of every document of a conversation.
func (s *SQLiteStorage) ListDocuments(ctx context.Context, conversationID string) ([]*models.Document, error) {
	return s.queryDocuments(ctx,
		`SELECT `+documentColumns+` FROM documents d
		 WHERE conversation_id = ? AND version = (SELECT MAX(version) FROM documents WHERE id = d.id)
		 ORDER BY document_type`, conversationID)
}

// ListDocumentVersions returns every version of a document, oldest first.
func (s *SQLiteStorage) ListDocumentVersions(ctx context.Context, id string) ([]*models.Document, error) {
	return s.queryDocuments(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ? ORDER BY version`, id)
}

// ListFingerprints returns the registered fingerprints of a project.
func (s *SQLiteStorage) ListFingerprints(ctx context.Context, projectID string) ([]models.FingerprintEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT project_id, fingerprint, document_id, document_type, section_id, question_id, created_at
		 FROM fingerprints WHERE project_id = ? ORDER BY created_at`,
		projectID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.FingerprintEntry
	for rows.Next() {
		var e models.FingerprintEntry
		if err := rows.Scan(&e.ProjectID, &e.Fingerprint, &e.DocumentID, &e.DocumentType, &e.SectionID, &e.QuestionID, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountConversations returns the total number of conversations.
func (s *SQLiteStorage) CountConversations(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&count)
	return count, err
}

// CountDocuments returns the number of distinct documents, not versions.
func (s *SQLiteStorage) CountDocuments(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT id) FROM documents`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

package models

import "time"

// DocumentStatus is the lifecycle status of one document version.
type DocumentStatus string

const (
	StatusDraft     DocumentStatus = "draft"
	StatusGenerated DocumentStatus = "generated"
	StatusReviewed  DocumentStatus = "reviewed"
	StatusFinal     DocumentStatus = "final"
)

// Reference replaces content that already exists elsewhere in the project.
// It resolves at render time to the current content of the target.
type Reference struct {
	SourceDoc          string       `json:"source_doc"`
	SourceSection      string       `json:"source_section"`
	TargetDoc          string       `json:"target_doc"`
	TargetDocumentType DocumentType `json:"target_document_type"`
	TargetSection      string       `json:"target_section"`
	TargetQuestion     string       `json:"target_question"`
}

// Block is one answer rendered into a section: literal content or a reference.
type Block struct {
	QuestionID string     `json:"question_id"`
	Content    string     `json:"content,omitempty"`
	Ref        *Reference `json:"ref,omitempty"`
}

// DocumentSection is the assembled content of one template section.
type DocumentSection struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Required  bool    `json:"required"`
	Satisfied bool    `json:"satisfied"`
	Blocks    []Block `json:"blocks"`
}

// Document is one immutable version of a generated document.
// ID is stable across the versions of one (conversation, document type) pair.
type Document struct {
	ID             string            `json:"id" db:"id"`
	ConversationID string            `json:"conversation_id" db:"conversation_id"`
	DocumentType   DocumentType      `json:"document_type" db:"document_type"`
	Version        int               `json:"version" db:"version"`
	Title          string            `json:"title" db:"title"`
	Sections       []DocumentSection `json:"sections" db:"sections"`
	Status         DocumentStatus    `json:"status" db:"status"`
	Coverage       float64           `json:"coverage" db:"coverage"`
	ContentHash    string            `json:"content_hash" db:"content_hash"`
	CreatedAt      time.Time         `json:"created_at" db:"created_at"`
}

// Section returns the section with id, or nil.
func (d *Document) Section(id string) *DocumentSection {
	for i := range d.Sections {
		if d.Sections[i].ID == id {
			return &d.Sections[i]
		}
	}
	return nil
}

// Block returns the block for questionID in sectionID, or nil.
func (d *Document) Block(sectionID, questionID string) *Block {
	s := d.Section(sectionID)
	if s == nil {
		return nil
	}
	for i := range s.Blocks {
		if s.Blocks[i].QuestionID == questionID {
			return &s.Blocks[i]
		}
	}
	return nil
}

// FingerprintEntry records where a piece of content was first written in a project.
type FingerprintEntry struct {
	ProjectID    string       `json:"project_id" db:"project_id"`
	Fingerprint  string       `json:"fingerprint" db:"fingerprint"`
	DocumentID   string       `json:"document_id" db:"document_id"`
	DocumentType DocumentType `json:"document_type" db:"document_type"`
	SectionID    string       `json:"section_id" db:"section_id"`
	QuestionID   string       `json:"question_id" db:"question_id"`
	CreatedAt    time.Time    `json:"created_at" db:"created_at"`
}

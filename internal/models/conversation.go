package models

import (
	"time"
)

// ConversationType is the kind of project a conversation explores.
type ConversationType string

const (
	TypeIdea    ConversationType = "idea"
	TypeFeature ConversationType = "feature"
	TypeTool    ConversationType = "tool"
)

// Valid reports whether t is a known conversation type.
func (t ConversationType) Valid() bool {
	switch t {
	case TypeIdea, TypeFeature, TypeTool:
		return true
	}
	return false
}

// Phase is the stage of a conversation. Phases only move forward.
type Phase string

const (
	PhaseDiscovery  Phase = "discovery"
	PhaseDefinition Phase = "definition"
	PhaseReview     Phase = "review"
	PhaseCompleted  Phase = "completed"
)

// Rank orders phases; unknown phases rank below discovery.
func (p Phase) Rank() int {
	switch p {
	case PhaseDiscovery:
		return 1
	case PhaseDefinition:
		return 2
	case PhaseReview:
		return 3
	case PhaseCompleted:
		return 4
	}
	return 0
}

// Status is the lifecycle status of a conversation, orthogonal to its phase.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

// Answer is an immutable response to one question. Corrections append a newer Answer.
type Answer struct {
	ID             string       `json:"id" db:"id"`
	ConversationID string       `json:"conversation_id" db:"conversation_id"`
	DocumentType   DocumentType `json:"document_type" db:"document_type"`
	QuestionID     string       `json:"question_id" db:"question_id"`
	Value          string       `json:"value" db:"value"`
	Input          string       `json:"input,omitempty" db:"input"`
	SourceAgentID  string       `json:"source_agent_id" db:"source_agent_id"`
	CreatedAt      time.Time    `json:"created_at" db:"created_at"`
}

// AnswerKey is the key of an answer within a conversation. Question ids are only
// unique per document type, so the type is part of the key.
func AnswerKey(docType DocumentType, questionID string) string {
	return string(docType) + "/" + questionID
}

// DocumentProgress tracks the interview state of one requested document type.
type DocumentProgress struct {
	Closed         []string       `json:"closed,omitempty"`
	Skipped        []string       `json:"skipped,omitempty"`
	Dynamic        []Question     `json:"dynamic,omitempty"`
	Complete       bool           `json:"complete"`
	Disabled       bool           `json:"disabled,omitempty"`
	DisabledReason string         `json:"disabled_reason,omitempty"`
	DocumentID     string         `json:"document_id,omitempty"`
	LatestVersion  int            `json:"latest_version,omitempty"`
	LatestStatus   DocumentStatus `json:"latest_status,omitempty"`
}

// IsClosed reports whether sectionID has been closed.
func (p *DocumentProgress) IsClosed(sectionID string) bool {
	return contains(p.Closed, sectionID)
}

// IsSkipped reports whether questionID was skipped.
func (p *DocumentProgress) IsSkipped(questionID string) bool {
	return contains(p.Skipped, questionID)
}

// HasDynamic reports whether the dynamic instance id already exists.
func (p *DocumentProgress) HasDynamic(id string) bool {
	for i := range p.Dynamic {
		if p.Dynamic[i].ID == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of p.
func (p *DocumentProgress) Clone() *DocumentProgress {
	if p == nil {
		return nil
	}
	c := *p
	c.Closed = append([]string(nil), p.Closed...)
	c.Skipped = append([]string(nil), p.Skipped...)
	c.Dynamic = make([]Question, len(p.Dynamic))
	for i, q := range p.Dynamic {
		q.Options = append([]string(nil), q.Options...)
		c.Dynamic[i] = q
	}
	return &c
}

// PendingQuestion is the question currently posed to the user.
type PendingQuestion struct {
	DocumentType DocumentType `json:"document_type"`
	Question     Question     `json:"question"`
}

// Conversation is the per-user interview state.
type Conversation struct {
	ID                     string                             `json:"id"`
	Type                   ConversationType                   `json:"type"`
	Phase                  Phase                              `json:"phase"`
	Status                 Status                             `json:"status"`
	Stale                  bool                               `json:"stale,omitempty"`
	DocumentTypes          []DocumentType                     `json:"document_types"`
	Answers                map[string]Answer                  `json:"answers"`
	Progress               map[DocumentType]*DocumentProgress `json:"progress"`
	Current                *PendingQuestion                   `json:"current,omitempty"`
	TokensUsed             int                                `json:"tokens_used"`
	TokenCeiling           int                                `json:"token_ceiling"`
	AnswerCount            int                                `json:"answer_count"`
	AnswersSinceCheckpoint int                                `json:"answers_since_checkpoint"`
	CheckpointCount        int                                `json:"checkpoint_count"`
	LastCheckpointAt       *time.Time                         `json:"last_checkpoint_at,omitempty"`
	CreatedAt              time.Time                          `json:"created_at"`
	UpdatedAt              time.Time                          `json:"updated_at"`
}

// Answer returns the latest answer for questionID in docType.
func (c *Conversation) Answer(docType DocumentType, questionID string) (Answer, bool) {
	a, ok := c.Answers[AnswerKey(docType, questionID)]
	return a, ok
}

// Answered reports whether questionID in docType has a non-empty answer.
func (c *Conversation) Answered(docType DocumentType, questionID string) bool {
	a, ok := c.Answer(docType, questionID)
	return ok && a.Value != ""
}

// ProgressFor returns the progress of docType, creating it if missing.
func (c *Conversation) ProgressFor(docType DocumentType) *DocumentProgress {
	if c.Progress == nil {
		c.Progress = make(map[DocumentType]*DocumentProgress)
	}
	p, ok := c.Progress[docType]
	if !ok {
		p = &DocumentProgress{}
		c.Progress[docType] = p
	}
	return p
}

// ActiveDocumentTypes returns the requested types that are not disabled.
func (c *Conversation) ActiveDocumentTypes() []DocumentType {
	out := make([]DocumentType, 0, len(c.DocumentTypes))
	for _, dt := range c.DocumentTypes {
		if p, ok := c.Progress[dt]; ok && p.Disabled {
			continue
		}
		out = append(out, dt)
	}
	return out
}

// Clone returns a deep copy of c. State transitions mutate a clone and swap it
// in only when every step succeeded.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	n := *c
	n.DocumentTypes = append([]DocumentType(nil), c.DocumentTypes...)
	n.Answers = make(map[string]Answer, len(c.Answers))
	for k, v := range c.Answers {
		n.Answers[k] = v
	}
	n.Progress = make(map[DocumentType]*DocumentProgress, len(c.Progress))
	for k, v := range c.Progress {
		n.Progress[k] = v.Clone()
	}
	if c.Current != nil {
		cur := *c.Current
		cur.Question.Options = append([]string(nil), c.Current.Question.Options...)
		n.Current = &cur
	}
	if c.LastCheckpointAt != nil {
		t := *c.LastCheckpointAt
		n.LastCheckpointAt = &t
	}
	return &n
}

// Checkpoint is a persisted snapshot used to resume a conversation.
type Checkpoint struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id"`
	Sequence       int           `json:"sequence"`
	Phase          Phase         `json:"phase"`
	TokensUsed     int           `json:"tokens_used"`
	State          *Conversation `json:"state"`
	CreatedAt      time.Time     `json:"created_at"`
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

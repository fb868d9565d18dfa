// Package models defines core data structures for templates, conversations, answers, and documents.
package models

import (
	"sort"
	"strings"
)

// DocumentType identifies a template and the documents generated from it (prd, brd, ...).
type DocumentType string

const (
	DocPRD  DocumentType = "prd"
	DocBRD  DocumentType = "brd"
	DocSRS  DocumentType = "srs"
	DocERD  DocumentType = "erd"
	DocDBRD DocumentType = "dbrd"
	DocUXDD DocumentType = "uxdd"
)

// QuestionKind classifies where a question comes from.
type QuestionKind string

const (
	KindTemplate   QuestionKind = "template"
	KindDynamic    QuestionKind = "dynamic"
	KindClarifying QuestionKind = "clarifying"
	KindValidation QuestionKind = "validation"
)

// RelationKind is the kind of link between two document types.
type RelationKind string

const (
	RelationDerivesFrom RelationKind = "derives_from"
	RelationInforms     RelationKind = "informs"
	RelationReferences  RelationKind = "references"
)

// InstanceSeparator joins a dynamic question id and its instance key.
const InstanceSeparator = "#"

// Question is a single prompt within a section.
// A dynamic question with ForEach set is a prototype: it is never asked directly,
// instead one instance is created per item named in the ForEach question's answer.
type Question struct {
	ID          string       `json:"id" yaml:"id"`
	Content     string       `json:"content" yaml:"content"`
	Kind        QuestionKind `json:"kind" yaml:"kind"`
	Required    bool         `json:"required" yaml:"required"`
	Options     []string     `json:"options,omitempty" yaml:"options,omitempty"`
	ForEach     string       `json:"for_each,omitempty" yaml:"for_each,omitempty"`
	SectionID   string       `json:"section_id" yaml:"-"`
	InstanceKey string       `json:"instance_key,omitempty" yaml:"-"`
}

// IsPrototype reports whether q only serves to spawn dynamic instances.
func (q *Question) IsPrototype() bool {
	return q.Kind == KindDynamic && q.ForEach != "" && q.InstanceKey == ""
}

// BaseID returns the id without any instance key.
func (q *Question) BaseID() string {
	return BaseQuestionID(q.ID)
}

// InstanceID builds the derived id of a dynamic instance.
func InstanceID(questionID, instanceKey string) string {
	return questionID + InstanceSeparator + instanceKey
}

// BaseQuestionID strips the instance key from a derived question id.
func BaseQuestionID(id string) string {
	if i := strings.Index(id, InstanceSeparator); i >= 0 {
		return id[:i]
	}
	return id
}

// Section is an ordered group of questions, optionally with nested subsections.
type Section struct {
	ID          string     `json:"id" yaml:"id"`
	Title       string     `json:"title" yaml:"title"`
	Required    bool       `json:"required" yaml:"required"`
	Order       int        `json:"order" yaml:"order"`
	Questions   []Question `json:"questions" yaml:"questions"`
	Subsections []Section  `json:"subsections,omitempty" yaml:"subsections,omitempty"`
}

// Relationship links a template to another document type.
type Relationship struct {
	Kind   RelationKind `json:"kind" yaml:"kind"`
	Target DocumentType `json:"target" yaml:"target"`
}

// ValidationRule is a document-level completion rule.
// Kind "dynamic_coverage" requires the share of answered dynamic instances in Section
// to be at least Minimum; "answered_count" requires at least Minimum answered questions in Section.
type ValidationRule struct {
	Name    string  `json:"name" yaml:"name"`
	Kind    string  `json:"kind" yaml:"kind"`
	Section string  `json:"section" yaml:"section"`
	Minimum float64 `json:"minimum" yaml:"minimum"`
}

const (
	RuleDynamicCoverage = "dynamic_coverage"
	RuleAnsweredCount   = "answered_count"
)

// ValidationRules groups the completion settings of a template.
type ValidationRules struct {
	MinimumAnsweredPerSection float64          `json:"minimum_questions_answered_per_section" yaml:"minimum_questions_answered_per_section"`
	Document                  []ValidationRule `json:"document,omitempty" yaml:"document,omitempty"`
}

// Template describes one document type. Immutable once loaded into a catalog.
type Template struct {
	ID            string          `json:"id" yaml:"id"`
	DocumentType  DocumentType    `json:"document_type" yaml:"document_type"`
	Title         string          `json:"title" yaml:"title"`
	Version       string          `json:"version" yaml:"version"`
	Phase         Phase           `json:"phase" yaml:"phase"`
	Sections      []Section       `json:"sections" yaml:"sections"`
	Rules         ValidationRules `json:"validation_rules" yaml:"validation_rules"`
	Relationships []Relationship  `json:"relationships,omitempty" yaml:"relationships,omitempty"`

	flat []*Section
}

// Threshold returns the fraction of required questions a section needs to be satisfied.
func (t *Template) Threshold() float64 {
	if t.Rules.MinimumAnsweredPerSection <= 0 || t.Rules.MinimumAnsweredPerSection > 1 {
		return 1.0
	}
	return t.Rules.MinimumAnsweredPerSection
}

// Normalize sorts sections by order, stamps section ids on questions and
// defaults question kinds. Called once by the catalog at load time.
func (t *Template) Normalize() {
	sortSections(t.Sections)
	t.flat = t.flat[:0]
	var walk func(secs []Section)
	walk = func(secs []Section) {
		for i := range secs {
			s := &secs[i]
			for j := range s.Questions {
				q := &s.Questions[j]
				q.SectionID = s.ID
				if q.Kind == "" {
					if q.ForEach != "" {
						q.Kind = KindDynamic
					} else {
						q.Kind = KindTemplate
					}
				}
			}
			t.flat = append(t.flat, s)
			walk(s.Subsections)
		}
	}
	walk(t.Sections)
}

func sortSections(secs []Section) {
	sort.SliceStable(secs, func(i, j int) bool { return secs[i].Order < secs[j].Order })
	for i := range secs {
		sortSections(secs[i].Subsections)
	}
}

// OrderedSections returns every section depth-first in ascending order:
// a parent precedes its subsections.
func (t *Template) OrderedSections() []*Section {
	if t.flat == nil {
		t.Normalize()
	}
	return t.flat
}

// Section returns the section with id, or nil.
func (t *Template) Section(id string) *Section {
	for _, s := range t.OrderedSections() {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// Question returns the static question with id (instance keys are ignored), or nil.
func (t *Template) Question(id string) *Question {
	base := BaseQuestionID(id)
	for _, s := range t.OrderedSections() {
		for i := range s.Questions {
			if s.Questions[i].ID == base {
				return &s.Questions[i]
			}
		}
	}
	return nil
}

// Prototypes returns the dynamic prototypes generated by questionID.
func (t *Template) Prototypes(questionID string) []*Question {
	var out []*Question
	for _, s := range t.OrderedSections() {
		for i := range s.Questions {
			q := &s.Questions[i]
			if q.IsPrototype() && q.ForEach == questionID {
				out = append(out, q)
			}
		}
	}
	return out
}

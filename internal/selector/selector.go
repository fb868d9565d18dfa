// Package selector decides which question to ask next for a document template.
package selector

import (
	"strings"

	"github.com/hyperjump/scribe/internal/models"
	"github.com/hyperjump/scribe/pkg/utils"
)

// Kind is the outcome of a selection.
type Kind string

const (
	// KindQuestion means Question should be asked next.
	KindQuestion Kind = "question"
	// KindSectionComplete means SectionID has nothing left to ask and should be closed.
	KindSectionComplete Kind = "section_complete"
	// KindDocumentComplete means every section is closed and every rule holds.
	KindDocumentComplete Kind = "document_complete"
	// KindIncomplete means nothing is left to ask but the document does not meet its rules.
	KindIncomplete Kind = "incomplete"
)

// Selection is the result of Next.
type Selection struct {
	Kind        Kind             `json:"kind"`
	Question    *models.Question `json:"question,omitempty"`
	SectionID   string           `json:"section_id,omitempty"`
	Unsatisfied []string         `json:"unsatisfied,omitempty"`
}

// Progress is the interview state of one document that the selector reads.
type Progress interface {
	Answered(questionID string) bool
	Skipped(questionID string) bool
	Closed(sectionID string) bool
	Dynamic(sectionID string) []models.Question
}

// Next returns the next question of tpl, or signals that a section or the
// document is complete. Sections are visited in order, parents before their
// subsections; within a section required questions come before optional ones.
func Next(tpl *models.Template, p Progress) Selection {
	for _, sec := range tpl.OrderedSections() {
		if p.Closed(sec.ID) {
			continue
		}
		if q := nextInSection(sec, p); q != nil {
			return Selection{Kind: KindQuestion, Question: q, SectionID: sec.ID}
		}
		return Selection{Kind: KindSectionComplete, SectionID: sec.ID}
	}
	unsatisfied := append(Unsatisfied(tpl, p), FailedRules(tpl, p)...)
	if len(unsatisfied) > 0 {
		return Selection{Kind: KindIncomplete, Unsatisfied: unsatisfied}
	}
	return Selection{Kind: KindDocumentComplete}
}

func nextInSection(sec *models.Section, p Progress) *models.Question {
	qs := Questions(sec, p)
	for _, required := range []bool{true, false} {
		for i := range qs {
			q := &qs[i]
			if q.Required != required || q.IsPrototype() {
				continue
			}
			if p.Answered(q.ID) || p.Skipped(q.ID) {
				continue
			}
			return q
		}
	}
	return nil
}

// Questions returns the askable questions of sec: static questions in declaration
// order, each dynamic instance placed after its prototype.
func Questions(sec *models.Section, p Progress) []models.Question {
	dynamic := p.Dynamic(sec.ID)
	if len(dynamic) == 0 {
		return sec.Questions
	}
	out := make([]models.Question, 0, len(sec.Questions)+len(dynamic))
	placed := make(map[string]bool)
	for _, q := range sec.Questions {
		out = append(out, q)
		for _, d := range dynamic {
			if d.BaseID() == q.ID {
				out = append(out, d)
				placed[d.ID] = true
			}
		}
	}
	for _, d := range dynamic {
		if !placed[d.ID] {
			out = append(out, d)
		}
	}
	return out
}

// SectionSatisfied reports whether the answered share of sec's required questions
// meets the template threshold. Prototypes do not count, their instances do.
func SectionSatisfied(tpl *models.Template, sec *models.Section, p Progress) bool {
	required, answered := 0, 0
	for _, q := range Questions(sec, p) {
		if !q.Required || q.IsPrototype() {
			continue
		}
		required++
		if p.Answered(q.ID) {
			answered++
		}
	}
	return utils.Ratio(answered, required) >= tpl.Threshold()
}

// Unsatisfied returns the ids of required sections that do not meet the threshold.
func Unsatisfied(tpl *models.Template, p Progress) []string {
	var out []string
	for _, sec := range tpl.OrderedSections() {
		if sec.Required && !SectionSatisfied(tpl, sec, p) {
			out = append(out, sec.ID)
		}
	}
	return out
}

// Coverage is the share of required sections that meet the threshold.
func Coverage(tpl *models.Template, p Progress) float64 {
	total, ok := 0, 0
	for _, sec := range tpl.OrderedSections() {
		if !sec.Required {
			continue
		}
		total++
		if SectionSatisfied(tpl, sec, p) {
			ok++
		}
	}
	return utils.Ratio(ok, total)
}

// FailedRules returns the names of document-level rules that do not hold.
func FailedRules(tpl *models.Template, p Progress) []string {
	var failed []string
	for _, rule := range tpl.Rules.Document {
		sec := tpl.Section(rule.Section)
		if sec == nil || !ruleHolds(rule, sec, p) {
			failed = append(failed, rule.Name)
		}
	}
	return failed
}

func ruleHolds(rule models.ValidationRule, sec *models.Section, p Progress) bool {
	switch rule.Kind {
	case models.RuleDynamicCoverage:
		instances := p.Dynamic(sec.ID)
		answered := 0
		for _, q := range instances {
			if p.Answered(q.ID) {
				answered++
			}
		}
		return utils.Ratio(answered, len(instances)) >= rule.Minimum
	case models.RuleAnsweredCount:
		answered := 0
		for _, q := range Questions(sec, p) {
			if !q.IsPrototype() && p.Answered(q.ID) {
				answered++
			}
		}
		return float64(answered) >= rule.Minimum
	}
	return false
}

// Expand instantiates the dynamic questions generated by answering questionID
// with value. Items already present in existing are not repeated.
func Expand(tpl *models.Template, questionID, value string, existing func(id string) bool) []models.Question {
	protos := tpl.Prototypes(questionID)
	if len(protos) == 0 {
		return nil
	}
	var out []models.Question
	seen := make(map[string]bool)
	for _, item := range utils.SplitList(value) {
		key := utils.Slugify(item)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		for _, proto := range protos {
			id := models.InstanceID(proto.ID, key)
			if existing(id) {
				continue
			}
			q := *proto
			q.ID = id
			q.InstanceKey = key
			q.Content = strings.ReplaceAll(proto.Content, "{item}", item)
			q.Options = append([]string(nil), proto.Options...)
			out = append(out, q)
		}
	}
	return out
}

// Retire returns the ids of the instances generated from questionID whose
// item no longer appears in value. Answered instances are kept.
func Retire(tpl *models.Template, questionID, value string, instances []models.Question, answered func(id string) bool) []string {
	protos := make(map[string]bool)
	for _, proto := range tpl.Prototypes(questionID) {
		protos[proto.ID] = true
	}
	if len(protos) == 0 {
		return nil
	}
	keep := make(map[string]bool)
	for _, item := range utils.SplitList(value) {
		keep[utils.Slugify(item)] = true
	}
	var out []string
	for _, q := range instances {
		if !protos[models.BaseQuestionID(q.ID)] || keep[q.InstanceKey] || answered(q.ID) {
			continue
		}
		out = append(out, q.ID)
	}
	return out
}

// MapProgress is a Progress backed by plain maps.
type MapProgress struct {
	Answers   map[string]string
	SkippedQ  map[string]bool
	ClosedS   map[string]bool
	Instances []models.Question
}

// NewMapProgress returns an empty MapProgress.
func NewMapProgress() *MapProgress {
	return &MapProgress{
		Answers:  make(map[string]string),
		SkippedQ: make(map[string]bool),
		ClosedS:  make(map[string]bool),
	}
}

func (m *MapProgress) Answered(id string) bool { return strings.TrimSpace(m.Answers[id]) != "" }
func (m *MapProgress) Skipped(id string) bool  { return m.SkippedQ[id] }
func (m *MapProgress) Closed(id string) bool   { return m.ClosedS[id] }

func (m *MapProgress) Dynamic(sectionID string) []models.Question {
	var out []models.Question
	for _, q := range m.Instances {
		if q.SectionID == sectionID {
			out = append(out, q)
		}
	}
	return out
}

package conversation

import (
	"github.com/hyperjump/scribe/internal/models"
	"github.com/hyperjump/scribe/internal/selector"
)

type view struct {
	c  *models.Conversation
	dt models.DocumentType
	p  *models.DocumentProgress
}

// View adapts the progress of docType in c to the selector.
func View(c *models.Conversation, docType models.DocumentType) selector.Progress {
	p := c.Progress[docType]
	if p == nil {
		p = &models.DocumentProgress{}
	}
	return view{c: c, dt: docType, p: p}
}

func (v view) Answered(questionID string) bool { return v.c.Answered(v.dt, questionID) }
func (v view) Skipped(questionID string) bool  { return v.p.IsSkipped(questionID) }
func (v view) Closed(sectionID string) bool    { return v.p.IsClosed(sectionID) }

func (v view) Dynamic(sectionID string) []models.Question {
	var out []models.Question
	for _, q := range v.p.Dynamic {
		if q.SectionID == sectionID {
			out = append(out, q)
		}
	}
	return out
}

func remove(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

func removeQuestion(list []models.Question, id string) []models.Question {
	out := list[:0]
	for _, q := range list {
		if q.ID != id {
			out = append(out, q)
		}
	}
	return out
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}

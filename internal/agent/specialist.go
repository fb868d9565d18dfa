// Package agent describes the specialist roles, routes questions to them and
// runs the single generic specialist invocation.
package agent

import (
	"github.com/hyperjump/scribe/internal/config"
	"github.com/hyperjump/scribe/internal/models"
)

// OrchestratorID is the fallback role. It takes any question no specialist
// claims and owns phase transitions and review hand-off.
const OrchestratorID = "orchestrator"

// Specialist is a role-bound content producer. It is plain data: behavior comes
// from the shared Invoke function and the prompt template.
type Specialist struct {
	ID             string                `json:"id"`
	Name           string                `json:"name"`
	CapabilityTags []string              `json:"capability_tags"`
	DocumentTypes  []models.DocumentType `json:"document_types,omitempty"`
	// Sections narrows the claim to these section ids of DocumentTypes.
	// Empty means every section.
	Sections       []string `json:"sections,omitempty"`
	PromptTemplate string   `json:"-"`
}

// DefaultPrompt is used by specialists without their own template.
const DefaultPrompt = `You are the {{.Agent.Name}} on a product documentation team ({{join .Agent.CapabilityTags ", "}}).
You are filling in the "{{.Turn.SectionTitle}}" section of the {{.Turn.DocumentTitle}}.
{{- if .Turn.Context}}

Answers already given in this section:
{{- range .Turn.Context}}
- {{.}}
{{- end}}
{{- end}}

Question: {{.Turn.Question.Content}}
{{- if .Turn.Question.Options}}
Allowed options: {{join .Turn.Question.Options ", "}}
{{- end}}
User answer: {{.Turn.Input}}

Rewrite the answer as a concise statement for the document. If the answer cannot be used, ask one short follow-up question instead.
Reply with JSON only: {"value": "<statement or empty>", "clarify": "<follow-up question or empty>"}`

// DefaultSpecialists returns the built-in team.
func DefaultSpecialists() []Specialist {
	return []Specialist{
		{
			ID:             OrchestratorID,
			Name:           "Orchestrator",
			CapabilityTags: []string{"coordination", "review"},
		},
		{
			ID:             "product_manager",
			Name:           "Product Manager",
			CapabilityTags: []string{"product", "requirements", "prioritization"},
			DocumentTypes:  []models.DocumentType{models.DocPRD},
		},
		{
			ID:             "business_analyst",
			Name:           "Business Analyst",
			CapabilityTags: []string{"business", "stakeholders", "problem analysis"},
			DocumentTypes:  []models.DocumentType{models.DocBRD},
		},
		{
			ID:             "business_analyst_prd",
			Name:           "Business Analyst",
			CapabilityTags: []string{"business", "problem analysis"},
			DocumentTypes:  []models.DocumentType{models.DocPRD},
			Sections:       []string{"problem_statement"},
		},
		{
			ID:             "architect",
			Name:           "Software Architect",
			CapabilityTags: []string{"architecture", "requirements", "integration"},
			DocumentTypes:  []models.DocumentType{models.DocSRS},
		},
		{
			ID:             "database_specialist",
			Name:           "Database Specialist",
			CapabilityTags: []string{"data modeling", "databases"},
			DocumentTypes:  []models.DocumentType{models.DocERD, models.DocDBRD},
		},
		{
			ID:             "designer",
			Name:           "UX Designer",
			CapabilityTags: []string{"user experience", "interaction design"},
			DocumentTypes:  []models.DocumentType{models.DocUXDD},
		},
	}
}

// FromConfig merges configured agents into base. An agent with an existing id
// replaces that specialist; others are appended.
func FromConfig(base []Specialist, agents []config.AgentConfig) []Specialist {
	out := append([]Specialist(nil), base...)
	for _, a := range agents {
		s := Specialist{
			ID:             a.ID,
			Name:           a.Name,
			CapabilityTags: append([]string(nil), a.CapabilityTags...),
			Sections:       append([]string(nil), a.Sections...),
			PromptTemplate: a.PromptTemplate,
		}
		if s.Name == "" {
			s.Name = a.ID
		}
		for _, dt := range a.DocumentTypes {
			s.DocumentTypes = append(s.DocumentTypes, models.DocumentType(dt))
		}
		replaced := false
		for i := range out {
			if out[i].ID == s.ID {
				out[i] = s
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, s)
		}
	}
	return out
}

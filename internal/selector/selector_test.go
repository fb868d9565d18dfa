package selector

import (
	"testing"

	"github.com/hyperjump/scribe/internal/catalog"
	"github.com/hyperjump/scribe/internal/models"
)

func loadTemplate(t *testing.T, dt models.DocumentType) *models.Template {
	t.Helper()
	c, err := catalog.Builtin()
	if err != nil {
		t.Fatalf("Builtin() error: %v", err)
	}
	tpl, err := c.Get(dt)
	if err != nil {
		t.Fatal(err)
	}
	return tpl
}

// advance closes complete sections the way the state machine does and returns
// the first non-section selection.
func advance(tpl *models.Template, p *MapProgress) Selection {
	for {
		sel := Next(tpl, p)
		if sel.Kind != KindSectionComplete {
			return sel
		}
		p.ClosedS[sel.SectionID] = true
	}
}

func TestNext_ExecutiveSummaryThenProblemStatement(t *testing.T) {
	tpl := loadTemplate(t, models.DocPRD)
	p := NewMapProgress()

	sel := advance(tpl, p)
	if sel.Kind != KindQuestion || sel.Question.ID != "es_1" {
		t.Fatalf("first question = %+v, want es_1", sel)
	}
	for _, id := range []string{"es_1", "es_2", "es_3", "es_4"} {
		p.Answers[id] = "answer to " + id
	}
	sel = advance(tpl, p)
	if sel.Kind != KindQuestion || sel.Question.ID != "ps_1" {
		t.Fatalf("after executive summary got %+v, want ps_1", sel.Question)
	}
	if sel.SectionID != "problem_statement" {
		t.Errorf("SectionID = %s", sel.SectionID)
	}
}

func TestNext_RequiredBeforeOptional(t *testing.T) {
	tpl := loadTemplate(t, models.DocPRD)
	p := NewMapProgress()
	p.ClosedS["executive_summary"] = true
	p.Answers["ps_1"] = "slow onboarding"

	sel := Next(tpl, p)
	if sel.Question == nil || sel.Question.ID != "ps_2" {
		t.Fatalf("got %+v, want required ps_2 before optional ps_3", sel.Question)
	}
	p.Answers["ps_2"] = "spreadsheets"
	sel = Next(tpl, p)
	if sel.Question == nil || sel.Question.ID != "ps_3" {
		t.Fatalf("got %+v, want optional ps_3", sel.Question)
	}
	p.SkippedQ["ps_3"] = true
	sel = Next(tpl, p)
	if sel.Kind != KindSectionComplete || sel.SectionID != "problem_statement" {
		t.Fatalf("got %+v, want problem_statement complete", sel)
	}
}

func TestNext_DynamicFanOutAndDocumentComplete(t *testing.T) {
	tpl := loadTemplate(t, models.DocERD)
	p := NewMapProgress()

	sel := advance(tpl, p)
	if sel.Question.ID != "erd_ent_1" {
		t.Fatalf("first question = %s", sel.Question.ID)
	}
	p.Answers["erd_ent_1"] = "Customer, Order Line"
	p.Instances = append(p.Instances, Expand(tpl, "erd_ent_1", p.Answers["erd_ent_1"], func(string) bool { return false })...)
	if len(p.Instances) != 2 {
		t.Fatalf("expected 2 dynamic instances, got %d", len(p.Instances))
	}

	sel = advance(tpl, p)
	if sel.Question.ID != "erd_attr_1#customer" {
		t.Fatalf("got %s, want erd_attr_1#customer", sel.Question.ID)
	}
	if sel.Question.Content != `Which attributes does "Customer" have?` {
		t.Errorf("instance content = %q", sel.Question.Content)
	}
	p.Answers["erd_attr_1#customer"] = "id, name"
	sel = advance(tpl, p)
	if sel.Question.ID != "erd_attr_1#order_line" {
		t.Fatalf("got %s, want erd_attr_1#order_line", sel.Question.ID)
	}
	p.Answers["erd_attr_1#order_line"] = "qty"
	sel = advance(tpl, p)
	if sel.Question.ID != "erd_rel_1" {
		t.Fatalf("got %s, want erd_rel_1", sel.Question.ID)
	}
	p.Answers["erd_rel_1"] = "a customer has many order lines"
	if sel = advance(tpl, p); sel.Kind != KindDocumentComplete {
		t.Fatalf("got %+v, want document complete", sel)
	}
}

func TestNext_DocumentRuleBlocksCompletion(t *testing.T) {
	tpl := loadTemplate(t, models.DocERD)
	p := NewMapProgress()
	p.Answers["erd_ent_1"] = "Customer, Order"
	p.Instances = Expand(tpl, "erd_ent_1", p.Answers["erd_ent_1"], func(string) bool { return false })
	p.Answers["erd_attr_1#customer"] = "id"
	p.SkippedQ["erd_attr_1#order"] = true
	p.Answers["erd_rel_1"] = "one to many"

	sel := advance(tpl, p)
	if sel.Kind != KindIncomplete {
		t.Fatalf("got %+v, want incomplete", sel)
	}
	found := false
	for _, name := range sel.Unsatisfied {
		if name == "attribute_coverage" {
			found = true
		}
	}
	if !found {
		t.Errorf("Unsatisfied = %v, want attribute_coverage", sel.Unsatisfied)
	}
}

func TestSectionSatisfied_Threshold(t *testing.T) {
	tpl := loadTemplate(t, models.DocPRD) // threshold 0.8
	sec := tpl.Section("executive_summary")
	p := NewMapProgress()
	for _, id := range []string{"es_1", "es_2", "es_3"} {
		p.Answers[id] = "x"
	}
	if SectionSatisfied(tpl, sec, p) {
		t.Error("3 of 4 (0.75) should not satisfy a 0.8 threshold")
	}
	p.Answers["es_4"] = "  "
	if SectionSatisfied(tpl, sec, p) {
		t.Error("a blank answer must not count")
	}
	p.Answers["es_4"] = "x"
	if !SectionSatisfied(tpl, sec, p) {
		t.Error("4 of 4 should satisfy")
	}
}

func TestCoverage(t *testing.T) {
	tpl := loadTemplate(t, models.DocBRD)
	p := NewMapProgress()
	if got := Coverage(tpl, p); got != 0 {
		t.Errorf("empty coverage = %v, want 0", got)
	}
	p.Answers["bo_1"] = "grow revenue"
	p.Answers["bo_2"] = "quarterly revenue"
	if got := Coverage(tpl, p); got != 0.5 {
		t.Errorf("coverage = %v, want 0.5", got)
	}
	p.Answers["sh_1"] = "sales"
	if got := Coverage(tpl, p); got != 1 {
		t.Errorf("coverage = %v, want 1", got)
	}
}

func TestExpand_SkipsExistingAndDuplicates(t *testing.T) {
	tpl := loadTemplate(t, models.DocERD)
	existing := map[string]bool{"erd_attr_1#customer": true}
	got := Expand(tpl, "erd_ent_1", "Customer, customer; Invoice", func(id string) bool { return existing[id] })
	if len(got) != 1 || got[0].ID != "erd_attr_1#invoice" {
		t.Fatalf("Expand = %+v", got)
	}
	if got[0].SectionID != "attributes" || got[0].InstanceKey != "invoice" || got[0].IsPrototype() {
		t.Errorf("unexpected instance: %+v", got[0])
	}
	if out := Expand(tpl, "erd_rel_1", "x", func(string) bool { return false }); out != nil {
		t.Errorf("question without prototypes expanded to %v", out)
	}
}

func TestRetire(t *testing.T) {
	tpl := loadTemplate(t, models.DocPRD)
	instances := Expand(tpl, "us_1", "login, search, export", func(string) bool { return false })
	answered := map[string]bool{"us_ac#export": true}

	got := Retire(tpl, "us_1", "Login", instances, func(id string) bool { return answered[id] })
	if len(got) != 1 || got[0] != "us_ac#search" {
		t.Errorf("Retire = %v, want [us_ac#search]", got)
	}
	if got := Retire(tpl, "es_1", "anything", instances, func(string) bool { return false }); got != nil {
		t.Errorf("question without prototypes retired %v", got)
	}
}

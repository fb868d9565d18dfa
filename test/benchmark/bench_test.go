package benchmark

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/hyperjump/scribe/internal/catalog"
	"github.com/hyperjump/scribe/internal/dedup"
	"github.com/hyperjump/scribe/internal/models"
	"github.com/hyperjump/scribe/internal/search"
	"github.com/hyperjump/scribe/internal/selector"
)

func BenchmarkFingerprint(b *testing.B) {
	content := "Parents managing shared household expenses across several bank accounts and cards."
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = dedup.Fingerprint(content)
	}
}

func BenchmarkSelectorNext(b *testing.B) {
	cat, err := catalog.Builtin()
	if err != nil {
		b.Fatal(err)
	}
	tpl, err := cat.Get(models.DocPRD)
	if err != nil {
		b.Fatal(err)
	}
	p := selector.NewMapProgress()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = selector.Next(tpl, p)
	}
}

func BenchmarkIndexSearch(b *testing.B) {
	idx, err := search.Open("")
	if err != nil {
		b.Fatal(err)
	}
	defer idx.Close()
	ctx := context.Background()
	for i := 0; i < 200; i++ {
		doc := &models.Document{
			ID:             fmt.Sprintf("doc-%d", i),
			ConversationID: fmt.Sprintf("conv-%d", i%20),
			DocumentType:   models.DocPRD,
			Version:        1,
			Title:          "Product Requirements Document",
			Status:         models.StatusDraft,
			CreatedAt:      time.Now(),
			Sections: []models.DocumentSection{{
				ID:    "executive_summary",
				Title: "Executive Summary",
				Blocks: []models.Block{{
					QuestionID: "es_1",
					Content:    fmt.Sprintf("A budgeting app number %d for households and small teams", i),
				}},
			}},
		}
		if err := idx.IndexDocument(ctx, doc); err != nil {
			b.Fatal(err)
		}
	}
	q := search.Query{Text: "budgeting households", Limit: 10}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := idx.Search(ctx, q); err != nil {
			b.Fatal(err)
		}
	}
}

package search

import (
	"sort"
	"strings"
)

// maxEdits is the largest edit distance a suggestion may have.
const maxEdits = 2

// Suggestion is the corrected form of a query whose terms are not in the index.
type Suggestion struct {
	Query     string   `json:"query"`
	Corrected []string `json:"corrected"`
}

// Suggest proposes a corrected query by replacing every unknown term with the
// closest indexed term, preferring smaller distance and then more frequent
// terms. It returns nil when every term is known or nothing is close.
func (ix *Index) Suggest(text string) (*Suggestion, error) {
	dict, err := ix.dictionary()
	if err != nil {
		return nil, err
	}
	terms := tokenize(text)
	out := make([]string, 0, len(terms))
	var corrected []string
	for _, t := range terms {
		if _, ok := dict[t]; ok {
			out = append(out, t)
			continue
		}
		best, ok := closest(t, dict)
		if !ok {
			out = append(out, t)
			continue
		}
		out = append(out, best)
		corrected = append(corrected, t)
	}
	if len(corrected) == 0 {
		return nil, nil
	}
	return &Suggestion{Query: strings.Join(out, " "), Corrected: corrected}, nil
}

// dictionary returns term -> document frequency over titles and content.
func (ix *Index) dictionary() (map[string]int, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.terms != nil {
		return ix.terms, nil
	}
	terms := make(map[string]int)
	for _, f := range []string{"title", "content"} {
		d, err := ix.index.FieldDict(f)
		if err != nil {
			return nil, err
		}
		for {
			e, err := d.Next()
			if err != nil || e == nil {
				break
			}
			terms[e.Term] += int(e.Count)
		}
		_ = d.Close()
	}
	ix.terms = terms
	return terms, nil
}

func closest(term string, dict map[string]int) (string, bool) {
	type candidate struct {
		term string
		dist int
		freq int
	}
	var cands []candidate
	for t, freq := range dict {
		if diff := len(t) - len(term); diff > maxEdits || diff < -maxEdits {
			continue
		}
		if d := levenshtein(term, t); d <= maxEdits {
			cands = append(cands, candidate{t, d, freq})
		}
	}
	if len(cands) == 0 {
		return "", false
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].dist != cands[j].dist {
			return cands[i].dist < cands[j].dist
		}
		if cands[i].freq != cands[j].freq {
			return cands[i].freq > cands[j].freq
		}
		return cands[i].term < cands[j].term
	})
	return cands[0].term, true
}

// levenshtein counts single-rune insertions, deletions and substitutions
// needed to turn a into b, keeping two rows of the matrix.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

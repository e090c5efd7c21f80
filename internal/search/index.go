// ABOUTME: In-memory TF-IDF search index over the registered tool catalogue.
// ABOUTME: Ranks tools against free-text queries by cosine similarity.

package search

import (
	"math"
	"sort"
	"strings"
	"sync"
)

// DefaultTopK is the result limit used when a query does not specify one.
const DefaultTopK = 10

// Tool is one entry of the tool catalogue being indexed.
type Tool struct {
	BackendID   string `json:"backend_id"`
	BackendName string `json:"backend_name"`
	ToolName    string `json:"tool_name"`
	Description string `json:"description"`
}

// Result is a ranked catalogue entry. Score is cosine similarity in (0, 1],
// rounded to three decimal places.
type Result struct {
	Tool  Tool    `json:"tool"`
	Score float64 `json:"score"`
}

// stopWords are common English function words dropped during tokenization.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "has": {}, "have": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {},
	"or": {}, "that": {}, "the": {}, "this": {}, "to": {}, "was": {},
	"were": {}, "will": {}, "with": {},
}

// document is a tool with its derived term statistics.
type document struct {
	tool Tool
	tf   map[string]int
	norm float64 // Euclidean norm of the full TF-IDF vector
}

// snapshot is one immutable build of the index. Index swaps the whole
// snapshot on reindex so concurrent searches never observe a partial build.
type snapshot struct {
	docs []document
	idf  map[string]float64
}

// Index ranks the tool catalogue against free-text queries using TF-IDF
// weighting and cosine similarity. The catalogue is rebuilt wholesale on
// every Reindex call; there is no incremental update path. Safe for
// concurrent use.
type Index struct {
	mu   sync.RWMutex
	snap *snapshot
}

// New creates an empty Index. Searching before the first Reindex returns no
// results.
func New() *Index {
	return &Index{snap: &snapshot{idf: make(map[string]float64)}}
}

// Reindex rebuilds the index from the given catalogue, replacing any prior
// build atomically. Call it whenever the catalogue changes; changing a
// single entry requires reindexing the whole catalogue.
func (x *Index) Reindex(tools []Tool) {
	docs := make([]document, 0, len(tools))
	df := make(map[string]int)

	for _, tool := range tools {
		tf := termFrequency(tokenize(tool.ToolName + " " + tool.Description))
		for term := range tf {
			df[term]++
		}
		docs = append(docs, document{tool: tool, tf: tf})
	}

	n := len(tools)
	if n < 1 {
		n = 1
	}
	// One-smoothed inverse document frequency: a term present in every
	// document (always the case in a single-backend catalogue) still
	// carries weight instead of zeroing out the whole vector.
	idf := make(map[string]float64, len(df))
	for term, count := range df {
		idf[term] = math.Log(float64(n)/float64(count)) + 1
	}

	// Document norms cover every term the document contains, not just the
	// terms a future query happens to share.
	for i := range docs {
		var sum float64
		for term, count := range docs[i].tf {
			w := float64(count) * idf[term]
			sum += w * w
		}
		docs[i].norm = math.Sqrt(sum)
	}

	x.mu.Lock()
	x.snap = &snapshot{docs: docs, idf: idf}
	x.mu.Unlock()
}

// Search ranks the catalogue against the query and returns up to topK
// results in descending score order, ties keeping catalogue order. An empty
// query, a query of only stop words, or an empty catalogue yields an empty
// list. A non-positive topK falls back to DefaultTopK.
func (x *Index) Search(query string, topK int) []Result {
	if topK <= 0 {
		topK = DefaultTopK
	}

	x.mu.RLock()
	snap := x.snap
	x.mu.RUnlock()

	if len(snap.docs) == 0 {
		return []Result{}
	}

	qtf := termFrequency(tokenize(query))
	if len(qtf) == 0 {
		return []Result{}
	}

	var queryNorm float64
	for term, count := range qtf {
		w := float64(count) * snap.idf[term]
		queryNorm += w * w
	}
	queryNorm = math.Sqrt(queryNorm)

	results := make([]Result, 0, len(snap.docs))
	for _, doc := range snap.docs {
		score := cosine(qtf, queryNorm, doc, snap.idf)
		if score == 0 {
			continue
		}
		results = append(results, Result{Tool: doc.tool, Score: score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if len(results) > topK {
		results = results[:topK]
	}
	for i := range results {
		results[i].Score = math.Round(results[i].Score*1000) / 1000
	}
	return results
}

// cosine computes the cosine similarity between the query vector and one
// document, or 0 when either norm is zero.
func cosine(qtf map[string]int, queryNorm float64, doc document, idf map[string]float64) float64 {
	if queryNorm == 0 || doc.norm == 0 {
		return 0
	}

	var dot float64
	for term, qcount := range qtf {
		dcount, ok := doc.tf[term]
		if !ok {
			continue
		}
		w := idf[term]
		dot += (float64(qcount) * w) * (float64(dcount) * w)
	}

	return dot / (queryNorm * doc.norm)
}

// tokenize lowercases the text, maps every character outside [a-z0-9_] to a
// space, splits on whitespace, and drops single-character tokens and stop
// words.
func tokenize(text string) []string {
	lowered := strings.ToLower(text)
	cleaned := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			return r
		}
		return ' '
	}, lowered)

	var tokens []string
	for _, tok := range strings.Fields(cleaned) {
		if len(tok) <= 1 {
			continue
		}
		if _, ok := stopWords[tok]; ok {
			continue
		}
		tokens = append(tokens, tok)
	}
	return tokens
}

// termFrequency counts occurrences per token.
func termFrequency(tokens []string) map[string]int {
	tf := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		tf[tok]++
	}
	return tf
}

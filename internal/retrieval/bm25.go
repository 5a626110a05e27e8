package retrieval

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/kyleking/askdb/internal/types"
)

// Default BM25 parameters
const (
	DefaultK1 = 1.5
	DefaultB  = 0.75
)

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true, "be": true,
	"by": true, "for": true, "from": true, "has": true, "have": true, "in": true, "is": true,
	"it": true, "its": true, "of": true, "on": true, "or": true, "that": true, "the": true,
	"this": true, "to": true, "was": true, "were": true, "what": true, "which": true,
	"who": true, "with": true, "me": true, "show": true, "all": true, "each": true,
	"how": true, "many": true, "much": true, "do": true, "does": true, "i": true, "my": true,
}

// Tokenize lowercases text, splits on anything that is not a letter or digit
// (underscores included) and drops stopwords
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := fields[:0]

	for _, f := range fields {
		if !stopwords[f] {
			tokens = append(tokens, f)
		}
	}

	return tokens
}

// Index is an immutable BM25 index over one schema's documentation chunks
type Index struct {
	chunks  []types.DocumentationChunk
	terms   []map[string]int
	lengths []int
	df      map[string]int
	avgLen  float64
	k1      float64
	b       float64
}

// NewIndex tokenizes every chunk once; k1 or b of zero fall back to the defaults
func NewIndex(chunks []types.DocumentationChunk, k1, b float64) *Index {
	if k1 <= 0 {
		k1 = DefaultK1
	}

	if b <= 0 || b > 1 {
		b = DefaultB
	}

	idx := &Index{
		chunks:  chunks,
		terms:   make([]map[string]int, len(chunks)),
		lengths: make([]int, len(chunks)),
		df:      make(map[string]int),
		k1:      k1,
		b:       b,
	}

	total := 0

	for i, chunk := range chunks {
		tf := make(map[string]int)
		tokens := Tokenize(chunk.Content)

		for _, tok := range tokens {
			tf[tok]++
		}

		for tok := range tf {
			idx.df[tok]++
		}

		idx.terms[i] = tf
		idx.lengths[i] = len(tokens)
		total += len(tokens)
	}

	if len(chunks) > 0 {
		idx.avgLen = float64(total) / float64(len(chunks))
	}

	return idx
}

// Len returns the number of indexed chunks
func (idx *Index) Len() int {
	return len(idx.chunks)
}

// idf is the Lucene variant, which never goes negative
func (idx *Index) idf(term string) float64 {
	n := float64(len(idx.chunks))
	df := float64(idx.df[term])

	return math.Log((n-df+0.5)/(df+0.5) + 1)
}

// Score returns the BM25 score of chunk i for the query tokens
func (idx *Index) Score(i int, query []string) float64 {
	if idx.avgLen == 0 {
		return 0
	}

	score := 0.0
	norm := idx.k1 * (1 - idx.b + idx.b*float64(idx.lengths[i])/idx.avgLen)

	for _, term := range query {
		tf := float64(idx.terms[i][term])
		if tf == 0 {
			continue
		}

		score += idx.idf(term) * tf * (idx.k1 + 1) / (tf + norm)
	}

	return score
}

// Search scores every chunk and returns up to topK with score > 0 and score >= minScore.
// Equal scores keep chunk order.
func (idx *Index) Search(query string, topK int, minScore float64) []types.ScoredChunk {
	tokens := uniqueTokens(Tokenize(query))
	if len(tokens) == 0 || topK <= 0 {
		return nil
	}

	var scored []types.ScoredChunk

	for i, chunk := range idx.chunks {
		s := idx.Score(i, tokens)
		if s <= 0 || s < minScore {
			continue
		}

		scored = append(scored, types.ScoredChunk{Chunk: chunk, Score: s})
	}

	sort.SliceStable(scored, func(a, b int) bool {
		return scored[a].Score > scored[b].Score
	})

	if len(scored) > topK {
		scored = scored[:topK]
	}

	return scored
}

func uniqueTokens(tokens []string) []string {
	seen := make(map[string]bool, len(tokens))
	out := make([]string, 0, len(tokens))

	for _, t := range tokens {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}

	return out
}

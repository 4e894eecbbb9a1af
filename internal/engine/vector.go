package engine

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gonum.org/v1/gonum/floats"

	"github.com/merchforge/lattice/internal/config"
)

// TermVector is a sparse unit-length term vector stored as parallel
// slices sorted by term. Sorted storage keeps equality and the dot
// product deterministic and lets Cosine run as a merge join.
type TermVector struct {
	Terms   []string
	Weights []float64
}

// Len returns the number of non-zero terms.
func (v *TermVector) Len() int { return len(v.Terms) }

// Equal reports exact term-by-term equality.
func (v *TermVector) Equal(other *TermVector) bool {
	if v.Len() != other.Len() {
		return false
	}
	for i := range v.Terms {
		if v.Terms[i] != other.Terms[i] || v.Weights[i] != other.Weights[i] {
			return false
		}
	}
	return true
}

// Cosine returns the cosine similarity of two vectors. Both sides are
// unit length by construction, so the dot product is the similarity.
func (v *TermVector) Cosine(other *TermVector) float64 {
	var dot float64
	i, j := 0, 0
	for i < len(v.Terms) && j < len(other.Terms) {
		switch {
		case v.Terms[i] == other.Terms[j]:
			dot += v.Weights[i] * other.Weights[j]
			i++
			j++
		case v.Terms[i] < other.Terms[j]:
			i++
		default:
			j++
		}
	}
	return dot
}

var foldTransformer = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// tokenize lowercases, strips diacritics and splits catalog text into
// terms, dropping anything shorter than minLen.
func tokenize(text string, minLen int) []string {
	folded, _, err := transform.String(foldTransformer, text)
	if err != nil {
		folded = text
	}
	folded = strings.ToLower(folded)

	var tokens []string
	var b strings.Builder
	flush := func() {
		if b.Len() >= minLen {
			tokens = append(tokens, b.String())
		}
		b.Reset()
	}
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

// Vectorizer turns catalog text into tf-idf weighted unit vectors over
// the active catalog. It is rebuilt wholesale each cycle and never
// mutated afterwards.
type Vectorizer struct {
	cfg config.VectorizerConfig

	// idf per retained vocabulary term
	idf map[string]float64
	// number of documents the idf was fitted on
	docCount int
}

// NewVectorizer fits term document frequencies over the given documents,
// capping the vocabulary at the configured size (highest document
// frequency first, ties broken by term for reproducibility).
func NewVectorizer(cfg config.VectorizerConfig, docs [][]string) *Vectorizer {
	df := make(map[string]int)
	for _, doc := range docs {
		seen := make(map[string]struct{}, len(doc))
		for _, term := range doc {
			if _, ok := seen[term]; ok {
				continue
			}
			seen[term] = struct{}{}
			df[term]++
		}
	}

	if cfg.VocabularySize > 0 && len(df) > cfg.VocabularySize {
		type termFreq struct {
			term string
			df   int
		}
		ranked := make([]termFreq, 0, len(df))
		for term, n := range df {
			ranked = append(ranked, termFreq{term, n})
		}
		sort.Slice(ranked, func(i, j int) bool {
			if ranked[i].df != ranked[j].df {
				return ranked[i].df > ranked[j].df
			}
			return ranked[i].term < ranked[j].term
		})
		for _, dropped := range ranked[cfg.VocabularySize:] {
			delete(df, dropped.term)
		}
	}

	idf := make(map[string]float64, len(df))
	for term, n := range df {
		// Smoothed idf; stays positive even for terms in every document.
		idf[term] = math.Log(float64(1+len(docs))/float64(1+n)) + 1
	}

	return &Vectorizer{cfg: cfg, idf: idf, docCount: len(docs)}
}

// TokenizeFields splits one product's text fields into a token multiset
// under the configured term rules.
func TokenizeFields(cfg config.VectorizerConfig, fields []string) []string {
	minLen := cfg.MinTermLength
	if minLen <= 0 {
		minLen = 1
	}
	var tokens []string
	for _, f := range fields {
		tokens = append(tokens, tokenize(f, minLen)...)
	}
	return tokens
}

// Vectorize computes the tf-idf vector for a token multiset, normalized
// to unit length. Returns nil when no token survives the vocabulary,
// which callers treat as a degenerate document.
func (vz *Vectorizer) Vectorize(tokens []string) *TermVector {
	tf := make(map[string]int)
	for _, term := range tokens {
		if _, ok := vz.idf[term]; ok {
			tf[term]++
		}
	}
	if len(tf) == 0 {
		return nil
	}

	terms := make([]string, 0, len(tf))
	for term := range tf {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	weights := make([]float64, len(terms))
	total := float64(len(tokens))
	for i, term := range terms {
		weights[i] = (float64(tf[term]) / total) * vz.idf[term]
	}

	n := floats.Norm(weights, 2)
	if n == 0 {
		return nil
	}
	floats.Scale(1/n, weights)

	return &TermVector{Terms: terms, Weights: weights}
}

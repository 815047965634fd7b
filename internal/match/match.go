// Package match reconciles OCR text from a map screenshot with the tenant
// directory.
package match

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"tenant-locator/internal/directory"
	"tenant-locator/pkg/geometry"
)

// DefaultThreshold is the minimum score for a tenant to count as found.
const DefaultThreshold = 0.6

// Weights of the combined score.
const (
	semanticWeight = 0.7
	fuzzyWeight    = 0.3

	lengthRatioFloor = 0.4
	lengthPenalty    = 0.7
)

var (
	// ErrOCR wraps failures of the OCR engine.
	ErrOCR = errors.New("match: ocr failed")
	// ErrEmbedding wraps failures of the embedding model.
	ErrEmbedding = errors.New("match: embedding failed")
)

// Token is one text line recognised in an image.
type Token struct {
	Text       string        `json:"text"`
	BBox       geometry.Quad `json:"bbox"`
	Confidence float64       `json:"confidence"`
}

// Status of a tenant in an image.
type Status int

const (
	Missing Status = iota
	Found
)

func (s Status) String() string {
	if s == Found {
		return "Found"
	}
	return "Missing"
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(b []byte) error {
	switch string(b) {
	case "Found":
		*s = Found
	case "Missing":
		*s = Missing
	default:
		return fmt.Errorf("match: unknown status %q", b)
	}
	return nil
}

// Result is the outcome for one tenant. MatchedText, Score and BBox are set
// only when Status is Found.
type Result struct {
	Tenant      directory.Tenant `json:"tenant"`
	Status      Status           `json:"status"`
	MatchedText string           `json:"matched_text,omitempty"`
	Score       float64          `json:"score"`
	BBox        *geometry.Quad   `json:"bbox,omitempty"`
}

// OCREngine recognises text lines in an image.
type OCREngine interface {
	Recognize(ctx context.Context, img image.Image) ([]Token, error)
}

// EmbeddingModel maps texts to vectors. Vectors of one model share a length.
type EmbeddingModel interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// Index holds the tenant embeddings of a directory so they are computed once
// and reused for every image.
type Index struct {
	tenants []directory.Tenant
	vectors [][]float64
}

// NewIndex embeds every tenant name.
func NewIndex(ctx context.Context, model EmbeddingModel, tenants []directory.Tenant) (*Index, error) {
	names := make([]string, len(tenants))
	for i, t := range tenants {
		names[i] = t.Name
	}
	var vectors [][]float64
	if len(names) > 0 {
		var err error
		vectors, err = model.Embed(ctx, names)
		if err != nil {
			return nil, fmt.Errorf("%w: tenants: %w", ErrEmbedding, err)
		}
		if len(vectors) != len(names) {
			return nil, fmt.Errorf("%w: got %d vectors for %d tenants", ErrEmbedding, len(vectors), len(names))
		}
	}
	return &Index{tenants: tenants, vectors: vectors}, nil
}

// Tenants returns the indexed directory.
func (idx *Index) Tenants() []directory.Tenant {
	return idx.tenants
}

// Matcher runs OCR on screenshots and assigns tokens to tenants.
type Matcher struct {
	ocr    OCREngine
	model  EmbeddingModel
	logger *slog.Logger
}

// NewMatcher creates a Matcher. A nil logger uses slog.Default().
func NewMatcher(ocr OCREngine, model EmbeddingModel, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{ocr: ocr, model: model, logger: logger}
}

// Match recognises img and returns one result per indexed tenant, in
// directory order. An OCR failure yields all-Missing results together with
// the error.
func (m *Matcher) Match(ctx context.Context, idx *Index, img image.Image, threshold float64) ([]Result, error) {
	tokens, err := m.ocr.Recognize(ctx, img)
	if err != nil {
		m.logger.Error("ocr failed", "err", err)
		return allMissing(idx.tenants), fmt.Errorf("%w: %w", ErrOCR, err)
	}
	return m.MatchTokens(ctx, idx, tokens, threshold)
}

// MatchTokens assigns already recognised tokens to tenants.
func (m *Matcher) MatchTokens(ctx context.Context, idx *Index, tokens []Token, threshold float64) ([]Result, error) {
	kept := tokens[:0:0]
	for _, tok := range tokens {
		if strings.TrimSpace(tok.Text) != "" {
			kept = append(kept, tok)
		}
	}
	if len(kept) == 0 || len(idx.tenants) == 0 {
		m.logger.Info("no text to match", "tokens", len(tokens), "tenants", len(idx.tenants))
		return allMissing(idx.tenants), nil
	}

	texts := make([]string, len(kept))
	for i, tok := range kept {
		texts[i] = tok.Text
	}
	vectors, err := m.model.Embed(ctx, texts)
	if err != nil {
		return allMissing(idx.tenants), fmt.Errorf("%w: tokens: %w", ErrEmbedding, err)
	}
	if len(vectors) != len(texts) {
		return allMissing(idx.tenants), fmt.Errorf("%w: got %d vectors for %d tokens", ErrEmbedding, len(vectors), len(texts))
	}

	scores := make([][]float64, len(idx.tenants))
	for i, t := range idx.tenants {
		scores[i] = make([]float64, len(kept))
		for j, tok := range kept {
			scores[i][j] = Score(t.Name, tok.Text, Cosine(idx.vectors[i], vectors[j]))
		}
	}

	results := allMissing(idx.tenants)
	for _, a := range Assign(scores, threshold) {
		tok := kept[a.Token]
		bbox := tok.BBox
		results[a.Tenant].Status = Found
		results[a.Tenant].MatchedText = tok.Text
		results[a.Tenant].Score = a.Score
		results[a.Tenant].BBox = &bbox
	}

	found := 0
	for _, r := range results {
		if r.Status == Found {
			found++
		}
	}
	m.logger.Info("matched", "tenants", len(results), "tokens", len(kept), "found", found, "threshold", threshold)
	return results, nil
}

// Assignment pairs a tenant with a token.
type Assignment struct {
	Tenant int
	Token  int
	Score  float64
}

// Assign greedily pairs tenants with tokens from the highest score down,
// using each tenant and each token at most once and never accepting a score
// below threshold. Equal scores are taken in tenant order, then token order.
func Assign(scores [][]float64, threshold float64) []Assignment {
	var cands []Assignment
	for i, row := range scores {
		for j, s := range row {
			if s >= threshold {
				cands = append(cands, Assignment{Tenant: i, Token: j, Score: s})
			}
		}
	}
	sort.SliceStable(cands, func(a, b int) bool {
		return cands[a].Score > cands[b].Score
	})

	usedTenant := make(map[int]bool)
	usedToken := make(map[int]bool)
	var out []Assignment
	for _, c := range cands {
		if usedTenant[c.Tenant] || usedToken[c.Token] {
			continue
		}
		usedTenant[c.Tenant] = true
		usedToken[c.Token] = true
		out = append(out, c)
	}
	return out
}

// Score combines semantic similarity with the fuzzy token-set ratio. Pairs
// whose lengths differ too much are penalised.
func Score(tenant, token string, cosine float64) float64 {
	cosine = math.Max(0, math.Min(1, cosine))
	s := semanticWeight*cosine + fuzzyWeight*TokenSetRatio(tenant, token)/100

	a := utf8.RuneCountInString(strings.TrimSpace(tenant))
	b := utf8.RuneCountInString(strings.TrimSpace(token))
	if a > 0 && b > 0 && float64(min(a, b))/float64(max(a, b)) < lengthRatioFloor {
		s *= lengthPenalty
	}
	return s
}

// Cosine similarity of two vectors; 0 for empty, mismatched or zero vectors.
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func allMissing(tenants []directory.Tenant) []Result {
	out := make([]Result, len(tenants))
	for i, t := range tenants {
		out[i] = Result{Tenant: t, Status: Missing}
	}
	return out
}

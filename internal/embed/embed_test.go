package embed

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

func cosine(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestHashedDeterministicAndNormalised(t *testing.T) {
	h := NewHashed(0)
	a := h.Vector("Bath & Body Works")
	b := h.Vector("BATH AND BODY WORKS")
	if len(a) != DefaultDims {
		t.Fatalf("expected %d dims, got %d", DefaultDims, len(a))
	}
	if c := cosine(a, b); math.Abs(c-1) > 1e-9 {
		t.Fatalf("case and ampersand variants should be identical, cosine %f", c)
	}

	var norm float64
	for _, x := range a {
		norm += x * x
	}
	if math.Abs(norm-1) > 1e-9 {
		t.Fatalf("vector not unit length: %f", norm)
	}
}

func TestHashedSimilarity(t *testing.T) {
	h := NewHashed(256)
	base := h.Vector("Victoria's Secret")
	typo := h.Vector("VICTORIAS SECRFT")
	other := h.Vector("Food Court")
	if cosine(base, typo) <= cosine(base, other) {
		t.Fatalf("typo should be closer than an unrelated name: %f vs %f",
			cosine(base, typo), cosine(base, other))
	}
}

func TestHashedIsLexical(t *testing.T) {
	h := NewHashed(DefaultDims)
	if c := cosine(h.Vector("Cinema"), h.Vector("Movie Theater")); c > 0.3 {
		t.Fatalf("synonyms without shared text should not be similar, cosine %f", c)
	}
}

func TestHashedEmpty(t *testing.T) {
	vs, err := NewHashed(16).Embed(context.Background(), []string{"", "---"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vs) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(vs))
	}
	for _, x := range vs[1] {
		if x != 0 {
			t.Fatal("punctuation-only text should embed to the zero vector")
		}
	}
}

func TestOllamaEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var req ollamaEmbedReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Model != "nomic-embed-text" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(ollamaEmbedResp{Embedding: []float64{float64(len(req.Prompt)), 1}})
	}))
	defer srv.Close()

	o := NewOllama(srv.URL, "nomic-embed-text", 0)
	vs, err := o.Embed(context.Background(), []string{"H&M", "Zara!"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vs) != 2 || vs[0][0] != 3 || vs[1][0] != 5 {
		t.Fatalf("unexpected vectors %v", vs)
	}
}

func TestOllamaEmbedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := NewOllama(srv.URL, "m", 0).Embed(context.Background(), []string{"x"}); err == nil {
		t.Fatal("expected error on 500")
	}
}

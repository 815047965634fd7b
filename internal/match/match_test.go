package match

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"testing"

	"tenant-locator/internal/directory"
	"tenant-locator/internal/embed"
	"tenant-locator/pkg/geometry"
)

type fakeOCR struct {
	tokens []Token
	err    error
}

func (f fakeOCR) Recognize(context.Context, image.Image) ([]Token, error) {
	return f.tokens, f.err
}

type countingModel struct {
	embed.Hashed
	texts int
	calls int
}

func (c *countingModel) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	c.calls++
	c.texts += len(texts)
	return c.Hashed.Embed(ctx, texts)
}

func tenants(names ...string) []directory.Tenant {
	out := make([]directory.Tenant, len(names))
	for i, n := range names {
		out[i] = directory.Tenant{Name: n, FloorName: "Level 1"}
	}
	return out
}

func token(text string, x float64) Token {
	return Token{Text: text, BBox: geometry.QuadFromRect(geometry.NewRect(x, 10, 40, 12)), Confidence: 0.9}
}

func newMatcher(t *testing.T, ocr OCREngine, names ...string) (*Matcher, *Index) {
	t.Helper()
	model := embed.NewHashed(512)
	idx, err := NewIndex(context.Background(), model, tenants(names...))
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	return NewMatcher(ocr, model, nil), idx
}

func TestMatchCaseAndAmpersandVariant(t *testing.T) {
	ocr := fakeOCR{tokens: []Token{token("BATH AND BODY WORKS", 100)}}
	m, idx := newMatcher(t, ocr, "Bath & Body Works")

	results, err := m.Match(context.Background(), idx, nil, DefaultThreshold)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	r := results[0]
	if r.Status != Found || r.MatchedText != "BATH AND BODY WORKS" || r.BBox == nil {
		t.Fatalf("expected Found, got %+v", r)
	}
	if r.Score < 0.99 {
		t.Fatalf("expected near-perfect score, got %f", r.Score)
	}
}

func TestMatchUnrelatedShortName(t *testing.T) {
	ocr := fakeOCR{tokens: []Token{token("Food Court", 100)}}
	m, idx := newMatcher(t, ocr, "H&M")

	results, err := m.Match(context.Background(), idx, nil, DefaultThreshold)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if results[0].Status != Missing || results[0].BBox != nil {
		t.Fatalf("expected Missing, got %+v", results[0])
	}
}

func TestMatchIsInjective(t *testing.T) {
	ocr := fakeOCR{tokens: []Token{token("ZARA", 10), token("Forever 21", 200), token("zara", 400)}}
	m, idx := newMatcher(t, ocr, "Zara", "Zara", "Zara", "Forever 21")

	results, err := m.Match(context.Background(), idx, nil, 0.5)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("expected one result per tenant, got %d", len(results))
	}
	seen := make(map[string]bool)
	found := 0
	for _, r := range results {
		if r.Status != Found {
			continue
		}
		found++
		key := fmt.Sprintf("%s@%v", r.MatchedText, r.BBox.Bounds())
		if seen[key] {
			t.Fatalf("token %s assigned twice", key)
		}
		seen[key] = true
	}
	if found != 3 {
		t.Fatalf("expected 3 found (two Zara tokens and Forever 21), got %d", found)
	}
	if results[2].Status != Missing {
		t.Fatal("ties should go to earlier tenants first")
	}
}

func TestMatchThresholdMonotonic(t *testing.T) {
	ocr := fakeOCR{tokens: []Token{
		token("BATH & BODY WRKS", 0), token("Claire's", 100), token("Footlocker", 200),
		token("Sunglass Hut", 300), token("SALE 50%", 400),
	}}
	m, idx := newMatcher(t, ocr, "Bath & Body Works", "Claire's", "Foot Locker", "Sunglass Hut", "Apple")

	var prev map[string]bool
	for _, th := range []float64{0.2, 0.4, 0.6, 0.8, 0.95} {
		results, err := m.Match(context.Background(), idx, nil, th)
		if err != nil {
			t.Fatalf("Match: %v", err)
		}
		cur := make(map[string]bool)
		for _, r := range results {
			if r.Status == Found {
				if r.Score < th {
					t.Fatalf("accepted score %f below threshold %f", r.Score, th)
				}
				cur[r.Tenant.Name] = true
			}
		}
		for name := range cur {
			if prev != nil && !prev[name] {
				t.Fatalf("%s found at %.2f but not at a lower threshold", name, th)
			}
		}
		prev = cur
	}
}

func TestMatchNoTokens(t *testing.T) {
	m, idx := newMatcher(t, fakeOCR{tokens: []Token{{Text: "   "}}}, "Zara", "H&M")
	results, err := m.Match(context.Background(), idx, nil, DefaultThreshold)
	if err != nil {
		t.Fatalf("empty OCR must not be an error: %v", err)
	}
	for _, r := range results {
		if r.Status != Missing {
			t.Fatalf("expected all Missing, got %+v", r)
		}
	}
}

func TestMatchOCRFailure(t *testing.T) {
	boom := errors.New("tesseract crashed")
	m, idx := newMatcher(t, fakeOCR{err: boom}, "Zara", "H&M")
	results, err := m.Match(context.Background(), idx, nil, DefaultThreshold)
	if !errors.Is(err, ErrOCR) || !errors.Is(err, boom) {
		t.Fatalf("expected wrapped OCR error, got %v", err)
	}
	if len(results) != 2 || results[0].Status != Missing || results[1].Status != Missing {
		t.Fatalf("expected all Missing, got %+v", results)
	}
}

func TestIndexEmbedsTenantsOnce(t *testing.T) {
	model := &countingModel{Hashed: embed.NewHashed(64)}
	idx, err := NewIndex(context.Background(), model, tenants("Zara", "H&M", "Apple"))
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	m := NewMatcher(fakeOCR{tokens: []Token{token("ZARA", 0)}}, model, nil)
	for i := 0; i < 3; i++ {
		if _, err := m.Match(context.Background(), idx, nil, DefaultThreshold); err != nil {
			t.Fatalf("Match: %v", err)
		}
	}
	if model.calls != 4 || model.texts != 3+3 {
		t.Fatalf("calls=%d texts=%d", model.calls, model.texts)
	}
}

func TestAssignTieBreak(t *testing.T) {
	scores := [][]float64{
		{0.9, 0.9},
		{0.9, 0.9},
	}
	got := Assign(scores, 0.5)
	if len(got) != 2 || got[0].Tenant != 0 || got[0].Token != 0 || got[1].Tenant != 1 || got[1].Token != 1 {
		t.Fatalf("unexpected assignment %+v", got)
	}
	if len(Assign(scores, 0.95)) != 0 {
		t.Fatal("nothing should pass a 0.95 threshold")
	}
}

func TestScore(t *testing.T) {
	if got := Score("Zara", "Zara", -0.5); math.Abs(got-0.3) > 1e-9 {
		t.Fatalf("negative cosine should clamp to 0, got %f", got)
	}
	want := (0.7 + 0.3*TokenSetRatio("Bath & Body Works", "BBW")/100) * 0.7
	if got := Score("Bath & Body Works", "BBW", 1); math.Abs(got-want) > 1e-9 {
		t.Fatalf("length penalty: got %f want %f", got, want)
	}
	if got := Score("Zara", "ZARA", 1); math.Abs(got-1) > 1e-9 {
		t.Fatalf("identical names should score 1, got %f", got)
	}
}

func TestTokenSetRatio(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"Bath & Body Works", "BATH AND BODY WORKS", 100},
		{"Bath & Body Works", "body works", 100},
		{"Zara", "", 0},
		{"abc", "xyz", 0},
	}
	for _, tt := range tests {
		if got := TokenSetRatio(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("TokenSetRatio(%q, %q) = %f, want %f", tt.a, tt.b, got, tt.want)
		}
	}
	if got := TokenSetRatio("Foot Locker", "Footlocker"); got <= 50 || got >= 100 {
		t.Errorf("TokenSetRatio(Foot Locker, Footlocker) = %f", got)
	}
}

func TestTable(t *testing.T) {
	q := geometry.QuadFromRect(geometry.NewRect(0, 0, 1, 1))
	results := []Result{
		{Tenant: directory.Tenant{Name: "Zara", FloorName: "Level 2"}, Status: Found, MatchedText: "ZARA", Score: 0.97, BBox: &q},
		{Tenant: directory.Tenant{Name: "H&M"}, Status: Missing},
	}
	rows := Table(results)
	if rows[0].Floor != "Level 2" || rows[0].Status != Found || rows[1].MatchedText != "" {
		t.Fatalf("unexpected rows %+v", rows)
	}
	if f, m := Counts(results); f != 1 || m != 1 {
		t.Fatalf("counts %d/%d", f, m)
	}
}

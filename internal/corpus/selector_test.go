package corpus

import (
	"math"
	"testing"
)

func TestYearWeight(t *testing.T) {
	cases := []struct {
		name                string
		year, current, wind int
		want                float64
	}{
		{"current year", 2026, 2026, 5, 1.0},
		{"one year old", 2025, 2026, 5, 0.9},
		{"window edge", 2021, 2026, 5, 0.5},
		{"outside window", 2020, 2026, 5, 0},
		{"future year clamps", 2027, 2026, 5, 1.0},
		{"missing year", 0, 2026, 5, 0},
		{"zero window", 2026, 2026, 0, 0},
	}
	for _, tc := range cases {
		if got := yearWeight(tc.year, tc.current, tc.wind); math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("%s: yearWeight = %f, want %f", tc.name, got, tc.want)
		}
	}
}

func TestNormalizeTitle(t *testing.T) {
	cases := map[string]string{
		"  3D Gaussian   Splatting ": "3d gaussian splatting",
		"NeRF":                       "nerf",
		"":                           "",
		"\tMip-NeRF\n360\n":          "mip-nerf 360",
	}
	for in, want := range cases {
		if got := normalizeTitle(in); got != want {
			t.Errorf("normalizeTitle(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDedupeSkipsSeedAndDuplicates(t *testing.T) {
	seed := Candidate{
		ID:          "ss-seed",
		Title:       "3D Gaussian Splatting",
		ExternalIDs: map[string]string{"ArXiv": "2308.04079"},
	}
	pool := []Candidate{
		{ID: "ss-seed", Title: "3D Gaussian Splatting"},                        // seed by id
		{ID: "arxiv:2308.04079", Title: "3DGS preprint"},                       // seed via arxiv id
		{ID: "ss-2", Title: "3d  gaussian splatting"},                          // seed via normalized title
		{ID: "ss-1", Title: "Plenoxels", ExternalIDs: map[string]string{"ArXiv": "2112.05131"}},
		{ID: "arxiv:2112.05131", Title: "Plenoxels radiance fields"},            // dup via arxiv id
		{ID: "ss-3", Title: "plenoxels"},                                       // dup via title
		{ID: "", Title: "no id"},
		{ID: "ss-4", Title: ""},
		{ID: "ss-5", Title: "Instant NGP"},
	}
	out := dedupe(pool, seed)
	if len(out) != 2 {
		t.Fatalf("expected 2 survivors, got %d: %+v", len(out), out)
	}
	if out[0].ID != "ss-1" || out[1].ID != "ss-5" {
		t.Fatalf("unexpected survivors: %+v", out)
	}
}

func TestConfigNormalizedDefaults(t *testing.T) {
	c := Config{}.normalized()
	if c.SimilarityThreshold != 0.7 {
		t.Errorf("SimilarityThreshold = %f", c.SimilarityThreshold)
	}
	if c.MaxCandidatesToEmbed != 500 || c.MaxSelectedPapers != 100 {
		t.Errorf("candidate caps = %d/%d", c.MaxCandidatesToEmbed, c.MaxSelectedPapers)
	}
	if c.CitationLimit != 100 || c.ReferenceLimit != 100 || c.KeywordLimit != 50 || c.ArxivLimit != 60 {
		t.Errorf("pool limits = %d/%d/%d/%d", c.CitationLimit, c.ReferenceLimit, c.KeywordLimit, c.ArxivLimit)
	}
	if c.TemporalRerank.SimilarityWeight != 0.7 || c.TemporalRerank.YearWeight != 0.3 || c.TemporalRerank.RecencyWindowYrs != 5 {
		t.Errorf("temporal rerank defaults = %+v", c.TemporalRerank)
	}

	// Explicit values survive normalization.
	c = Config{SimilarityThreshold: 0.8, MaxSelectedPapers: 10}.normalized()
	if c.SimilarityThreshold != 0.8 || c.MaxSelectedPapers != 10 {
		t.Errorf("explicit values overwritten: %+v", c)
	}
}

func TestEmbeddingText(t *testing.T) {
	c := Candidate{Title: "NeRF", Abstract: "We present a method."}
	if got := embeddingText(c); got != "NeRF\n\nWe present a method." {
		t.Errorf("embeddingText = %q", got)
	}
	c.Abstract = ""
	if got := embeddingText(c); got != "NeRF" {
		t.Errorf("title-only embeddingText = %q", got)
	}
}

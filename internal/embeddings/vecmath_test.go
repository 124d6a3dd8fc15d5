package embeddings

import (
	"math"
	"testing"
)

func TestCosine(t *testing.T) {
	cases := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"scaled", []float32{1, 1}, []float32{3, 3}, 1},
		{"length mismatch", []float32{1, 2}, []float32{1, 2, 3}, 0},
		{"empty", nil, nil, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
	}
	for _, tc := range cases {
		if got := Cosine(tc.a, tc.b); math.Abs(got-tc.want) > 1e-6 {
			t.Errorf("%s: Cosine = %f, want %f", tc.name, got, tc.want)
		}
	}
}

func TestNormalizeL2(t *testing.T) {
	out := NormalizeL2([]float32{3, 4})
	if math.Abs(float64(out[0])-0.6) > 1e-6 || math.Abs(float64(out[1])-0.8) > 1e-6 {
		t.Fatalf("NormalizeL2(3,4) = %v", out)
	}

	var sum float64
	for _, f := range out {
		sum += float64(f) * float64(f)
	}
	if math.Abs(sum-1) > 1e-6 {
		t.Fatalf("norm = %f, want 1", math.Sqrt(sum))
	}

	zero := NormalizeL2([]float32{0, 0, 0})
	for _, f := range zero {
		if f != 0 {
			t.Fatalf("zero vector should stay zero: %v", zero)
		}
	}

	in := []float32{3, 4}
	_ = NormalizeL2(in)
	if in[0] != 3 || in[1] != 4 {
		t.Fatalf("input mutated: %v", in)
	}
}

func TestReduce(t *testing.T) {
	v := make([]float32, 1536)
	for i := range v {
		v[i] = float32(i + 1)
	}
	out := Reduce(v, 768)
	if len(out) != 768 {
		t.Fatalf("len = %d, want 768", len(out))
	}
	var sum float64
	for _, f := range out {
		sum += float64(f) * float64(f)
	}
	if math.Abs(sum-1) > 1e-5 {
		t.Fatalf("reduced vector not unit norm: %f", math.Sqrt(sum))
	}

	short := []float32{3, 4}
	out = Reduce(short, 768)
	if len(out) != 2 {
		t.Fatalf("short input should keep its length, got %d", len(out))
	}
	if math.Abs(float64(out[0])-0.6) > 1e-6 {
		t.Fatalf("short input should still normalize: %v", out)
	}
}

package resolve

import "testing"

func TestCanonicalizeBasicForms(t *testing.T) {
	cases := map[string]string{
		"Neural Radiance Fields":    "neural_radiance_fields",
		"  3D Gaussian Splatting  ": "3d_gaussian_splatting",
		"NeRF (Neural Radiance Field)": "neural_radiance_field",
		"self-supervised learning": "self_supervised_learning",
		"PSNR/SSIM metrics":        "psnrssim_metrics",
	}
	for in, want := range cases {
		if got := Canonicalize(in); got != want {
			t.Errorf("Canonicalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCanonicalizeKeepsParentheticalAlias(t *testing.T) {
	if got := Canonicalize("Structure from Motion (SfM)"); got != "sfm" {
		t.Fatalf("got %q", got)
	}
	// A parenthetical not at the end is plain punctuation, not an alias.
	if got := Canonicalize("(deep) ensembles"); got != "deep_ensembles" {
		t.Fatalf("got %q", got)
	}
}

func TestCanonicalizeIdempotent(t *testing.T) {
	inputs := []string{
		"Neural Radiance Fields (NeRF)",
		"3D Gaussian Splatting",
		"multi-view   stereo",
		"COLMAP",
	}
	for _, in := range inputs {
		once := Canonicalize(in)
		twice := Canonicalize(once)
		if once != twice {
			t.Errorf("not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestCanonicalizeMemoReturnsSameValue(t *testing.T) {
	first := Canonicalize("Chamfer Distance")
	second := Canonicalize("Chamfer Distance")
	if first != second {
		t.Fatalf("memoized call differs: %q vs %q", first, second)
	}
}

package nlp_test

import (
	"math"
	"testing"

	"github.com/verdictlabs/verdict/engine/internal/nlp"
)

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestRougeN_Identity_ExactlyOne(t *testing.T) {
	inputs := []string{
		"hello world",
		"The quick brown fox jumps over the lazy dog",
		"one",
	}
	for _, in := range inputs {
		for n := 1; n <= 2; n++ {
			if len(nlp.Tokenize(in)) < n {
				continue
			}
			s := nlp.RougeN(in, in, n)
			if s.F1 != 1.0 {
				t.Errorf("RougeN(%q, %q, %d).F1: got %v, want exactly 1.0", in, in, n, s.F1)
			}
			if s.Precision != 1.0 || s.Recall != 1.0 {
				t.Errorf("RougeN identity precision/recall: got %v/%v, want 1.0/1.0", s.Precision, s.Recall)
			}
		}
	}
}

func TestRougeN_PartialOverlap(t *testing.T) {
	tests := []struct {
		name      string
		candidate string
		reference string
		n         int
		want      nlp.Score
	}{
		{
			name:      "unigram overlap five of six",
			candidate: "the cat sat on the mat",
			reference: "the cat is on the mat",
			n:         1,
			want:      nlp.Score{Precision: 5.0 / 6, Recall: 5.0 / 6, F1: 5.0 / 6},
		},
		{
			name:      "bigram overlap three of five",
			candidate: "the cat sat on the mat",
			reference: "the cat is on the mat",
			n:         2,
			want:      nlp.Score{Precision: 0.6, Recall: 0.6, F1: 0.6},
		},
		{
			name:      "disjoint",
			candidate: "alpha beta",
			reference: "gamma delta",
			n:         1,
			want:      nlp.Score{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := nlp.RougeN(tt.candidate, tt.reference, tt.n)
			if !approxEqual(got.Precision, tt.want.Precision) {
				t.Errorf("Precision: got %v, want %v", got.Precision, tt.want.Precision)
			}
			if !approxEqual(got.Recall, tt.want.Recall) {
				t.Errorf("Recall: got %v, want %v", got.Recall, tt.want.Recall)
			}
			if !approxEqual(got.F1, tt.want.F1) {
				t.Errorf("F1: got %v, want %v", got.F1, tt.want.F1)
			}
		})
	}
}

func TestRougeN_Empty(t *testing.T) {
	if s := nlp.RougeN("", "", 1); s.F1 != 1.0 {
		t.Errorf("both empty: got %v, want 1.0", s.F1)
	}
	if s := nlp.RougeN("words here", "", 1); s.F1 != 0 {
		t.Errorf("empty reference: got %v, want 0", s.F1)
	}
	if s := nlp.RougeN("", "words here", 1); s.F1 != 0 {
		t.Errorf("empty candidate: got %v, want 0", s.F1)
	}
}

func TestRougeN_CaseAndPunctuationInsensitive(t *testing.T) {
	s := nlp.RougeN("Hello, World!", "hello world", 1)
	if s.F1 != 1.0 {
		t.Errorf("F1: got %v, want 1.0 after normalization", s.F1)
	}
}

func TestBLEU_Identity_ExactlyOne(t *testing.T) {
	inputs := []string{
		"hello world",
		"The quick brown fox jumps over the lazy dog",
		"one two three",
	}
	for _, in := range inputs {
		if got := nlp.BLEU(in, in); got != 1.0 {
			t.Errorf("BLEU(%q, %q): got %v, want exactly 1.0", in, in, got)
		}
	}
}

func TestBLEU_NearMissStaysLow(t *testing.T) {
	got := nlp.BLEU("the cat sat on the mat", "the cat is on the mat")
	if got <= 0 {
		t.Errorf("smoothed BLEU should stay above zero, got %v", got)
	}
	if got >= 0.5 {
		t.Errorf("one-word substitution in six should score well below 0.5, got %v", got)
	}
}

func TestBLEU_BrevityPenalty(t *testing.T) {
	// Perfect prefix, half the reference length: precisions are 1 but the
	// brevity penalty caps the score at exp(1 - r/c).
	got := nlp.BLEU("the quick brown fox", "the quick brown fox jumps over the lazy dog")
	want := math.Exp(1 - 9.0/4.0)
	if !approxEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestBLEU_Empty(t *testing.T) {
	if got := nlp.BLEU("", ""); got != 1.0 {
		t.Errorf("both empty: got %v, want 1.0", got)
	}
	if got := nlp.BLEU("something", ""); got != 0 {
		t.Errorf("empty reference: got %v, want 0", got)
	}
}

func TestGLEU_Identity_ExactlyOne(t *testing.T) {
	if got := nlp.GLEU("hello world again", "hello world again"); got != 1.0 {
		t.Errorf("got %v, want exactly 1.0", got)
	}
}

func TestGLEU_MinOfPrecisionRecall(t *testing.T) {
	// Candidate is a strict prefix: precision pooled over orders is 1,
	// recall is lower, so GLEU returns the recall side.
	got := nlp.GLEU("the quick brown", "the quick brown fox")
	// cand grams: 3+2+1 = 6 all matching; ref grams: 4+3+2+1 = 10.
	want := 6.0 / 10.0
	if !approxEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestMETEOR_IdenticalNearOne(t *testing.T) {
	got := nlp.METEOR("the cat sat on the mat", "the cat sat on the mat")
	// Exact match leaves one chunk over six matches; the fragmentation
	// penalty keeps the score just under 1.
	if got < 0.99 || got > 1.0 {
		t.Errorf("got %v, want within (0.99, 1.0]", got)
	}
}

func TestMETEOR_OrderingMatters(t *testing.T) {
	inOrder := nlp.METEOR("the cat sat on the mat", "the cat is on the mat")
	scrambled := nlp.METEOR("mat the on sat cat the", "the cat is on the mat")
	if inOrder <= scrambled {
		t.Errorf("in-order candidate should outscore scrambled: %v vs %v", inOrder, scrambled)
	}
}

func TestMETEOR_NoOverlap(t *testing.T) {
	if got := nlp.METEOR("alpha beta gamma", "delta epsilon zeta"); got != 0 {
		t.Errorf("got %v, want 0", got)
	}
}

func TestFScore_BetaWeighting(t *testing.T) {
	// candidate hits 2 of 4 reference tokens with 2 candidate tokens:
	// precision 1.0, recall 0.5.
	candidate := "alpha beta"
	reference := "alpha beta gamma delta"

	balanced := nlp.FScore(candidate, reference, 1)
	if !approxEqual(balanced.Precision, 1.0) || !approxEqual(balanced.Recall, 0.5) {
		t.Fatalf("precision/recall: got %v/%v, want 1.0/0.5", balanced.Precision, balanced.Recall)
	}
	if !approxEqual(balanced.F1, 2.0/3.0) {
		t.Errorf("F1: got %v, want %v", balanced.F1, 2.0/3.0)
	}

	recallHeavy := nlp.FScore(candidate, reference, 2)
	// F2 = 5 * P * R / (4P + R) = 5*0.5 / 4.5
	if !approxEqual(recallHeavy.F1, 2.5/4.5) {
		t.Errorf("F2: got %v, want %v", recallHeavy.F1, 2.5/4.5)
	}
	if recallHeavy.F1 >= balanced.F1 {
		t.Error("recall-weighted score should drop when recall is the weak side")
	}

	precisionHeavy := nlp.FScore(candidate, reference, 0.5)
	if precisionHeavy.F1 <= balanced.F1 {
		t.Error("precision-weighted score should rise when precision is the strong side")
	}
}

func TestTokenize(t *testing.T) {
	got := nlp.Tokenize("Hello, World! It's 42.")
	want := []string{"hello", "world", "it", "s", "42"}
	if len(got) != len(want) {
		t.Fatalf("token count: got %d (%v), want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token[%d]: got %q, want %q", i, got[i], want[i])
		}
	}
}

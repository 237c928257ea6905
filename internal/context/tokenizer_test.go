package context

import "testing"

func TestTokenizer_Count(t *testing.T) {
	tok, err := NewTokenizer()
	if err != nil {
		t.Fatalf("NewTokenizer: %v", err)
	}

	n := tok.Count("The quick brown fox jumps over the lazy dog.")
	if n <= 0 {
		t.Errorf("expected positive token count, got %d", n)
	}

	long := tok.Count("The quick brown fox jumps over the lazy dog. The quick brown fox jumps over the lazy dog.")
	if long <= n {
		t.Errorf("longer text should count more tokens: %d vs %d", long, n)
	}
}

func TestTokenizer_Count_EmptyString(t *testing.T) {
	tok, err := NewTokenizer()
	if err != nil {
		t.Fatalf("NewTokenizer: %v", err)
	}
	if n := tok.Count(""); n != 0 {
		t.Errorf("empty string should count 0 tokens, got %d", n)
	}
	if n := tok.Count("   \n\t"); n != 0 {
		t.Errorf("whitespace should count 0 tokens, got %d", n)
	}
}

func TestTokenizer_Truncate(t *testing.T) {
	tok, err := NewTokenizer()
	if err != nil {
		t.Fatalf("NewTokenizer: %v", err)
	}

	s := "The quick brown fox jumps over the lazy dog, again and again and again."
	short := tok.Truncate(s, 5)
	if tok.Count(short) > 5 {
		t.Errorf("truncated text counts %d tokens, want <= 5", tok.Count(short))
	}
	if len(short) >= len(s) {
		t.Errorf("truncation should shorten the text: %q", short)
	}

	if got := tok.Truncate(s, 10000); got != s {
		t.Errorf("truncation under the limit should be a no-op")
	}
}

package chunker

import (
	"strings"
	"testing"
)

func TestSplitRoundTrip(t *testing.T) {
	inputs := []string{
		"This is a reasonably long sentence that should split. And this is the remainder.",
		"A short one.",
		"",
		"价格是3.14元，时间是12:30，今天是2023-01-01。这是一个比较长的中文句子。",
	}
	for _, in := range inputs {
		chunk, remainder := Split(in, English)
		got := remainder
		if chunk != nil {
			got = *chunk + remainder
		}
		if got != in {
			t.Fatalf("round trip broken for %q: got %q", in, got)
		}
	}
}

func TestSplitNoSafePointReturnsNil(t *testing.T) {
	chunk, remainder := Split("too short.", English)
	if chunk != nil {
		t.Fatalf("expected no split for short text, got chunk %q", *chunk)
	}
	if remainder != "too short." {
		t.Fatalf("expected remainder to equal input, got %q", remainder)
	}
}

func TestSplitRejectsDecimalNumeral(t *testing.T) {
	text := "The value is precisely 3.14 and that matters a whole lot here."
	chunk, _ := Split(text, English)
	if chunk != nil && strings.HasSuffix(*chunk, "3.") {
		t.Fatalf("split inside a decimal numeral: %q", *chunk)
	}
}

func TestSplitRejectsHyphenCompound(t *testing.T) {
	text := "This is a well-known fact about a reasonably long sentence here."
	chunk, _ := Split(text, English)
	if chunk != nil && strings.HasSuffix(*chunk, "well-") {
		t.Fatalf("split inside a hyphenated compound: %q", *chunk)
	}
}

func TestSplitChineseMinChunkSize(t *testing.T) {
	chunk, remainder := Split("短句。", Chinese)
	if chunk != nil {
		t.Fatalf("expected no split below min chunk size, got %q / %q", *chunk, remainder)
	}
}

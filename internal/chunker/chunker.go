// Package chunker implements the language-aware sentence/clause splitter of
// §4.4: it finds safe points to flush partial LLM output to TTS, rejecting
// splits that would land inside a numeral, a time/date literal, an
// abbreviation, a hyphenated compound, an ellipsis, or (in Arabic) just
// before the definite article or across a tatweel.
//
// Grounded on the teacher's pipeline.sentenceBuffer/splitAtSentence (single
// English ender table, word-boundary guard) generalized to three languages
// and the additional safety rules above.
package chunker

import "unicode"

// Language selects the terminator table and minimum chunk size.
type Language string

const (
	English Language = "en"
	Chinese Language = "zh"
	Arabic  Language = "ar"
)

// minChunkSize returns the minimum character count (in runes) a chunk must
// reach before a split is even considered, calibrated to language density.
func minChunkSize(lang Language) int {
	switch lang {
	case Chinese:
		return 10
	case Arabic:
		return 10
	default:
		return 30
	}
}

type terminatorSpec struct {
	runes              map[rune]bool
	requiresTrailingWS bool // Latin punctuation needs a following space/EOF to count as a boundary
}

func terminatorsFor(lang Language) terminatorSpec {
	switch lang {
	case Chinese:
		return terminatorSpec{runes: runeSet("。？！，：；—"), requiresTrailingWS: false}
	case Arabic:
		return terminatorSpec{runes: runeSet("؟؛،ـ۔"), requiresTrailingWS: false}
	default:
		return terminatorSpec{runes: runeSet(".?!;:,-"), requiresTrailingWS: true}
	}
}

func runeSet(s string) map[rune]bool {
	m := make(map[rune]bool, len(s))
	for _, r := range s {
		m[r] = true
	}
	return m
}

var ellipsisRunes = runeSet("…⋯")

const tatweel = 'ـ'

// Split finds the earliest safe break point at or after minChunkSize(lang)
// and returns (chunk, remainder) such that chunk+remainder == text. If no
// safe split exists, returns (nil, text) — Split is a total function.
func Split(text string, lang Language) (chunk *string, remainder string) {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil, text
	}

	spec := terminatorsFor(lang)
	minLen := minChunkSize(lang)

	for i := 0; i < len(runes); i++ {
		r := runes[i]

		isTerminator := spec.runes[r] || r == '\n' || ellipsisRunes[r]
		if !isTerminator {
			continue
		}

		splitIdx := i + 1 // split after the terminator rune
		if splitIdx < minLen {
			continue
		}

		if !isSafeSplit(runes, i, spec) {
			continue
		}

		if spec.requiresTrailingWS && splitIdx < len(runes) {
			next := runes[splitIdx]
			if next != ' ' && next != '\n' && next != '\t' {
				continue
			}
		}

		s := string(runes[:splitIdx])
		return &s, string(runes[splitIdx:])
	}

	return nil, text
}

// isSafeSplit applies the rejection rules from §4.4 to a terminator
// candidate at runes[idx].
func isSafeSplit(runes []rune, idx int, spec terminatorSpec) bool {
	r := runes[idx]

	// Tatweel is never a break point, even though it appears in the Arabic
	// terminator table (it is elongation, not punctuation).
	if r == tatweel {
		return false
	}

	// Mid-ellipsis: never split between two consecutive periods/ellipsis
	// runes; only the final one in a run is eligible.
	if (r == '.' || ellipsisRunes[r]) && idx+1 < len(runes) {
		next := runes[idx+1]
		if next == '.' || ellipsisRunes[next] {
			return false
		}
	}

	// Decimal / grouped numerals: "3.14", "1,000".
	if (r == '.' || r == ',') && idx > 0 && idx+1 < len(runes) {
		if isDigit(runes[idx-1]) && isDigit(runes[idx+1]) {
			return false
		}
	}

	// Time / date literals: "12:30", "2023-01-01".
	if (r == ':' || r == '-') && idx > 0 && idx+1 < len(runes) {
		if isDigit(runes[idx-1]) && isDigit(runes[idx+1]) {
			return false
		}
	}

	// Hyphen-joined compounds: "well-known" (non-digit letters on both sides).
	if r == '-' && idx > 0 && idx+1 < len(runes) {
		if isWordChar(runes[idx-1]) && isWordChar(runes[idx+1]) {
			return false
		}
	}

	// Abbreviations: a single uppercase letter immediately before the period,
	// itself preceded by start-of-text, space, or another such initial.
	if r == '.' && idx > 0 && unicode.IsUpper(runes[idx-1]) {
		before := idx - 1
		isInitial := before == 0 || runes[before-1] == ' ' || runes[before-1] == '.'
		if isInitial {
			return false
		}
	}

	// Arabic: never split immediately before the definite article "ال".
	if idx+2 < len(runes) && runes[idx+1] == 'ا' && runes[idx+2] == 'ل' {
		return false
	}

	return true
}

func isDigit(r rune) bool {
	return unicode.IsDigit(r)
}

func isWordChar(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

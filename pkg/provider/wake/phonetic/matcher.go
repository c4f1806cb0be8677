package phonetic

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// Matcher finds trigger phrases in transcribed text.
//
// A phrase matches a window of the transcript with the same number of words
// when both hold:
//
//  1. Every phrase word shares a Double Metaphone code with some window word.
//  2. The Jaro-Winkler similarity of the window and the phrase (compared as
//     spaced and as concatenated strings) reaches Threshold.
//
// Without a phonetic match a window still matches when its similarity alone
// reaches FuzzyThreshold, which catches transcriptions like "hey jeff".
type Matcher struct {
	Threshold      float64
	FuzzyThreshold float64
}

// MatcherForSensitivity maps sensitivity in [0,1] to thresholds. Sensitivity
// 0.7 yields 0.74 / 0.84.
func MatcherForSensitivity(sensitivity float64) Matcher {
	sensitivity = min(max(sensitivity, 0), 1)
	th := 0.95 - 0.3*sensitivity
	return Matcher{Threshold: th, FuzzyThreshold: min(th+0.1, 0.98)}
}

// Match returns the index of the best matching phrase and its score, or
// (-1, 0) when nothing matches.
func (m Matcher) Match(transcript string, phrases []string) (int, float64) {
	words := normalize(transcript)
	if len(words) == 0 {
		return -1, 0
	}
	best, bestScore := -1, 0.0
	for i, phrase := range phrases {
		pw := normalize(phrase)
		if len(pw) == 0 {
			continue
		}
		score, ok := m.matchWindows(words, pw)
		if ok && score > bestScore {
			best, bestScore = i, score
		}
	}
	return best, bestScore
}

func (m Matcher) matchWindows(words, phrase []string) (float64, bool) {
	phraseCodes := make([]map[string]struct{}, len(phrase))
	for i, w := range phrase {
		phraseCodes[i] = codesForTokens([]string{w})
	}
	n := len(phrase)

	var bestScore float64
	var found bool
	for start := 0; start+n <= len(words); start++ {
		window := words[start : start+n]
		score := jwScore(window, phrase)
		windowCodes := codesForTokens(window)

		phonetic := true
		for _, pc := range phraseCodes {
			if len(pc) > 0 && !codesOverlap(pc, windowCodes) {
				phonetic = false
				break
			}
		}
		if (phonetic && score >= m.Threshold) || score >= m.FuzzyThreshold {
			if score > bestScore {
				bestScore, found = score, true
			}
		}
	}
	return bestScore, found
}

// normalize lowercases s and splits it into words, dropping punctuation.
func normalize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// jwScore compares the window and phrase as spaced and as concatenated
// strings and returns the higher Jaro-Winkler similarity.
func jwScore(window, phrase []string) float64 {
	score := matchr.JaroWinkler(strings.Join(window, " "), strings.Join(phrase, " "), false)
	if len(window) > 1 || len(phrase) > 1 {
		if s := matchr.JaroWinkler(strings.Join(window, ""), strings.Join(phrase, ""), false); s > score {
			score = s
		}
	}
	return score
}

package memories

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// KnownTags lists the tag labels the service understands, in display order.
var KnownTags = []string{
	"Language",
	"Motor Skills",
	"Emotional",
	"Social",
	"Milestone",
	"Play",
	"Family",
	"Funny",
	"Growth",
	"Challenge",
}

const (
	phoneticThreshold = 0.70
	fuzzyThreshold    = 0.85
)

// CanonicalTag maps free user input to a label from [KnownTags].
//
// Exact matches on the label or its constant form ("MOTOR_SKILLS") win,
// case-insensitively. Otherwise a candidate whose Double Metaphone codes
// overlap the input is accepted when its Jaro-Winkler score reaches 0.70;
// without a phonetic candidate a plain Jaro-Winkler score of 0.85 is
// required. ok is false when nothing is close enough.
func CanonicalTag(input string) (label string, ok bool) {
	in := strings.ToLower(strings.TrimSpace(input))
	if in == "" {
		return "", false
	}
	for _, tag := range KnownTags {
		lower := strings.ToLower(tag)
		if in == lower || in == strings.ReplaceAll(lower, " ", "_") {
			return tag, true
		}
	}

	inTokens := strings.Fields(strings.ReplaceAll(in, "_", " "))
	inCodes := metaphoneCodes(inTokens)

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)
	for _, tag := range KnownTags {
		lower := strings.ToLower(tag)
		tagTokens := strings.Fields(lower)
		score := similarity(inTokens, tagTokens, strings.Join(inTokens, " "), lower)

		if sharesCode(inCodes, metaphoneCodes(tagTokens)) {
			if score >= phoneticThreshold && (!bestPhonetic || score > bestScore) {
				best, bestScore, bestPhonetic = tag, score, true
			}
		} else if !bestPhonetic && score >= fuzzyThreshold && score > bestScore {
			best, bestScore = tag, score
		}
	}
	return best, best != ""
}

// CanonicalTags canonicalises every input, dropping duplicates. Inputs that
// match no known tag are returned in unknown.
func CanonicalTags(inputs []string) (labels, unknown []string) {
	seen := make(map[string]bool, len(inputs))
	for _, in := range inputs {
		tag, ok := CanonicalTag(in)
		if !ok {
			if strings.TrimSpace(in) != "" {
				unknown = append(unknown, in)
			}
			continue
		}
		if !seen[tag] {
			seen[tag] = true
			labels = append(labels, tag)
		}
	}
	return labels, unknown
}

func metaphoneCodes(tokens []string) map[string]struct{} {
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

func sharesCode(a, b map[string]struct{}) bool {
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

// similarity is the best Jaro-Winkler score over the full strings, the
// space-stripped strings and every token pair.
func similarity(inTokens, tagTokens []string, inFull, tagFull string) float64 {
	score := matchr.JaroWinkler(inFull, tagFull, false)
	if len(inTokens) > 1 || len(tagTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(inTokens, ""), strings.Join(tagTokens, ""), false); s > score {
			score = s
		}
	}
	for _, it := range inTokens {
		for _, tt := range tagTokens {
			if s := matchr.JaroWinkler(it, tt, false); s > score {
				score = s
			}
		}
	}
	return score
}

package match

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hbollon/go-edlib"
)

// Normalize lowercases s, spells out "&" and turns every other
// non-alphanumeric rune into a space.
func Normalize(s string) string {
	s = strings.ReplaceAll(strings.ToLower(s), "&", " and ")
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// TokenSetRatio compares the word sets of a and b on a 0..100 scale. Shared
// words are compared against each side's remainder, so a string that is a
// word subset of the other scores 100.
func TokenSetRatio(a, b string) float64 {
	wa := wordSet(Normalize(a))
	wb := wordSet(Normalize(b))
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}

	var inter, onlyA, onlyB []string
	for w := range wa {
		if wb[w] {
			inter = append(inter, w)
		} else {
			onlyA = append(onlyA, w)
		}
	}
	for w := range wb {
		if !wa[w] {
			onlyB = append(onlyB, w)
		}
	}
	sort.Strings(inter)
	sort.Strings(onlyA)
	sort.Strings(onlyB)

	if len(inter) > 0 && (len(onlyA) == 0 || len(onlyB) == 0) {
		return 100
	}

	sect := strings.Join(inter, " ")
	diffA := strings.Join(onlyA, " ")
	diffB := strings.Join(onlyB, " ")
	if sect == "" {
		return ratio(diffA, diffB)
	}
	combA := sect + " " + diffA
	combB := sect + " " + diffB
	return max(ratio(sect, combA), ratio(sect, combB), ratio(combA, combB))
}

// ratio is the indel similarity 2*LCS/(|a|+|b|) scaled to 0..100.
func ratio(a, b string) float64 {
	total := utf8.RuneCountInString(a) + utf8.RuneCountInString(b)
	if total == 0 {
		return 100
	}
	return 200 * float64(edlib.LCS(a, b)) / float64(total)
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(s) {
		set[w] = true
	}
	return set
}

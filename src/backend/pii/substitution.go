package pii

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// nameSeparator matches the gap between two words of a name: any run of
// whitespace (including vertical tab and Unicode spaces) or hyphens.
const nameSeparator = `[\s\v\p{Zs}\-]+`

// Substitute replaces every occurrence of each registered name with its
// placeholder. Longer names are replaced first and equal lengths keep
// registration order. Each replacement operates on the output of the
// previous one.
func Substitute(text string, reg *NameRegistry) string {
	keys := reg.Keys()
	sort.SliceStable(keys, func(i, j int) bool {
		return len(keys[i]) > len(keys[j])
	})

	for _, key := range keys {
		placeholder, _ := reg.Placeholder(key)
		text = replaceName(text, key, placeholder)
	}
	return text
}

// replaceName replaces case-insensitive, separator-tolerant occurrences of
// name that stand as whole words.
func replaceName(text, name, placeholder string) string {
	words := strings.Fields(name)
	if len(words) == 0 {
		return text
	}

	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	re, err := regexp.Compile("(?i)" + strings.Join(quoted, nameSeparator))
	if err != nil {
		// only reachable for names that are not valid UTF-8
		return text
	}

	// RE2 \b only knows ASCII, so boundaries are checked here instead.
	first, _ := utf8.DecodeRuneInString(words[0])
	last, _ := utf8.DecodeLastRuneInString(words[len(words)-1])
	checkStart, checkEnd := isWordRune(first), isWordRune(last)

	var b strings.Builder
	matched := false
	copied, pos := 0, 0
	for pos <= len(text) {
		loc := re.FindStringIndex(text[pos:])
		if loc == nil {
			break
		}
		start, end := pos+loc[0], pos+loc[1]

		if (checkStart && wordRuneBefore(text, start)) || (checkEnd && wordRuneAfter(text, end)) {
			_, width := utf8.DecodeRuneInString(text[start:])
			pos = start + width
			continue
		}

		b.WriteString(text[copied:start])
		b.WriteString(placeholder)
		copied, pos = end, end
		matched = true
	}

	if !matched {
		return text
	}
	b.WriteString(text[copied:])
	return b.String()
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r)
}

func wordRuneBefore(text string, i int) bool {
	if i == 0 {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(text[:i])
	return isWordRune(r)
}

func wordRuneAfter(text string, i int) bool {
	if i >= len(text) {
		return false
	}
	r, _ := utf8.DecodeRuneInString(text[i:])
	return isWordRune(r)
}

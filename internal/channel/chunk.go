package channel

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Chunk splits text into parts of at most limit runes. It breaks on newlines, and on
// blank lines first when paragraphs is set. Lines longer than limit are cut by rune.
func Chunk(text string, limit int, paragraphs bool) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}
	seps := []string{"\n"}
	if paragraphs {
		seps = []string{"\n\n", "\n"}
	}
	return pack(text, limit, seps)
}

// pack greedily joins the pieces of text split on seps[0]; pieces that still do not
// fit are packed again with the remaining separators.
func pack(text string, limit int, seps []string) []string {
	if len(seps) == 0 {
		return cutRunes(text, limit)
	}
	sep := seps[0]
	var (
		out []string
		cur strings.Builder
		n   int
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
		n = 0
	}
	sepLen := utf8.RuneCountInString(sep)
	for _, piece := range strings.Split(text, sep) {
		size := utf8.RuneCountInString(piece)
		if size > limit {
			flush()
			out = append(out, pack(piece, limit, seps[1:])...)
			continue
		}
		extra := size
		if n > 0 {
			extra += sepLen
		}
		if n+extra > limit {
			flush()
			extra = size
		}
		if n > 0 {
			cur.WriteString(sep)
		}
		cur.WriteString(piece)
		n += extra
	}
	flush()
	return out
}

// cutRunes splits a line with no newlines. It breaks at the last space that keeps a
// part within limit and cuts mid-word only when a part has no space.
func cutRunes(text string, limit int) []string {
	var out []string
	runes := []rune(strings.TrimSpace(text))
	for len(runes) > 0 {
		if len(runes) <= limit {
			out = append(out, string(runes))
			break
		}
		end := limit
		for i := limit; i > 0; i-- {
			if unicode.IsSpace(runes[i]) {
				end = i
				break
			}
		}
		if s := strings.TrimSpace(string(runes[:end])); s != "" {
			out = append(out, s)
		}
		runes = []rune(strings.TrimLeftFunc(string(runes[end:]), unicode.IsSpace))
	}
	return out
}

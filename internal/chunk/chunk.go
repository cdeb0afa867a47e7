// Package chunk splits long assistant output into Telegram-message-sized
// pieces without breaking fenced code blocks or going over a byte cap.
package chunk

import (
	"strings"
	"unicode/utf8"
)

// Strategy selects how oversized text gets split.
type Strategy int

const (
	// Paragraph splits on blank lines, packing segments greedily and
	// falling back to Sentence for any oversized segment. The default.
	Paragraph Strategy = iota
	// Sentence splits on sentence-ending punctuation, falling back to
	// HardSplit for any oversized sentence.
	Sentence
	// HardSplit breaks at the last newline within the limit, or at the
	// byte limit backed off to a rune boundary.
	HardSplit
)

// DefaultLimit is used when Chunk is called with limit == 0.
const DefaultLimit = 4000

// Split breaks text into an ordered list of non-empty chunks, each at
// most limit bytes, using strategy. A limit of 0 uses DefaultLimit. An
// empty text yields an empty (nil) slice.
func Split(text string, limit int, strategy Strategy) []string {
	if text == "" {
		return nil
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if len(text) <= limit {
		return []string{text}
	}

	switch strategy {
	case Sentence:
		return splitSentence(text, limit)
	case HardSplit:
		return splitHard(text, limit)
	default:
		return splitParagraph(text, limit)
	}
}

// segment is one paragraph-level unit: either free text (splittable on
// blank lines) or the full body of a fenced code block (atomic unless
// it alone exceeds the limit).
type segment struct {
	text   string
	fenced bool
}

func splitParagraph(text string, limit int) []string {
	segs := splitFenceAware(text)

	var chunks []string
	var cur strings.Builder

	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
	}

	for _, seg := range segs {
		if len(seg.text) > limit {
			flush()
			chunks = append(chunks, splitSentence(seg.text, limit)...)
			continue
		}

		joined := seg.text
		if cur.Len() > 0 {
			joined = cur.String() + "\n\n" + seg.text
		}
		if len(joined) <= limit {
			cur.Reset()
			cur.WriteString(joined)
		} else {
			flush()
			cur.WriteString(seg.text)
		}
	}
	flush()
	return chunks
}

// splitFenceAware walks text splitting it into paragraph segments
// outside of ``` fences (on "\n\n") and keeping each fenced block as a
// single atomic segment.
func splitFenceAware(text string) []segment {
	var segs []segment
	i := 0
	for i < len(text) {
		idx := strings.Index(text[i:], "```")
		if idx == -1 {
			segs = append(segs, paragraphSegments(text[i:])...)
			break
		}
		fenceStart := i + idx
		if fenceStart > i {
			segs = append(segs, paragraphSegments(text[i:fenceStart])...)
		}

		searchFrom := fenceStart + 3
		closeIdx := strings.Index(text[searchFrom:], "```")
		if closeIdx == -1 {
			segs = append(segs, segment{text: text[fenceStart:], fenced: true})
			break
		}
		fenceEnd := searchFrom + closeIdx + 3
		segs = append(segs, segment{text: text[fenceStart:fenceEnd], fenced: true})
		i = fenceEnd
	}
	return segs
}

func paragraphSegments(s string) []segment {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, "\n\n")
	segs := make([]segment, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		segs = append(segs, segment{text: p})
	}
	return segs
}

func splitSentence(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}

	sentences := splitOnSentenceBoundaries(text)

	var chunks []string
	var cur strings.Builder

	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
	}

	for _, s := range sentences {
		if len(s) > limit {
			flush()
			chunks = append(chunks, splitHard(s, limit)...)
			continue
		}
		joined := cur.String() + s
		if len(joined) <= limit {
			cur.Reset()
			cur.WriteString(joined)
		} else {
			flush()
			cur.WriteString(s)
		}
	}
	flush()
	return chunks
}

// splitOnSentenceBoundaries splits on ". ", "! ", "? ", leaving the
// punctuation and trailing space attached to the preceding sentence so
// concatenating the results reproduces the input exactly.
func splitOnSentenceBoundaries(text string) []string {
	var out []string
	start := 0
	for i := 0; i+1 < len(text); i++ {
		c := text[i]
		if (c == '.' || c == '!' || c == '?') && text[i+1] == ' ' {
			out = append(out, text[start:i+2])
			start = i + 2
		}
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}

func splitHard(text string, limit int) []string {
	var chunks []string
	for len(text) > limit {
		cut := limit
		if idx := strings.LastIndexByte(text[:limit], '\n'); idx >= 0 {
			cut = idx + 1
		} else {
			for cut > 1 && !utf8.RuneStart(text[cut]) {
				cut--
			}
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	if len(text) > 0 {
		chunks = append(chunks, text)
	}
	return chunks
}

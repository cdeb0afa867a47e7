package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_EmptyText(t *testing.T) {
	assert.Nil(t, Split("", 100, Paragraph))
}

func TestSplit_UnderLimitReturnsSingleChunk(t *testing.T) {
	got := Split("hello world", 100, Paragraph)
	require.Len(t, got, 1)
	assert.Equal(t, "hello world", got[0])
}

func TestSplit_ZeroLimitUsesDefault(t *testing.T) {
	text := strings.Repeat("a", DefaultLimit-1)
	got := Split(text, 0, Paragraph)
	require.Len(t, got, 1)
}

func TestSplit_AllChunksWithinLimit(t *testing.T) {
	text := strings.Repeat("word ", 2000)
	for _, strat := range []Strategy{Paragraph, Sentence, HardSplit} {
		got := Split(text, 200, strat)
		for i, c := range got {
			assert.NotEmpty(t, c)
			assert.LessOrEqualf(t, len(c), 200, "strategy %v chunk %d exceeds limit", strat, i)
		}
	}
}

func TestSplit_ParagraphPacksSegmentsGreedily(t *testing.T) {
	text := "para one.\n\npara two.\n\npara three."
	got := Split(text, 100, Paragraph)
	require.Len(t, got, 1)
	assert.Equal(t, text, got[0])
}

func TestSplit_ParagraphSplitsOnBlankLines(t *testing.T) {
	a := strings.Repeat("x", 40)
	b := strings.Repeat("y", 40)
	text := a + "\n\n" + b
	got := Split(text, 50, Paragraph)
	require.Len(t, got, 2)
	assert.Equal(t, a, got[0])
	assert.Equal(t, b, got[1])
}

func TestSplit_FencedCodeBlockStaysAtomic(t *testing.T) {
	code := "```go\nfunc main() {\n\tprintln(\"hi\")\n}\n```"
	text := strings.Repeat("z", 30) + "\n\n" + code
	got := Split(text, len(code)+5, Paragraph)

	var foundWhole bool
	for _, c := range got {
		if c == code {
			foundWhole = true
		}
	}
	assert.True(t, foundWhole, "expected a chunk to contain the whole fenced block intact")
}

func TestSplit_OversizeFencedBlockFallsBackWithoutPanicking(t *testing.T) {
	body := strings.Repeat("line of code\n", 50)
	code := "```\n" + body + "```"
	assert.NotPanics(t, func() {
		got := Split(code, 100, Paragraph)
		require.NotEmpty(t, got)
		for _, c := range got {
			assert.LessOrEqual(t, len(c), 100)
		}
	})
}

func TestSplit_SentenceKeepsPunctuationWithPrecedingSegment(t *testing.T) {
	text := "First sentence. Second sentence! Third sentence? Done."
	got := Split(text, 20, Sentence)
	require.NotEmpty(t, got)
	for _, c := range got {
		assert.LessOrEqual(t, len(c), 20)
	}
	assert.Equal(t, text, strings.Join(got, ""))
}

func TestSplit_HardSplitPrefersLastNewline(t *testing.T) {
	text := strings.Repeat("a", 10) + "\n" + strings.Repeat("b", 10)
	got := Split(text, 15, HardSplit)
	require.Len(t, got, 2)
	assert.Equal(t, strings.Repeat("a", 10)+"\n", got[0])
	assert.Equal(t, strings.Repeat("b", 10), got[1])
}

func TestSplit_HardSplitBacksOffToRuneBoundary(t *testing.T) {
	// "日本語" is 3 runes x 3 bytes = 9 bytes; limit of 10 lands mid-rune
	// at byte offset 10 unless the splitter backs off.
	text := strings.Repeat("日", 10) // 30 bytes, no newlines
	got := Split(text, 10, HardSplit)
	for _, c := range got {
		assert.True(t, len(c) > 0)
		assert.LessOrEqual(t, len(c), 10)
		for _, r := range c {
			assert.NotEqual(t, rune(0xFFFD), r, "chunk boundary split a multibyte rune")
		}
	}
	assert.Equal(t, text, strings.Join(got, ""))
}

package channel

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStripMarkdownRemovesAllMarkers(t *testing.T) {
	content := "# Title\n\nSome **bold** and _italic_ and `code` and a [link](http://example.com).\n\n```go\nfmt.Println(1)\n```\n\n---\n"
	out := stripMarkdown(content)

	require.NotRegexp(t, regexp.MustCompile("[*_#`]"), out)
	require.Contains(t, out, "Title")
	require.Contains(t, out, "bold")
	require.Contains(t, out, "italic")
	require.Contains(t, out, "code")
	require.Contains(t, out, "link (http://example.com)")
	require.Contains(t, out, "fmt.Println(1)")
}

func TestFormatForChannelPreservesMarkdownWhenSupported(t *testing.T) {
	caps := Capabilities{Markdown: true, MaxMessageLength: 10000}
	chunks := FormatForChannel("**bold**", caps)
	require.Equal(t, []string{"**bold**"}, chunks)
}

func TestFormatForChannelFitsWithinLimit(t *testing.T) {
	caps := Capabilities{MaxMessageLength: 20}
	content := "short"
	chunks := FormatForChannel(content, caps)
	require.Equal(t, []string{"short"}, chunks)
}

func TestChunkContentSplitsOnParagraphBoundaries(t *testing.T) {
	content := strings.Repeat("a", 40) + "\n\n" + strings.Repeat("b", 40)
	chunks := chunkContent(content, 50)
	require.Len(t, chunks, 2)
	for _, c := range chunks {
		require.LessOrEqual(t, len(c), 50)
	}
}

func TestChunkContentSplitsOversizeParagraphOnSentences(t *testing.T) {
	sentence := strings.Repeat("x", 30) + ". "
	content := strings.Repeat(sentence, 5)
	chunks := chunkContent(content, 50)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		require.LessOrEqual(t, len(c), 50)
	}
}

func TestChunkContentReturnsIndivisibleParagraphWhole(t *testing.T) {
	oneWord := strings.Repeat("x", 200)
	chunks := chunkContent(oneWord, 50)
	require.Equal(t, []string{oneWord}, chunks)
}

func TestFormatForChannelNoMarkdownMarkersRemainWhenUnsupported(t *testing.T) {
	caps := Capabilities{Markdown: false, MaxMessageLength: 10000}
	chunks := FormatForChannel("# Header\n\n**bold** _italic_ `code`", caps)
	require.Len(t, chunks, 1)
	require.NotRegexp(t, regexp.MustCompile("[*_#`]"), chunks[0])
}

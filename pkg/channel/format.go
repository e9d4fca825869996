package channel

import (
	"regexp"
	"strings"
)

var (
	codeFenceRe  = regexp.MustCompile("(?s)```[a-zA-Z0-9_+-]*\n?(.*?)```")
	inlineCodeRe = regexp.MustCompile("`([^`\n]+)`")
	boldDStarRe  = regexp.MustCompile(`\*\*([^*\n]+)\*\*`)
	boldDUndRe   = regexp.MustCompile(`__([^_\n]+)__`)
	italicStarRe = regexp.MustCompile(`\*([^*\n]+)\*`)
	italicUndRe  = regexp.MustCompile(`_([^_\n]+)_`)
	atxHeaderRe  = regexp.MustCompile(`(?m)^#{1,6}\s+(.+)$`)
	linkRe       = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	hrRe         = regexp.MustCompile(`(?m)^\s*(-{3,}|\*{3,}|_{3,})\s*$`)
	sentenceRe   = regexp.MustCompile(`(?s)(.*?[.!?])(\s+|$)`)
)

// stripMarkdown removes markdown formatting, leaving the underlying text
// plain. Applied only when the target channel doesn't render markdown.
func stripMarkdown(content string) string {
	content = codeFenceRe.ReplaceAllString(content, "$1")
	content = inlineCodeRe.ReplaceAllString(content, "$1")
	content = boldDStarRe.ReplaceAllString(content, "$1")
	content = boldDUndRe.ReplaceAllString(content, "$1")
	content = italicStarRe.ReplaceAllString(content, "$1")
	content = italicUndRe.ReplaceAllString(content, "$1")
	content = atxHeaderRe.ReplaceAllString(content, "$1")
	content = linkRe.ReplaceAllString(content, "$1 ($2)")
	content = hrRe.ReplaceAllString(content, "")
	return content
}

// FormatForChannel renders content for delivery over a channel with the
// given capabilities: markdown is stripped first if unsupported, then the
// result is chunked to fit maxMessageLength.
func FormatForChannel(content string, caps Capabilities) []string {
	if !caps.Markdown {
		content = stripMarkdown(content)
	}
	return chunkContent(content, caps.MaxMessageLength)
}

func chunkContent(content string, maxLen int) []string {
	if maxLen <= 0 || len(content) <= maxLen {
		return []string{content}
	}

	paragraphs := strings.Split(content, "\n\n")
	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
	}

	for _, p := range paragraphs {
		if len(p) > maxLen {
			flush()
			chunks = append(chunks, splitOversizeParagraph(p, maxLen)...)
			continue
		}
		candidate := p
		if current.Len() > 0 {
			candidate = current.String() + "\n\n" + p
		}
		if len(candidate) > maxLen {
			flush()
			current.WriteString(p)
		} else {
			current.Reset()
			current.WriteString(candidate)
		}
	}
	flush()

	if len(chunks) == 0 {
		return []string{content}
	}
	return chunks
}

// splitOversizeParagraph splits a too-long paragraph on sentence boundaries,
// greedily packing sentences into chunks. A single sentence that still
// exceeds maxLen is returned whole — correctness before transport
// compliance.
func splitOversizeParagraph(p string, maxLen int) []string {
	sentences := splitSentences(p)
	if len(sentences) <= 1 {
		return []string{p}
	}

	var chunks []string
	var current strings.Builder
	for _, s := range sentences {
		candidate := s
		if current.Len() > 0 {
			candidate = current.String() + " " + s
		}
		if len(candidate) > maxLen && current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
			current.WriteString(s)
		} else {
			current.Reset()
			current.WriteString(candidate)
		}
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

func splitSentences(p string) []string {
	matches := sentenceRe.FindAllStringSubmatch(p, -1)
	if len(matches) == 0 {
		return []string{p}
	}
	var out []string
	consumed := 0
	for _, m := range matches {
		out = append(out, m[1])
		consumed += len(m[0])
	}
	if consumed < len(p) {
		out = append(out, strings.TrimSpace(p[consumed:]))
	}
	return out
}

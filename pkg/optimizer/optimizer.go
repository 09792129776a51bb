// Package optimizer compresses prompts and trims them to a token budget.
package optimizer

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	fence          = "```"
	importantOpen  = "<!-- IMPORTANT -->"
	importantClose = "<!-- /IMPORTANT -->"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// TokenCounter estimates the number of tokens in a text.
type TokenCounter func(text string) int

// CharsPerToken estimates tokens as ceil(characters / 4).
func CharsPerToken(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}

// Optimizer shapes prompts before dispatch and before cache lookups.
type Optimizer struct {
	count TokenCounter
}

// New returns an Optimizer using counter, or CharsPerToken when nil.
func New(counter TokenCounter) *Optimizer {
	if counter == nil {
		counter = CharsPerToken
	}
	return &Optimizer{count: counter}
}

// CountTokens estimates the tokens in text.
func (o *Optimizer) CountTokens(text string) int {
	return o.count(text)
}

// OptimizePrompt collapses whitespace runs outside fenced code blocks and
// trims the result. Code block interiors are left byte-for-byte unchanged;
// an unterminated fence leaves the rest of the text untouched.
func (o *Optimizer) OptimizePrompt(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	rest := text
	for {
		open := strings.Index(rest, fence)
		if open < 0 {
			b.WriteString(whitespaceRun.ReplaceAllString(rest, " "))
			break
		}
		b.WriteString(whitespaceRun.ReplaceAllString(rest[:open], " "))

		body := rest[open+len(fence):]
		end := strings.Index(body, fence)
		if end < 0 {
			b.WriteString(rest[open:])
			break
		}
		b.WriteString(rest[open : open+len(fence)+end+len(fence)])
		rest = body[end+len(fence):]
	}
	return strings.TrimSpace(b.String())
}

// OptimizeContextWindow fits text into tokenLimit. Text already within the
// limit is returned unchanged. Otherwise IMPORTANT blocks are kept verbatim
// and placed first, and the remaining budget is filled with a prefix of the
// other content.
func (o *Optimizer) OptimizeContextWindow(text string, tokenLimit int) string {
	if text == "" || o.count(text) <= tokenLimit {
		return text
	}

	important, rest := splitImportant(text)
	kept := strings.Join(important, "\n")

	budget := tokenLimit
	if kept != "" {
		budget -= o.count(kept + "\n")
	}
	if budget <= 0 {
		return kept
	}

	prefix := o.longestPrefix(rest, budget)
	switch {
	case kept == "":
		return prefix
	case prefix == "":
		return kept
	}
	return kept + "\n" + prefix
}

// splitImportant separates IMPORTANT blocks (markers included) from the rest.
func splitImportant(text string) (blocks []string, rest string) {
	var other strings.Builder
	for {
		start := strings.Index(text, importantOpen)
		if start < 0 {
			other.WriteString(text)
			break
		}
		end := strings.Index(text[start:], importantClose)
		if end < 0 {
			other.WriteString(text)
			break
		}
		end += start + len(importantClose)
		other.WriteString(text[:start])
		blocks = append(blocks, text[start:end])
		text = text[end:]
	}
	return blocks, strings.TrimSpace(other.String())
}

// longestPrefix returns the longest rune prefix of text within budget tokens.
func (o *Optimizer) longestPrefix(text string, budget int) string {
	runes := []rune(text)
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if o.count(string(runes[:mid])) <= budget {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return strings.TrimSpace(string(runes[:lo]))
}

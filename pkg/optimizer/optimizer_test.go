package optimizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOptimizePromptPreservesCodeBlocks(t *testing.T) {
	o := New(nil)
	in := "This   has    extra   spaces.\n```\nThis   is   a   code   block.\n```\nThis   also   has   extra   spaces."
	want := "This has extra spaces. ```\nThis   is   a   code   block.\n``` This also has extra spaces."
	assert.Equal(t, want, o.OptimizePrompt(in))
}

func TestOptimizePrompt(t *testing.T) {
	o := New(nil)
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"trim", "  \n hello \t world \n", "hello world"},
		{"empty", "", ""},
		{
			"two blocks",
			"a  b\n```go\nx  :=  1\n```\n\nc   d\n```\n  y\n```  e",
			"a b ```go\nx  :=  1\n``` c d ```\n  y\n``` e",
		},
		{"unterminated fence", "a   b ```\n  keep   this", "a b ```\n  keep   this"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, o.OptimizePrompt(tt.in))
		})
	}
}

func TestCountTokens(t *testing.T) {
	o := New(nil)
	assert.Equal(t, 0, o.CountTokens(""))
	assert.Equal(t, 1, o.CountTokens("abc"))
	assert.Equal(t, 1, o.CountTokens("abcd"))
	assert.Equal(t, 2, o.CountTokens("abcde"))
	assert.Equal(t, 2, o.CountTokens("ééééé"), "counts runes, not bytes")

	words := New(func(s string) int { return len(strings.Fields(s)) })
	assert.Equal(t, 3, words.CountTokens("one two three"))
}

func TestOptimizeContextWindowWithinLimit(t *testing.T) {
	o := New(nil)
	text := "short   text"
	assert.Equal(t, text, o.OptimizeContextWindow(text, 100))
	assert.Equal(t, "", o.OptimizeContextWindow("", 0))
}

func TestOptimizeContextWindowKeepsImportant(t *testing.T) {
	o := New(nil)
	block := "<!-- IMPORTANT -->keep me<!-- /IMPORTANT -->"
	filler := strings.Repeat("lorem ipsum ", 40)
	text := filler[:60] + block + filler

	out := o.OptimizeContextWindow(text, 30)
	assert.True(t, strings.HasPrefix(out, block), "important block leads: %q", out)
	assert.LessOrEqual(t, o.CountTokens(out), 30)
	assert.True(t, strings.HasPrefix(strings.TrimPrefix(out, block+"\n"), "lorem ipsum"))
}

func TestOptimizeContextWindowImportantOnly(t *testing.T) {
	o := New(nil)
	block := "<!-- IMPORTANT -->" + strings.Repeat("x", 100) + "<!-- /IMPORTANT -->"
	out := o.OptimizeContextWindow(block+strings.Repeat("y", 400), 10)
	assert.Equal(t, block, out)
}

func TestOptimizeContextWindowPrefixOnly(t *testing.T) {
	o := New(nil)
	text := strings.Repeat("abcd", 50)
	out := o.OptimizeContextWindow(text, 5)
	assert.Equal(t, text[:20], out)
}

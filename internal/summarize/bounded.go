package summarize

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/rcliao/pattern-persistence/internal/chunker"
)

const maxReducePasses = 3

// Bounded keeps every call to the wrapped summarizer within MaxInput bytes
// by summarizing chunks first and then summarizing the joined partials.
type Bounded struct {
	inner    Summarizer
	maxInput int
}

// NewBounded wraps s. maxInput <= 0 means chunker.DefaultMaxSize.
func NewBounded(s Summarizer, maxInput int) *Bounded {
	if maxInput <= 0 {
		maxInput = chunker.DefaultMaxSize
	}
	return &Bounded{inner: s, maxInput: maxInput}
}

func (b *Bounded) Summarize(ctx context.Context, req Request) (string, error) {
	text := req.Transcript
	for pass := 0; len(text) > b.maxInput; pass++ {
		if pass == maxReducePasses {
			text = truncate(text, b.maxInput)
			break
		}
		chunks := chunker.Chunk(text, chunker.ForLimit(b.maxInput))
		partials := make([]string, 0, len(chunks))
		for _, c := range chunks {
			sub := req
			sub.Transcript = c.Text
			s, err := b.inner.Summarize(ctx, sub)
			if err != nil {
				return "", err
			}
			partials = append(partials, strings.TrimSpace(s))
		}
		text = strings.Join(partials, "\n\n")
	}

	req.Transcript = text
	return b.inner.Summarize(ctx, req)
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

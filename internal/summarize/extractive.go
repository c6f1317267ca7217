package summarize

import (
	"context"
	"fmt"
	"strings"
)

const (
	defaultExtractLines = 12
	defaultExtractWidth = 160
)

// Extractive builds a summary from the leading sentence of evenly spaced
// turns. It needs no external service and is deterministic.
type Extractive struct {
	MaxLines int
	MaxWidth int
}

func (e *Extractive) Summarize(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	maxLines := e.MaxLines
	if maxLines <= 0 {
		maxLines = defaultExtractLines
	}
	width := e.MaxWidth
	if width <= 0 {
		width = defaultExtractWidth
	}

	var paras []string
	for _, p := range strings.Split(req.Transcript, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			paras = append(paras, p)
		}
	}
	if len(paras) == 0 {
		return "", fmt.Errorf("empty transcript")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s turns %d-%d (%d entries).", req.Context, req.StartSeq, req.EndSeq, len(paras))
	for _, i := range spread(len(paras), maxLines) {
		b.WriteString("\n- ")
		b.WriteString(leadSentence(paras[i], width))
	}
	return b.String(), nil
}

// spread picks up to k indexes out of n, evenly spaced, always including the
// first and last.
func spread(n, k int) []int {
	if n <= k {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out
	}
	if k == 1 {
		return []int{0}
	}
	out := make([]int, 0, k)
	for i := 0; i < k; i++ {
		out = append(out, i*(n-1)/(k-1))
	}
	return out
}

func leadSentence(p string, width int) string {
	p = strings.Join(strings.Fields(p), " ")
	if i := strings.IndexAny(p, ".!?"); i > 0 && i < len(p)-1 {
		p = p[:i+1]
	}
	r := []rune(p)
	if len(r) > width {
		return string(r[:width-1]) + "…"
	}
	return p
}

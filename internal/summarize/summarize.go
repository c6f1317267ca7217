// Package summarize holds the summarization collaborators the crystallizer
// delegates to. Summaries are free text; nothing here touches storage.
package summarize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rcliao/pattern-persistence/internal/model"
)

// ErrCollaboratorTimeout is returned when a summarizer does not answer within
// its time bound.
var ErrCollaboratorTimeout = errors.New("collaborator timeout")

// Request is one summarization call over a contiguous run of turns.
type Request struct {
	Context    string
	StartSeq   int64
	EndSeq     int64
	Transcript string
}

// Summarizer compresses a transcript into a summary.
type Summarizer interface {
	Summarize(ctx context.Context, req Request) (string, error)
}

// Config selects and configures a summarizer.
type Config struct {
	Provider string // "extractive" (default) | "ollama" | "openai"
	Model    string
	Target   string // base URL override
	APIKey   string
	MaxInput int // transcripts longer than this are summarized in chunks
}

// New builds the configured summarizer, wrapped so that its input never
// exceeds MaxInput bytes.
func New(c Config) (Summarizer, error) {
	var s Summarizer
	switch strings.ToLower(c.Provider) {
	case "", "extractive":
		s = &Extractive{}
	case "ollama":
		s = NewOllama(c.Target, c.Model)
	case "openai":
		o, err := NewOpenAI(c.Target, c.APIKey, c.Model)
		if err != nil {
			return nil, err
		}
		s = o
	default:
		return nil, fmt.Errorf("unknown summarizer provider %q (valid: extractive, ollama, openai)", c.Provider)
	}
	return NewBounded(s, c.MaxInput), nil
}

// Transcript renders turns as one paragraph per turn, "[seq] role: text".
func Transcript(turns []model.Turn) string {
	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] %s: %s", t.Seq, t.Role, strings.TrimSpace(t.Text))
	}
	return b.String()
}

// Call runs s under a timeout. A deadline hit inside the collaborator is
// reported as ErrCollaboratorTimeout; cancellation of ctx itself is not.
func Call(ctx context.Context, s Summarizer, timeout time.Duration, req Request) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	summary, err := s.Summarize(ctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("summarize %s [%d,%d] after %s: %w", req.Context, req.StartSeq, req.EndSeq, timeout, ErrCollaboratorTimeout)
		}
		return "", fmt.Errorf("summarize %s [%d,%d]: %w", req.Context, req.StartSeq, req.EndSeq, err)
	}

	summary = strings.TrimSpace(summary)
	if summary == "" {
		return "", fmt.Errorf("summarize %s [%d,%d]: empty summary", req.Context, req.StartSeq, req.EndSeq)
	}
	return summary, nil
}

const systemPrompt = `You compress conversation transcripts into durable memory.
Write a concise summary of the transcript below: decisions made, facts learned
about people and projects, open questions and commitments. Use plain prose,
no preamble, at most 200 words.`

func userPrompt(req Request) string {
	return fmt.Sprintf("Context %q, turns %d to %d:\n\n%s", req.Context, req.StartSeq, req.EndSeq, req.Transcript)
}

// Package chunker splits long transcripts into bounded pieces so that a
// summarizer never receives more than it can handle in one call.
package chunker

import (
	"strings"
	"unicode/utf8"
)

const (
	DefaultTargetSize = 8000
	DefaultMaxSize    = 12000
)

// Options configures chunking behavior. Sizes are in bytes.
type Options struct {
	TargetSize int
	MaxSize    int
}

// DefaultOptions returns default chunking options.
func DefaultOptions() Options {
	return Options{
		TargetSize: DefaultTargetSize,
		MaxSize:    DefaultMaxSize,
	}
}

// ForLimit returns options whose chunks never exceed limit bytes.
func ForLimit(limit int) Options {
	if limit <= 0 {
		return DefaultOptions()
	}
	return Options{TargetSize: limit * 2 / 3, MaxSize: limit}
}

// ChunkResult is a chunk with its line span in the original text.
type ChunkResult struct {
	Text      string
	StartLine int
	EndLine   int
}

// Chunk splits text into chunks of at most opts.MaxSize bytes. Paragraphs
// (blocks separated by a blank line, one per transcript turn) are kept
// whole where they fit. Text within MaxSize comes back as a single chunk.
func Chunk(text string, opts Options) []ChunkResult {
	if opts.MaxSize <= 0 {
		opts = DefaultOptions()
	}
	if opts.TargetSize <= 0 || opts.TargetSize > opts.MaxSize {
		opts.TargetSize = opts.MaxSize
	}

	text = strings.TrimSpace(text)
	if len(text) == 0 {
		return nil
	}

	if len(text) <= opts.MaxSize {
		lines := strings.Count(text, "\n")
		return []ChunkResult{{Text: text, StartLine: 1, EndLine: lines + 1}}
	}

	return mergeBlocks(splitBlocks(text), opts)
}

type block struct {
	text      string
	startLine int
	endLine   int
}

// splitBlocks splits text on blank lines.
func splitBlocks(text string) []block {
	lines := strings.Split(text, "\n")
	var blocks []block
	var current []string
	startLine := 1

	flush := func(endLine int) {
		if len(current) > 0 {
			blocks = append(blocks, block{
				text:      strings.Join(current, "\n"),
				startLine: startLine,
				endLine:   endLine,
			})
		}
		current = nil
	}

	for i, line := range lines {
		lineNum := i + 1
		if strings.TrimSpace(line) == "" {
			flush(lineNum - 1)
			startLine = lineNum + 1
			continue
		}
		if len(current) == 0 {
			startLine = lineNum
		}
		current = append(current, line)
	}
	flush(len(lines))

	return blocks
}

// mergeBlocks packs blocks up to the target size and splits oversized ones.
func mergeBlocks(blocks []block, opts Options) []ChunkResult {
	var results []ChunkResult
	var accum block

	flushAccum := func() {
		if accum.text == "" {
			return
		}
		if len(accum.text) > opts.MaxSize {
			results = append(results, hardSplit(accum.text, accum.startLine, opts)...)
		} else {
			results = append(results, ChunkResult{Text: accum.text, StartLine: accum.startLine, EndLine: accum.endLine})
		}
		accum = block{}
	}

	for _, b := range blocks {
		if accum.text == "" {
			accum = b
			continue
		}
		combined := accum.text + "\n\n" + b.text
		if len(combined) <= opts.TargetSize {
			accum.text = combined
			accum.endLine = b.endLine
		} else {
			flushAccum()
			accum = b
		}
	}
	flushAccum()

	return results
}

// hardSplit breaks text that exceeds MaxSize on line boundaries, cutting
// single overlong lines at word or rune boundaries.
func hardSplit(text string, startLine int, opts Options) []ChunkResult {
	lines := strings.Split(text, "\n")
	var results []ChunkResult
	var current []string
	curStart := startLine
	curLen := 0

	emit := func(endLine int) {
		if len(current) == 0 {
			return
		}
		results = append(results, ChunkResult{
			Text:      strings.Join(current, "\n"),
			StartLine: curStart,
			EndLine:   endLine,
		})
		current = nil
		curLen = 0
	}

	for i, line := range lines {
		lineNum := startLine + i
		for _, piece := range splitLine(line, opts.MaxSize) {
			if curLen+len(piece) > opts.TargetSize && len(current) > 0 {
				emit(lineNum - 1)
				curStart = lineNum
			}
			if len(current) == 0 {
				curStart = lineNum
			}
			current = append(current, piece)
			curLen += len(piece) + 1
		}
	}
	emit(startLine + len(lines) - 1)

	return results
}

// splitLine cuts line into pieces of at most max bytes, preferring spaces.
func splitLine(line string, max int) []string {
	if len(line) <= max {
		return []string{line}
	}
	var out []string
	for len(line) > max {
		cut := strings.LastIndexByte(line[:max], ' ')
		if cut <= 0 {
			cut = max
			for cut > 0 && !utf8.RuneStart(line[cut]) {
				cut--
			}
		}
		out = append(out, strings.TrimRight(line[:cut], " "))
		line = strings.TrimLeft(line[cut:], " ")
	}
	if line != "" {
		out = append(out, line)
	}
	return out
}

// Package chunker splits text into overlapping, size-bounded chunks.
//
// Sizes are counted in characters (runes). Each chunk ends right after the
// highest-priority separator that fits in its window: paragraph, line,
// sentence end, whitespace, and finally a hard cut. Every chunk after the
// first starts exactly overlap characters before the previous one ends, so
// dropping the first overlap characters of each later chunk and joining the
// rest reproduces the input.
package chunker

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	DefaultSize    = 1000
	DefaultOverlap = 200
)

var ErrInvalidConfiguration = errors.New("invalid chunking configuration")

// separators are tried level by level; within a level the furthest break wins.
var separators = [][]string{
	{"\n\n"},
	{"\n"},
	{". ", "! ", "? "},
	{" ", "\t"},
}

type Chunker struct {
	size    int
	overlap int
}

func New(size, overlap int) (*Chunker, error) {
	if size <= 0 || overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: size %d, overlap %d", ErrInvalidConfiguration, size, overlap)
	}

	return &Chunker{size: size, overlap: overlap}, nil
}

// Split is a one-shot helper around New and Chunk.
func Split(text string, size, overlap int) ([]string, error) {
	c, err := New(size, overlap)
	if err != nil {
		return nil, err
	}

	return c.Chunk(text), nil
}

func (c *Chunker) Chunk(text string) []string {
	runes := []rune(text)
	l := len(runes)
	if l == 0 {
		return []string{}
	}

	res := make([]string, 0, l/(c.size-c.overlap)+1)
	start := 0
	for {
		end := min(start+c.size, l)
		if end < l {
			end = c.breakPoint(runes, start, end)
		}

		res = append(res, string(runes[start:end]))
		if end >= l {
			break
		}

		start = end - c.overlap
	}

	return res
}

// breakPoint picks where the chunk starting at start ends, at most at limit.
// The chunk must stay longer than the overlap or the walk would not advance.
func (c *Chunker) breakPoint(runes []rune, start, limit int) int {
	window := string(runes[start:limit])
	for _, level := range separators {
		best := 0
		for _, sep := range level {
			i := strings.LastIndex(window, sep)
			if i < 0 {
				continue
			}

			n := utf8.RuneCountInString(window[:i+len(sep)])
			if n > c.overlap && n > best {
				best = n
			}
		}

		if best > 0 {
			return start + best
		}
	}

	return limit
}

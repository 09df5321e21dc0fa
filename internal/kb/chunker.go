package kb

import "strings"

// defaultSeparators is the split hierarchy, coarse to fine. The empty
// string is the rune-level last resort.
var defaultSeparators = []string{"\n\n", "\n", ". ", "? ", "! ", "; ", ", ", " ", ""}

// Chunker splits document text into overlapping chunks bounded by Size.
// Overlap must be strictly below Size.
type Chunker struct {
	Size    int
	Overlap int
}

// NewChunker returns a chunker with the given bounds. Out-of-range values
// fall back to 1000/200.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 5
	}
	return &Chunker{Size: size, Overlap: overlap}
}

// Split chunks text recursively: split on the coarsest separator present,
// merge pieces up to Size, and recurse with finer separators on pieces
// that are still too large. Consecutive chunks share Overlap characters.
func (c *Chunker) Split(text string) []string {
	chunks := c.split(text, defaultSeparators)
	return c.addOverlap(chunks)
}

func (c *Chunker) split(text string, separators []string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= c.Size {
		return []string{text}
	}

	separator := separators[len(separators)-1]
	rest := separators
	for i, sep := range separators {
		if sep == "" || strings.Contains(text, sep) {
			separator = sep
			rest = separators[i+1:]
			break
		}
	}

	var pieces []string
	if separator == "" {
		runes := []rune(text)
		for len(runes) > 0 {
			n := c.Size
			if n > len(runes) {
				n = len(runes)
			}
			pieces = append(pieces, string(runes[:n]))
			runes = runes[n:]
		}
	} else {
		split := strings.Split(text, separator)
		pieces = make([]string, 0, len(split))
		for i, p := range split {
			if i < len(split)-1 {
				p += separator
			}
			pieces = append(pieces, p)
		}
	}

	var out []string
	var current strings.Builder
	flush := func() {
		chunk := strings.TrimSpace(current.String())
		if chunk != "" {
			out = append(out, chunk)
		}
		current.Reset()
	}

	for _, piece := range pieces {
		if len(piece) > c.Size && len(rest) > 0 {
			flush()
			out = append(out, c.split(piece, rest)...)
			continue
		}
		if current.Len() > 0 && current.Len()+len(piece) > c.Size {
			flush()
		}
		current.WriteString(piece)
	}
	flush()
	return out
}

// addOverlap prefixes each chunk after the first with the tail of its
// predecessor, cut at a rune boundary.
func (c *Chunker) addOverlap(chunks []string) []string {
	if c.Overlap <= 0 || len(chunks) <= 1 {
		return chunks
	}
	out := make([]string, len(chunks))
	out[0] = chunks[0]
	for i := 1; i < len(chunks); i++ {
		prev := []rune(chunks[i-1])
		n := c.Overlap
		if n > len(prev) {
			n = len(prev)
		}
		out[i] = string(prev[len(prev)-n:]) + chunks[i]
	}
	return out
}

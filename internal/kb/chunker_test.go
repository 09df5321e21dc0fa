package kb

import (
	"strings"
	"testing"
)

func TestSplitShortTextIsSingleChunk(t *testing.T) {
	c := NewChunker(100, 10)
	chunks := c.Split("hello world")
	if len(chunks) != 1 || chunks[0] != "hello world" {
		t.Fatalf("chunks = %#v", chunks)
	}
}

func TestSplitPrefersParagraphBoundaries(t *testing.T) {
	para1 := strings.Repeat("a", 40)
	para2 := strings.Repeat("b", 40)
	c := NewChunker(50, 0)
	chunks := c.Split(para1 + "\n\n" + para2)
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(chunks))
	}
	if chunks[0] != para1 || chunks[1] != para2 {
		t.Fatalf("paragraph boundary not respected: %#v", chunks)
	}
}

func TestSplitOverlapCarriesTailForward(t *testing.T) {
	c := NewChunker(20, 5)
	chunks := c.Split(strings.Repeat("x", 20) + "\n" + strings.Repeat("y", 20))
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(chunks))
	}
	if !strings.HasPrefix(chunks[1], "xxxxx") {
		t.Fatalf("second chunk missing overlap prefix: %q", chunks[1])
	}
}

func TestSplitHugeUnbrokenTextFallsBackToRunes(t *testing.T) {
	c := NewChunker(10, 0)
	chunks := c.Split(strings.Repeat("z", 35))
	if len(chunks) != 4 {
		t.Fatalf("chunks = %d, want 4", len(chunks))
	}
	for _, chunk := range chunks {
		if len(chunk) > 10 {
			t.Fatalf("chunk exceeds size: %q", chunk)
		}
	}
}

func TestNewChunkerRejectsOverlapAtOrAboveSize(t *testing.T) {
	c := NewChunker(100, 100)
	if c.Overlap >= c.Size {
		t.Fatalf("overlap %d not clamped below size %d", c.Overlap, c.Size)
	}
	c = NewChunker(100, 150)
	if c.Overlap >= c.Size {
		t.Fatalf("overlap %d not clamped below size %d", c.Overlap, c.Size)
	}
}

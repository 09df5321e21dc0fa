package kb

import (
	"errors"
	"strings"
	"testing"
)

func TestParseDocumentPlainText(t *testing.T) {
	got, err := ParseDocument("txt", []byte("  hello\nworld  \n"))
	if err != nil {
		t.Fatal(err)
	}
	if got != "hello\nworld" {
		t.Fatalf("got %q", got)
	}
}

func TestParseDocumentCSVFlattensRows(t *testing.T) {
	got, err := ParseDocument("csv", []byte("name,city\nalice,berlin\nbob,tokyo\n"))
	if err != nil {
		t.Fatal(err)
	}
	want := "name city\nalice berlin\nbob tokyo"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestParseDocumentHTMLStripsMarkup(t *testing.T) {
	src := `<html><head><style>p{color:red}</style></head>
<body><h1>Title</h1><p>First &amp; second.</p><script>alert(1)</script></body></html>`
	got, err := ParseDocument("html", []byte(src))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(got, "<") || strings.Contains(got, "alert") || strings.Contains(got, "color") {
		t.Fatalf("markup leaked through: %q", got)
	}
	if !strings.Contains(got, "Title") || !strings.Contains(got, "First & second.") {
		t.Fatalf("text content lost: %q", got)
	}
}

func TestParseDocumentUnsupportedExtension(t *testing.T) {
	_, err := ParseDocument("exe", []byte{0x4d, 0x5a})
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("err = %v, want *ParseError", err)
	}
	if parseErr.Extension != "exe" {
		t.Fatalf("extension = %q", parseErr.Extension)
	}
}

func TestParseDocumentRejectsBinaryText(t *testing.T) {
	_, err := ParseDocument(".txt", []byte{0xff, 0xfe, 0x00, 0x01})
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("err = %v, want *ParseError", err)
	}
}

package kb

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"html"
	"io"
	"regexp"
	"strings"
	"unicode/utf8"
)

// ParseError marks a document that could not be converted to text.
type ParseError struct {
	Extension string
	Reason    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse .%s document: %s", e.Extension, e.Reason)
}

var (
	htmlTagPattern    = regexp.MustCompile(`(?s)<[^>]*>`)
	htmlScriptPattern = regexp.MustCompile(`(?is)<(script|style)\b.*?</(script|style)>`)
)

// ParseDocument converts raw document bytes into plain text keyed by file
// extension (without the dot). Unsupported or binary content fails with
// *ParseError.
func ParseDocument(extension string, data []byte) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(extension, "."))
	switch ext {
	case "txt", "md", "markdown", "log":
		if !utf8.Valid(data) {
			return "", &ParseError{Extension: ext, Reason: "content is not valid UTF-8"}
		}
		return strings.TrimSpace(string(data)), nil
	case "csv", "tsv":
		return parseCSV(ext, data)
	case "html", "htm":
		if !utf8.Valid(data) {
			return "", &ParseError{Extension: ext, Reason: "content is not valid UTF-8"}
		}
		return stripHTML(string(data)), nil
	default:
		return "", &ParseError{Extension: ext, Reason: "unsupported format"}
	}
}

// parseCSV flattens each record into one line with fields joined by a
// single space, so rows land in the same chunk as their neighbours.
func parseCSV(ext string, data []byte) (string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	if ext == "tsv" {
		r.Comma = '\t'
	}
	r.FieldsPerRecord = -1

	var b strings.Builder
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", &ParseError{Extension: ext, Reason: err.Error()}
		}
		line := strings.TrimSpace(strings.Join(record, " "))
		if line == "" {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String()), nil
}

// stripHTML removes script/style blocks and tags, then collapses the
// whitespace the markup leaves behind.
func stripHTML(s string) string {
	s = htmlScriptPattern.ReplaceAllString(s, " ")
	s = htmlTagPattern.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)

	lines := strings.Split(s, "\n")
	var b strings.Builder
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
	}
	return b.String()
}

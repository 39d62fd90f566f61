package kbimport

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

const maxContentSize = 10 << 20 // 10MB

// Format is the source format of an imported file.
type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatPDF      Format = "pdf"
)

// FormatFor picks a format from the file extension. Anything that is not
// Markdown or PDF is read as plain text.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return FormatMarkdown
	case ".pdf":
		return FormatPDF
	default:
		return FormatText
	}
}

// Document is the extracted content of one file. Title is empty when the
// file carries none.
type Document struct {
	Title   string
	Content string
	Format  Format
}

// Extract reads path and converts it to plain text according to its format.
func Extract(path string) (*Document, error) {
	format := FormatFor(path)
	if format == FormatPDF {
		return extractPDF(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	src, err := readLimited(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if format == FormatMarkdown {
		doc := ExtractMarkdown(src)
		return &doc, nil
	}
	return &Document{Content: strings.TrimSpace(string(src)), Format: FormatText}, nil
}

func readLimited(r io.Reader) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, maxContentSize+1))
	if err != nil {
		return nil, err
	}
	if len(b) > maxContentSize {
		return nil, fmt.Errorf("content exceeds %d bytes", maxContentSize)
	}
	return b, nil
}

// ExtractMarkdown renders Markdown source as plain text, one block per
// paragraph. The first heading becomes the title and is left out of the
// content.
func ExtractMarkdown(src []byte) Document {
	root := goldmark.New().Parser().Parse(text.NewReader(src))

	doc := Document{Format: FormatMarkdown}
	var b strings.Builder
	ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n := n.(type) {
		case *ast.Heading:
			t := inlineText(n, src)
			if doc.Title == "" && t != "" {
				doc.Title = t
				return ast.WalkSkipChildren, nil
			}
			writeBlock(&b, t)
			return ast.WalkSkipChildren, nil
		case *ast.Paragraph, *ast.TextBlock:
			writeBlock(&b, inlineText(n, src))
			return ast.WalkSkipChildren, nil
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			writeBlock(&b, blockLines(n, src))
			return ast.WalkSkipChildren, nil
		case *ast.HTMLBlock:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	doc.Content = strings.TrimSpace(b.String())
	return doc
}

func writeBlock(b *strings.Builder, s string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return
	}
	if b.Len() > 0 {
		b.WriteString("\n\n")
	}
	b.WriteString(s)
}

// inlineText concatenates the text under n, keeping line breaks.
func inlineText(n ast.Node, src []byte) string {
	var b bytes.Buffer
	ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch c := c.(type) {
		case *ast.Text:
			b.Write(c.Segment.Value(src))
			if c.SoftLineBreak() || c.HardLineBreak() {
				b.WriteByte('\n')
			}
		case *ast.String:
			b.Write(c.Value)
		case *ast.AutoLink:
			b.Write(c.Label(src))
			return ast.WalkSkipChildren, nil
		case *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}

func blockLines(n ast.Node, src []byte) string {
	var b bytes.Buffer
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(src))
	}
	return b.String()
}

func extractPDF(path string) (doc *Document, err error) {
	// The pdf reader panics on malformed streams.
	defer func() {
		if p := recover(); p != nil {
			doc, err = nil, fmt.Errorf("malformed pdf %s: %v", path, p)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening pdf %s: %w", path, err)
	}
	defer f.Close()

	plain, err := r.GetPlainText()
	if err != nil {
		return nil, fmt.Errorf("extracting text from %s: %w", path, err)
	}
	b, err := readLimited(plain)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	doc = &Document{Content: strings.TrimSpace(string(b)), Format: FormatPDF}
	if title := r.Trailer().Key("Info").Key("Title").Text(); title != "" {
		doc.Title = strings.TrimSpace(title)
	}
	return doc, nil
}

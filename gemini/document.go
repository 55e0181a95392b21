package gemini

import (
	"fmt"
	"io"
)

// DocumentWriter writes a text/gemini document to an io.Writer.
//
// Example:
// ```
// w := NewDocumentWriter(buf)
// w.Header1("Favourites")
// w.Line("")
// w.RawLink("gemini://example.com")
// ```
type DocumentWriter struct {
	w io.Writer
}

// NewDocumentWriter creates a writer targeting w.
func NewDocumentWriter(w io.Writer) DocumentWriter {
	return DocumentWriter{w: w}
}

// Line writes a line to the document. A newline is added if none is present.
func (d DocumentWriter) Line(line string) error {
	if len(line) == 0 || line[len(line)-1] != '\n' {
		line += "\n"
	}
	_, err := io.WriteString(d.w, line)
	return err
}

// Header1 writes an H1 (#) heading line.
func (d DocumentWriter) Header1(text string) error {
	return d.Line("# " + text)
}

// Header2 writes an H2 (##) heading line.
func (d DocumentWriter) Header2(text string) error {
	return d.Line("## " + text)
}

// Header3 writes an H3 (###) heading line.
func (d DocumentWriter) Header3(text string) error {
	return d.Line("### " + text)
}

// Quote writes a quote line.
func (d DocumentWriter) Quote(text string) error {
	return d.Line("> " + text)
}

// Bullet writes an unordered list item.
func (d DocumentWriter) Bullet(text string) error {
	return d.Line("* " + text)
}

// ToggleFormatting writes a preformatting toggle line.
func (d DocumentWriter) ToggleFormatting() error {
	return d.Line("```")
}

// Link writes an aliased link line.
func (d DocumentWriter) Link(url, title string) error {
	return d.Line(fmt.Sprintf("=> %s %s", url, title))
}

// RawLink writes a link line without a title.
func (d DocumentWriter) RawLink(url string) error {
	return d.Line("=> " + url)
}

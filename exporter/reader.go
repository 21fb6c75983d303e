package exporter

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrInvalidDocument is returned when data is not a readable .docx package.
var ErrInvalidDocument = errors.New("invalid docx document")

// Paragraph is one w:p of the document body.
type Paragraph struct {
	Style string
	Text  string
	// Size is the first run's font size in half-points, 0 when unset.
	Size int
}

// Document is the readable content of a .docx package.
type Document struct {
	Title      string
	Paragraphs []Paragraph
}

// Heading returns the text of the first Title-styled paragraph.
func (d *Document) Heading() (string, bool) {
	for _, p := range d.Paragraphs {
		if p.Style == headingStyle {
			return p.Text, true
		}
	}
	return "", false
}

// Body returns every paragraph that is not a heading.
func (d *Document) Body() []Paragraph {
	var out []Paragraph
	for _, p := range d.Paragraphs {
		if p.Style != headingStyle {
			out = append(out, p)
		}
	}
	return out
}

// Parse reads word/document.xml and docProps/core.xml from a .docx package.
func Parse(data []byte) (*Document, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	docXML, err := readPart(reader, "word/document.xml")
	if err != nil {
		return nil, err
	}
	if docXML == nil {
		return nil, fmt.Errorf("%w: missing word/document.xml", ErrInvalidDocument)
	}
	paragraphs, err := parseParagraphs(docXML)
	if err != nil {
		return nil, err
	}

	doc := &Document{Paragraphs: paragraphs}
	if core, err := readPart(reader, "docProps/core.xml"); err == nil && core != nil {
		var props struct {
			Title string `xml:"title"`
		}
		if xml.Unmarshal(core, &props) == nil {
			doc.Title = strings.TrimSpace(props.Title)
		}
	}
	return doc, nil
}

func readPart(reader *zip.Reader, name string) ([]byte, error) {
	for _, file := range reader.File {
		if file.Name != name {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: open %s: %v", ErrInvalidDocument, name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrInvalidDocument, name, err)
		}
		return content, nil
	}
	return nil, nil
}

// parseParagraphs walks the token stream so that text, breaks and tabs keep
// their relative order inside each run.
func parseParagraphs(content []byte) ([]Paragraph, error) {
	dec := xml.NewDecoder(bytes.NewReader(content))
	var (
		paragraphs []Paragraph
		cur        *Paragraph
		text       strings.Builder
		inText     bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				cur = &Paragraph{}
				text.Reset()
			case "pStyle":
				if cur != nil {
					cur.Style = attr(t, "val")
				}
			case "sz":
				if cur != nil && cur.Size == 0 {
					cur.Size, _ = strconv.Atoi(attr(t, "val"))
				}
			case "t":
				inText = true
			case "br", "cr":
				if cur != nil {
					text.WriteByte('\n')
				}
			case "tab":
				// w:tab inside w:tabs (paragraph properties) is a tab stop, not content.
				if cur != nil && attr(t, "pos") == "" {
					text.WriteByte('\t')
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if cur != nil {
					cur.Text = text.String()
					paragraphs = append(paragraphs, *cur)
					cur = nil
				}
			}
		case xml.CharData:
			if inText && cur != nil {
				text.Write(t)
			}
		}
	}
	return paragraphs, nil
}

func attr(el xml.StartElement, local string) string {
	for _, a := range el.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

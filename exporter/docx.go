// Package exporter renders generated text into a downloadable Word document.
package exporter

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// DocumentFilename is the name offered to the browser for downloads.
	DocumentFilename = "project_document.docx"
	// DocumentMIME is the standard WordprocessingML content type.
	DocumentMIME = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	// DefaultTitle is the heading used for combined chain output.
	DefaultTitle = "Project Document"

	// BodyFontHalfPoints is the body run size in half-points (12pt).
	BodyFontHalfPoints = 24

	headingStyle = "Title"
)

// part is one file inside the OOXML package, written in order.
type part struct {
	name    string
	content string
}

// ErrUnsupportedText reports text that cannot be stored in a Word document
// unchanged: invalid UTF-8, characters outside the XML 1.0 Char range, or a
// carriage return that is not part of a CRLF pair.
var ErrUnsupportedText = errors.New("text cannot be represented in a Word document")

// Export builds a .docx with a single level-0 heading holding title and a
// single body paragraph holding body. The whole package is assembled in
// memory; on any error no bytes are returned.
func Export(title, body string) ([]byte, error) {
	if err := checkText("title", title); err != nil {
		return nil, err
	}
	if err := checkText("body", body); err != nil {
		return nil, err
	}
	parts := []part{
		{"[Content_Types].xml", contentTypesXML},
		{"_rels/.rels", rootRelsXML},
		{"docProps/core.xml", coreXML(title, time.Now().UTC())},
		{"docProps/app.xml", appXML},
		{"word/_rels/document.xml.rels", documentRelsXML},
		{"word/styles.xml", stylesXML},
		{"word/document.xml", documentXML(title, body)},
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, p := range parts {
		w, err := zw.Create(p.name)
		if err != nil {
			return nil, fmt.Errorf("export: create %s: %w", p.name, err)
		}
		if _, err := w.Write([]byte(p.content)); err != nil {
			return nil, fmt.Errorf("export: write %s: %w", p.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("export: finalize package: %w", err)
	}
	return buf.Bytes(), nil
}

// checkText 拒绝无法原样写入 XML 的内容，而不是让 xml.EscapeText 静默替换成 U+FFFD。
func checkText(field, s string) error {
	if !utf8.ValidString(s) {
		return fmt.Errorf("export: %s: %w: invalid UTF-8", field, ErrUnsupportedText)
	}
	for i, r := range s {
		if r == '\r' {
			if i+1 < len(s) && s[i+1] == '\n' {
				continue
			}
			return fmt.Errorf("export: %s: %w: lone carriage return at byte %d", field, ErrUnsupportedText, i)
		}
		if !isXMLChar(r) {
			return fmt.Errorf("export: %s: %w: character %U at byte %d", field, ErrUnsupportedText, r, i)
		}
	}
	return nil
}

// isXMLChar reports whether r matches the XML 1.0 Char production.
func isXMLChar(r rune) bool {
	switch {
	case r == 0x09 || r == 0x0A || r == 0x0D:
		return true
	case r >= 0x20 && r <= 0xD7FF:
		return true
	case r >= 0xE000 && r <= 0xFFFD:
		return true
	case r >= 0x10000 && r <= utf8.MaxRune:
		return true
	}
	return false
}

func documentXML(title, body string) string {
	var b strings.Builder
	b.WriteString(xml.Header)
	b.WriteString(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)

	b.WriteString(`<w:p><w:pPr><w:pStyle w:val="` + headingStyle + `"/></w:pPr><w:r>`)
	writeRunText(&b, title)
	b.WriteString(`</w:r></w:p>`)

	fmt.Fprintf(&b, `<w:p><w:r><w:rPr><w:sz w:val="%d"/><w:szCs w:val="%d"/></w:rPr>`, BodyFontHalfPoints, BodyFontHalfPoints)
	writeRunText(&b, body)
	b.WriteString(`</w:r></w:p>`)

	b.WriteString(`<w:sectPr><w:pgSz w:w="12240" w:h="15840"/>` +
		`<w:pgMar w:top="1440" w:right="1440" w:bottom="1440" w:left="1440" w:header="720" w:footer="720" w:gutter="0"/></w:sectPr>`)
	b.WriteString(`</w:body></w:document>`)
	return b.String()
}

// writeRunText emits run content the way Word expects it: line breaks and
// tabs are elements of their own, text goes into space-preserving w:t.
func writeRunText(b *strings.Builder, s string) {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	var seg strings.Builder
	flush := func() {
		if seg.Len() == 0 {
			return
		}
		b.WriteString(`<w:t xml:space="preserve">`)
		_ = xml.EscapeText(b, []byte(seg.String()))
		b.WriteString(`</w:t>`)
		seg.Reset()
	}
	for _, r := range s {
		switch r {
		case '\n':
			flush()
			b.WriteString(`<w:br/>`)
		case '\t':
			flush()
			b.WriteString(`<w:tab/>`)
		default:
			seg.WriteRune(r)
		}
	}
	flush()
}

func coreXML(title string, created time.Time) string {
	var t strings.Builder
	_ = xml.EscapeText(&t, []byte(title))
	ts := created.Format(time.RFC3339)
	return xml.Header +
		`<cp:coreProperties xmlns:cp="http://schemas.openxmlformats.org/package/2006/metadata/core-properties"` +
		` xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:dcterms="http://purl.org/dc/terms/"` +
		` xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance">` +
		`<dc:title>` + t.String() + `</dc:title>` +
		`<dc:creator>pmodoc</dc:creator>` +
		`<dcterms:created xsi:type="dcterms:W3CDTF">` + ts + `</dcterms:created>` +
		`<dcterms:modified xsi:type="dcterms:W3CDTF">` + ts + `</dcterms:modified>` +
		`</cp:coreProperties>`
}

const contentTypesXML = xml.Header +
	`<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">` +
	`<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>` +
	`<Default Extension="xml" ContentType="application/xml"/>` +
	`<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>` +
	`<Override PartName="/word/styles.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.styles+xml"/>` +
	`<Override PartName="/docProps/core.xml" ContentType="application/vnd.openxmlformats-package.core-properties+xml"/>` +
	`<Override PartName="/docProps/app.xml" ContentType="application/vnd.openxmlformats-officedocument.extended-properties+xml"/>` +
	`</Types>`

const rootRelsXML = xml.Header +
	`<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">` +
	`<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>` +
	`<Relationship Id="rId2" Type="http://schemas.openxmlformats.org/package/2006/relationships/metadata/core-properties" Target="docProps/core.xml"/>` +
	`<Relationship Id="rId3" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/extended-properties" Target="docProps/app.xml"/>` +
	`</Relationships>`

const documentRelsXML = xml.Header +
	`<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">` +
	`<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/styles" Target="styles.xml"/>` +
	`</Relationships>`

const appXML = xml.Header +
	`<Properties xmlns="http://schemas.openxmlformats.org/officeDocument/2006/extended-properties">` +
	`<Application>pmodoc</Application></Properties>`

// Title mirrors Word's built-in style used for heading level 0.
const stylesXML = xml.Header +
	`<w:styles xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">` +
	`<w:style w:type="paragraph" w:default="1" w:styleId="Normal"><w:name w:val="Normal"/><w:qFormat/></w:style>` +
	`<w:style w:type="paragraph" w:styleId="Title"><w:name w:val="Title"/><w:basedOn w:val="Normal"/>` +
	`<w:next w:val="Normal"/><w:qFormat/><w:pPr><w:spacing w:after="300"/><w:contextualSpacing/></w:pPr>` +
	`<w:rPr><w:rFonts w:asciiTheme="majorHAnsi" w:hAnsiTheme="majorHAnsi"/><w:spacing w:val="5"/>` +
	`<w:kern w:val="28"/><w:sz w:val="52"/><w:szCs w:val="52"/></w:rPr></w:style>` +
	`</w:styles>`

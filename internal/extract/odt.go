package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// odtContentXMLPath is the path to the document body inside an .odt zip.
const odtContentXMLPath = "content.xml"

// odtParagraph matches ODF paragraph and heading elements; their inner text
// is recovered after stripping any nested markup such as spans.
var (
	odtParagraph = regexp.MustCompile(`<text:(?:p|h)[^>]*>(.*?)</text:(?:p|h)>`)
	odtMarkup    = regexp.MustCompile(`<[^>]+>`)
)

// extractODT extracts text from .odt bytes. ODT is a ZIP containing
// content.xml (ODF); paragraph and heading nodes are collected with nested
// spans flattened.
func extractODT(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("extract ODT: not a zip: %w", err)
	}
	var docXML []byte
	for _, f := range zr.File {
		if f.Name != odtContentXMLPath {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("extract ODT: open %s: %w", f.Name, err)
		}
		docXML, err = io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return "", fmt.Errorf("extract ODT: read %s: %w", f.Name, err)
		}
		break
	}
	if docXML == nil {
		return "", fmt.Errorf("extract ODT: %s not found", odtContentXMLPath)
	}
	parts := odtParagraph.FindAllStringSubmatch(string(docXML), -1)
	if len(parts) == 0 {
		return "", nil
	}
	var b strings.Builder
	for _, p := range parts {
		text := strings.Join(strings.Fields(odtMarkup.ReplaceAllString(p[1], " ")), " ")
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(text)
	}
	return strings.TrimSpace(b.String()), nil
}

package extract

import (
	"archive/zip"
	"bytes"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestExtractBytes_Plain(t *testing.T) {
	e := NewExtractor()
	got, err := e.ExtractBytes([]byte("hello world"), ".txt")
	if err != nil {
		t.Fatal(err)
	}
	if got != "hello world" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_UnknownExtensionFallsBackToPlain(t *testing.T) {
	e := NewExtractor()
	got, err := e.ExtractBytes([]byte("raw content"), ".log")
	if err != nil {
		t.Fatal(err)
	}
	if got != "raw content" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_InvalidUTF8Replaced(t *testing.T) {
	e := NewExtractor()
	got, err := e.ExtractBytes([]byte{0x68, 0x69, 0xff, 0xfe}, ".txt")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(got, "hi") {
		t.Errorf("got %q", got)
	}
	if strings.Contains(got, "\xff") {
		t.Error("invalid bytes not replaced")
	}
}

func TestExtractBytes_DOCX(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, _ := zw.Create("word/document.xml")
	_, _ = w.Write([]byte(`<w:document><w:body><w:p w:rsidR="x"><w:r><w:t>first part</w:t></w:r><w:r><w:t xml:space="preserve">second</w:t></w:r></w:p></w:body></w:document>`))
	_ = zw.Close()

	e := NewExtractor()
	got, err := e.ExtractBytes(buf.Bytes(), ".docx")
	if err != nil {
		t.Fatal(err)
	}
	if got != "first part second" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_ODT(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, _ := zw.Create("content.xml")
	_, _ = w.Write([]byte(`<office:document-content><office:body><office:text><text:h text:outline-level="1">Title</text:h><text:p>plain paragraph</text:p><text:p><text:span text:style-name="T1">spanned</text:span> text</text:p></office:text></office:body></office:document-content>`))
	_ = zw.Close()

	e := NewExtractor()
	got, err := e.ExtractBytes(buf.Bytes(), ".odt")
	if err != nil {
		t.Fatal(err)
	}
	if got != "Title plain paragraph spanned text" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_Excel(t *testing.T) {
	f := excelize.NewFile()
	_ = f.SetCellValue("Sheet1", "A1", "machine")
	_ = f.SetCellValue("Sheet1", "B1", "status")
	_ = f.SetCellValue("Sheet1", "A2", "pump-1")
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatal(err)
	}
	_ = f.Close()

	e := NewExtractor()
	got, err := e.ExtractBytes(buf.Bytes(), ".xlsx")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "machine\tstatus") || !strings.Contains(got, "pump-1") {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_DOCXNotZip(t *testing.T) {
	e := NewExtractor()
	if _, err := e.ExtractBytes([]byte("not a zip"), ".docx"); err == nil {
		t.Error("expected error for malformed docx")
	}
}

package services

import (
	"archive/zip"
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestWriteSimpleDocx_ProducesValidPackage(t *testing.T) {
	data, err := WriteSimpleDocx("Ada Lovelace", "First line.\r\nSecond line.")
	if err != nil {
		t.Fatalf("WriteSimpleDocx: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("not a zip archive: %v", err)
	}

	seen := map[string]bool{}
	for _, f := range zr.File {
		seen[f.Name] = true
	}
	for _, name := range []string{"[Content_Types].xml", "_rels/.rels", "word/document.xml"} {
		if !seen[name] {
			t.Fatalf("missing package part %s", name)
		}
	}

	doc := readZipEntry(t, zr, "word/document.xml")
	if !strings.Contains(doc, "<w:b/>") || !strings.Contains(doc, "Ada Lovelace") {
		t.Fatalf("expected bold name heading, got %q", doc)
	}
	if !strings.Contains(doc, "First line.") || !strings.Contains(doc, "Second line.") {
		t.Fatalf("expected one paragraph per line, got %q", doc)
	}
}

func TestWriteSimpleDocx_EscapesMarkupInContent(t *testing.T) {
	data, err := WriteSimpleDocx("A & B <Ltd>", "1 < 2 && 3 > 2")
	if err != nil {
		t.Fatalf("WriteSimpleDocx: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("not a zip archive: %v", err)
	}

	doc := readZipEntry(t, zr, "word/document.xml")
	if strings.Contains(doc, "<Ltd>") {
		t.Fatalf("raw markup leaked into document: %q", doc)
	}
	if !strings.Contains(doc, "A &amp; B &lt;Ltd&gt;") {
		t.Fatalf("expected escaped name, got %q", doc)
	}
	if !strings.Contains(doc, "1 &lt; 2 &amp;&amp; 3 &gt; 2") {
		t.Fatalf("expected escaped body, got %q", doc)
	}
}

func readZipEntry(t *testing.T, zr *zip.Reader, name string) string {
	t.Helper()
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", name, err)
		}
		raw, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		return string(raw)
	}
	t.Fatalf("missing package part %s", name)
	return ""
}

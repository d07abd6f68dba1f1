package services

import (
	"archive/zip"
	"io"
	"path/filepath"
	"regexp"
	"strings"
)

const extractMaxChars = 4000

var (
	docxParaBreak = strings.NewReplacer("</w:p>", "\n", "</w:tr>", "\n")
	xmlTagPattern = regexp.MustCompile(`<[^>]+>`)
)

// ExtractFileTexts pulls best-effort plain text out of stored uploads to
// enrich the prompt. Supports .txt directly and .docx via its document XML;
// anything else, and any per-file failure, is skipped silently.
func ExtractFileTexts(absPaths []string, readFile func(string) ([]byte, error)) []FileExcerpt {
	var out []FileExcerpt
	for _, abs := range absPaths {
		name := filepath.Base(abs)
		switch strings.ToLower(filepath.Ext(abs)) {
		case ".txt":
			raw, err := readFile(abs)
			if err != nil {
				continue
			}
			out = append(out, FileExcerpt{Filename: name, Text: clipText(string(raw))})
		case ".docx":
			text, err := extractDocxText(abs)
			if err != nil || text == "" {
				continue
			}
			out = append(out, FileExcerpt{Filename: name, Text: clipText(text)})
		}
	}
	return out
}

func extractDocxText(absPath string) (string, error) {
	zr, err := zip.OpenReader(absPath)
	if err != nil {
		return "", err
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", err
		}
		raw, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return "", err
		}
		text := docxParaBreak.Replace(string(raw))
		text = xmlTagPattern.ReplaceAllString(text, "")
		return strings.TrimSpace(text), nil
	}
	return "", nil
}

// clipRunes trims s to at most max runes. Clipping on a byte index can cut
// through a multibyte character and leave invalid UTF-8 in the output.
func clipRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

func clipText(s string) string {
	return clipRunes(s, extractMaxChars)
}

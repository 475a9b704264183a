package sources

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ExtractPDFText pulls plain text out of an in-memory PDF, returning
// the text and the page count. The parser panics on some malformed
// files, so failures of any kind surface as an error.
func ExtractPDFText(data []byte) (text string, pages int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf parse panic: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", 0, fmt.Errorf("failed to parse pdf: %w", err)
	}

	pages = reader.NumPage()
	var parts []string
	for pageNum := 1; pageNum <= pages; pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if strings.TrimSpace(pageText) != "" {
			parts = append(parts, pageText)
		}
	}

	text = strings.TrimSpace(strings.Join(parts, "\n\n"))
	if text == "" {
		return "", pages, errors.New("pdf contained no extractable text")
	}
	return text, pages, nil
}

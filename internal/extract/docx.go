package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strings"
)

type wordDocument struct {
	Body struct {
		Paragraphs []wordParagraph `xml:"p"`
	} `xml:"body"`
}

type wordParagraph struct {
	Runs []struct {
		Text []struct {
			Content string `xml:",chardata"`
		} `xml:"t"`
	} `xml:"r"`
}

// docxText reads word/document.xml out of the OOXML package.
func docxText(data []byte) (string, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	for _, file := range reader.File {
		if file.Name != "word/document.xml" {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return "", err
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", err
		}

		var doc wordDocument
		if err := xml.Unmarshal(content, &doc); err != nil {
			return "", err
		}

		var out strings.Builder
		for i, para := range doc.Body.Paragraphs {
			if i > 0 {
				out.WriteString("\n")
			}
			for _, run := range para.Runs {
				for _, t := range run.Text {
					out.WriteString(t.Content)
				}
			}
		}
		return strings.TrimSpace(out.String()), nil
	}
	return "", errors.New("word/document.xml not found")
}

// Package preprocess turns uploaded files into text the planner can use.
// It never fails: unsupported or broken files yield sentinel content.
package preprocess

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/url"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-shiori/go-readability"
)

const (
	MimeJPEG = "image/jpeg"
	MimePNG  = "image/png"
	MimeGIF  = "image/gif"
	MimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimeDOC  = "application/msword"
	MimeHTML = "text/html"
	MimeText = "text/plain"
	mimeZip  = "application/zip"
)

// Upload is a raw file received with a chat request.
type Upload struct {
	Filename string `json:"filename"`
	Data     []byte `json:"data"`
}

// ProcessedFile is the extracted view of an Upload.
type ProcessedFile struct {
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	Content  string `json:"content"`
}

// HasText reports whether Content is extracted document text rather than a
// sentinel or an image summary.
func (p ProcessedFile) HasText() bool {
	switch p.MimeType {
	case MimeDOCX, MimeHTML, MimeText:
		return strings.TrimSpace(p.Content) != "" && !strings.HasPrefix(p.Content, "Error processing")
	}
	return false
}

// Files processes uploads in order. It returns an empty slice for no input.
func Files(ctx context.Context, files []Upload) []ProcessedFile {
	out := make([]ProcessedFile, 0, len(files))
	for _, f := range files {
		if ctx.Err() != nil {
			out = append(out, ProcessedFile{Filename: f.Filename, Content: fmt.Sprintf("Error processing file: %v", ctx.Err())})
			continue
		}
		out = append(out, File(f))
	}
	return out
}

// File processes a single upload.
func File(f Upload) ProcessedFile {
	mime := Detect(f.Data)
	pf := ProcessedFile{Filename: f.Filename, MimeType: mime}
	switch mime {
	case MimeJPEG, MimePNG, MimeGIF:
		pf.Content = imageSummary(f.Data)
	case MimeDOCX:
		pf.Content = docxText(f.Data)
	case MimeDOC:
		pf.Content = "Unsupported document type for direct text extraction."
	case MimeHTML:
		pf.Content = htmlText(f.Data, f.Filename)
	case MimeText:
		pf.Content = string(f.Data)
	default:
		pf.Content = "Unsupported file type: " + mime
	}
	return pf
}

// Detect sniffs the content type of data, without parameters.
func Detect(data []byte) string {
	mime := mimetype.Detect(data).String()
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	if mime == mimeZip && hasDocumentXML(data) {
		return MimeDOCX
	}
	return mime
}

func imageSummary(data []byte) string {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Sprintf("Error processing image: %v", err)
	}
	return fmt.Sprintf("Image detected with dimensions: %dx%d", cfg.Width, cfg.Height)
}

func hasDocumentXML(data []byte) bool {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return false
	}
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			return true
		}
	}
	return false
}

// docxText returns the raw paragraph text of word/document.xml.
func docxText(data []byte) string {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Sprintf("Error processing document: %v", err)
	}
	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Sprintf("Error processing document: %v", err)
		}
		defer rc.Close()
		text, err := paragraphs(rc)
		if err != nil {
			return fmt.Sprintf("Error processing document: %v", err)
		}
		return text
	}
	return "Error processing document: word/document.xml not found"
}

func paragraphs(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var (
		b      strings.Builder
		inText bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				b.WriteByte('\t')
			case "br", "cr":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteString("\n\n")
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return strings.TrimSpace(b.String()), nil
}

func htmlText(data []byte, filename string) string {
	base, err := url.Parse("file:///" + url.PathEscape(filename))
	if err != nil {
		base = &url.URL{}
	}
	article, err := readability.FromReader(bytes.NewReader(data), base)
	if err != nil {
		return fmt.Sprintf("Error processing document: %v", err)
	}
	text := strings.TrimSpace(article.TextContent)
	if title := strings.TrimSpace(article.Title); title != "" && !strings.HasPrefix(text, title) {
		text = title + "\n\n" + text
	}
	return text
}

package summarizer

import (
	"archive/zip"
	"encoding/csv"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/xuri/excelize/v2"

	"github.com/koladefaj/document-intelligence-backend/internal/pkg/filetype"
)

// maxTableRows bounds how much of a spreadsheet or CSV is read.
const maxTableRows = 500

// Extraction is the text pulled out of one file.
type Extraction struct {
	Type      string
	Text      string
	PageCount int
	// Unsupported is set when no extractor exists for Type; Text is empty then.
	Unsupported bool
}

// Extract dispatches on the file type. mimeHint wins when it names a known
// type; otherwise the extension and finally the leading bytes decide.
func Extract(path, mimeHint string) (*Extraction, error) {
	typ, err := resolveType(path, mimeHint)
	if err != nil {
		return nil, err
	}

	out := &Extraction{Type: typ}
	switch typ {
	case filetype.PDF:
		out.Text, out.PageCount, err = extractPDF(path)
	case filetype.DOCX:
		out.Text, err = extractDOCX(path)
	case filetype.XLSX:
		out.Text, err = extractXLSX(path)
	case filetype.XLS:
		out.Text, err = extractXLS(path)
	case filetype.DOC:
		out.Text, err = extractDOC(path)
	case filetype.CSV:
		out.Text, err = extractCSV(path)
	case filetype.Text, filetype.Markdown:
		var b []byte
		b, err = os.ReadFile(path)
		out.Text = string(b)
	default:
		out.Unsupported = true
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func resolveType(path, mimeHint string) (string, error) {
	hint := filetype.Normalize(mimeHint)
	if hint != "" && hint != filetype.Binary && hint != filetype.Zip {
		return hint, nil
	}
	if t := filetype.ForExtension(filetype.Ext(path)); t != "" {
		return t, nil
	}
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("detect type: %w", err)
	}
	return filetype.Normalize(mt.String()), nil
}

func extractPDF(path string) (string, int, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	total := r.NumPage()
	for i := 1; i <= total; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return "", 0, fmt.Errorf("page %d: %w", i, err)
		}
		b.WriteString(text)
		b.WriteString("\n")
	}

	pages, err := api.PageCountFile(path)
	if err != nil {
		pages = total
	}
	return b.String(), pages, nil
}

func extractDOCX(path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("open document part: %w", err)
		}
		defer rc.Close()
		return docxText(rc)
	}
	return "", errors.New("docx has no word/document.xml")
}

// docxText keeps the text runs of a WordprocessingML body, one paragraph per line.
func docxText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var b strings.Builder
	inText := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse document part: %w", err)
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
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return b.String(), nil
}

// extractXLSX reads the first sheet.
func extractXLSX(path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return "", nil
	}
	rows, err := f.Rows(sheets[0])
	if err != nil {
		return "", fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	defer rows.Close()

	var b strings.Builder
	// header plus maxTableRows data rows
	for n := 0; n <= maxTableRows && rows.Next(); n++ {
		cols, err := rows.Columns()
		if err != nil {
			return "", fmt.Errorf("read row %d: %w", n+1, err)
		}
		writeRow(&b, cols)
	}
	return b.String(), rows.Error()
}

func extractCSV(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var b strings.Builder
	for n := 0; n <= maxTableRows; n++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse csv: %w", err)
		}
		writeRow(&b, rec)
	}
	return b.String(), nil
}

func writeRow(b *strings.Builder, cells []string) {
	b.WriteString(strings.Join(cells, " "))
	b.WriteByte('\n')
}

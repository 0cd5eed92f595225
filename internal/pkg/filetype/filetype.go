package filetype

import (
	"path/filepath"
	"strings"
)

const (
	PDF      = "application/pdf"
	DOCX     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	DOC      = "application/msword"
	XLSX     = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	XLS      = "application/vnd.ms-excel"
	CSV      = "text/csv"
	Text     = "text/plain"
	Markdown = "text/markdown"
	Zip      = "application/zip"
	Binary   = "application/octet-stream"
)

var byExtension = map[string]string{
	".pdf":  PDF,
	".docx": DOCX,
	".doc":  DOC,
	".xlsx": XLSX,
	".xls":  XLS,
	".csv":  CSV,
	".txt":  Text,
	".md":   Markdown,
}

// Normalize lower-cases a MIME type and drops its parameters.
func Normalize(mime string) string {
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	return strings.ToLower(strings.TrimSpace(mime))
}

// Ext returns the lower-cased extension of name including the dot.
func Ext(name string) string {
	return strings.ToLower(filepath.Ext(name))
}

// ForExtension maps a file extension to the type the extractors understand.
// Unknown extensions map to "".
func ForExtension(ext string) string {
	return byExtension[strings.ToLower(ext)]
}

// Package export renders workspace progress as a portable JSON backup or a
// compliance report (PDF, DOCX), optionally archiving the result.
package export

import (
	"errors"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// ParseFormat maps an empty value to FormatJSON.
func ParseFormat(value string) (Format, error) {
	switch Format(value) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatPDF, FormatDOCX:
		return Format(value), nil
	default:
		return "", ErrUnsupportedFormat
	}
}

type Request struct {
	WorkspaceID   string
	WorkspaceName string
	Format        Format
	// Archive also stores the output in the report bucket.
	Archive bool
}

type Result struct {
	Data       []byte
	Filename   string
	MimeType   string
	ArchiveKey string
	ArchiveURL string
}

var (
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
	ErrArchiveUnavailable    = errors.New("report archive not configured")
)

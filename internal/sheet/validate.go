package sheet

import (
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
)

// MaxFileSize is the largest accepted upload, 5 MiB.
const MaxFileSize int64 = 5 << 20

var (
	ErrUnsupportedFileType = errors.New("only Excel files (.xls, .xlsx) are supported")
	ErrFileTooLarge        = fmt.Errorf("file must be smaller than %d MiB", MaxFileSize>>20)
)

var spreadsheetMIMETypes = map[string]struct{}{
	"application/vnd.ms-excel": {},
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": {},
}

var spreadsheetExtensions = map[string]struct{}{
	".xls":  {},
	".xlsx": {},
}

// ValidateFile checks an upload before parsing. Either a spreadsheet MIME type
// or a spreadsheet extension is enough; browsers often send an empty or
// generic content type.
func ValidateFile(name, contentType string, size int64) error {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	_, mimeOK := spreadsheetMIMETypes[mediaType]
	_, extOK := spreadsheetExtensions[strings.ToLower(filepath.Ext(name))]
	if !mimeOK && !extOK {
		return ErrUnsupportedFileType
	}
	if size > MaxFileSize {
		return ErrFileTooLarge
	}
	return nil
}

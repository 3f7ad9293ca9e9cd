package applink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"

	"github.com/ledongthuc/pdf"
)

// ErrInvalidRecordID is returned for ids that are not 15 or 18 character
// Salesforce record ids.
var ErrInvalidRecordID = errors.New("invalid record id")

var recordIDPattern = regexp.MustCompile(`^[a-zA-Z0-9]{15}(?:[a-zA-Z0-9]{3})?$`)

// ValidRecordID reports whether id has the shape of a Salesforce record id.
func ValidRecordID(id string) bool { return recordIDPattern.MatchString(id) }

// ContentVersionData downloads the binary body of a ContentVersion.
func (d *DataAPI) ContentVersionData(ctx context.Context, contentVersionID string) ([]byte, error) {
	if !ValidRecordID(contentVersionID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRecordID, contentVersionID)
	}
	path := d.BasePath() + "/sobjects/ContentVersion/" + url.PathEscape(contentVersionID) + "/VersionData"
	return d.raw(ctx, http.MethodGet, path, nil, "*/*")
}

// ExtractPDFText returns the plain text content of a PDF document.
func ExtractPDFText(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	txt, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, txt); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return buf.String(), nil
}

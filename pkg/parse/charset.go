package parse

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"golang.org/x/net/html/charset"

	"webspider/pkg/utils"
)

// DecodeHTML returns a reader yielding the body converted to UTF-8
// The encoding is taken from the Content-Type header, then <meta> tags, then sniffed
// On failure the raw bytes are returned together with an ErrParseMalformed-wrapped error
func DecodeHTML(content []byte, contentType string) (io.Reader, error) {
	reader, err := charset.NewReader(bytes.NewReader(content), contentType)
	if err != nil {
		return bytes.NewReader(content), fmt.Errorf("%w: charset detection: %w", utils.ErrParseMalformed, err)
	}
	return reader, nil
}

// IsHTML reports whether a response should be scanned for links
// An empty Content-Type falls back to content sniffing
func IsHTML(contentType string, content []byte) bool {
	if strings.TrimSpace(contentType) == "" {
		contentType = http.DetectContentType(content)
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

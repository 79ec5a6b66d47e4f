package parse

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"webspider/pkg/utils"
)

// LinkOptions controls which references ExtractLinks reports
type LinkOptions struct {
	RespectNofollow bool // Skip anchors carrying rel="nofollow"
}

// linkSelector covers every element whose href is a navigable link
const linkSelector = "a[href], area[href]"

// ExtractLinks parses markup and returns the raw href values in document order, plus the base URL they resolve against
// The base is pageURL unless the document declares a valid <base href>
// Malformed markup yields whatever links could be recovered and an error wrapping utils.ErrParseMalformed; callers treat it as non-fatal
func ExtractLinks(content []byte, contentType string, pageURL *url.URL, opts LinkOptions) ([]string, *url.URL, error) {
	var softErr error

	reader, err := DecodeHTML(content, contentType)
	if err != nil {
		softErr = err // Raw bytes are still worth scanning
	}

	doc, err := goquery.NewDocumentFromReader(reader)
	if err != nil {
		// The decoder may have failed mid-stream; retry on the undecoded body before giving up
		doc, err = goquery.NewDocumentFromReader(bytes.NewReader(content))
		if err != nil {
			return nil, pageURL, fmt.Errorf("%w: %w", utils.ErrParseMalformed, err)
		}
		softErr = errors.Join(softErr, fmt.Errorf("%w: decoded body unreadable, used raw bytes", utils.ErrParseMalformed))
	}

	base := pageURL
	if href, exists := doc.Find("base[href]").First().Attr("href"); exists {
		if parsed, perr := url.Parse(strings.TrimSpace(href)); perr == nil {
			if pageURL != nil {
				base = pageURL.ResolveReference(parsed)
			} else if parsed.IsAbs() {
				base = parsed
			}
		}
	}

	var links []string
	doc.Find(linkSelector).Each(func(_ int, sel *goquery.Selection) {
		if opts.RespectNofollow && hasNofollow(sel) {
			return
		}
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" {
			return
		}
		links = append(links, href)
	})

	return links, base, softErr
}

func hasNofollow(sel *goquery.Selection) bool {
	rel, ok := sel.Attr("rel")
	if !ok {
		return false
	}
	for _, token := range strings.Fields(strings.ToLower(rel)) {
		if token == "nofollow" {
			return true
		}
	}
	return false
}

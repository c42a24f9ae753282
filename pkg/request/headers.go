package request

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Response headers consumed by the projection.
const (
	HeaderETag        = "ETag"
	HeaderLink        = "Link"
	HeaderCurrentPage = "X-Current-Page"
	HeaderTotalPages  = "X-Total-Pages"
)

// linkNextRe finds the next page in a Link header.
var linkNextRe = regexp.MustCompile(`<([^>]*)>; rel="next"`)

// Headers is the subset of response metadata stored alongside a cached payload.
// A nil field means the value is unknown, never zero.
type Headers struct {
	ETag     *string `json:"etag,omitempty"`
	ThisPage *int    `json:"this_page,omitempty"`
	NextPage *string `json:"next_page,omitempty"`
	LastPage *int    `json:"last_page,omitempty"`
}

// ProjectHeaders extracts Headers from raw response headers.
// Missing or malformed values are left nil; projection never fails.
func ProjectHeaders(h http.Header) Headers {
	var out Headers

	if etag := h.Get(HeaderETag); etag != "" && utf8.ValidString(etag) {
		out.ETag = &etag
	}
	out.ThisPage = parsePage(h.Get(HeaderCurrentPage))
	out.LastPage = parsePage(h.Get(HeaderTotalPages))

	// A response may carry several Link header lines
	for _, link := range h.Values(HeaderLink) {
		if m := linkNextRe.FindStringSubmatch(link); m != nil {
			next := m[1]
			out.NextPage = &next
			break
		}
	}

	return out
}

// ETagValue returns the stored validator or "" if none is known.
func (h Headers) ETagValue() string {
	if h.ETag == nil {
		return ""
	}
	return *h.ETag
}

// HasMorePages reports whether the page counters say another page follows.
// Absent counters count as zero.
func (h Headers) HasMorePages() bool {
	this, last := 0, 0
	if h.ThisPage != nil {
		this = *h.ThisPage
	}
	if h.LastPage != nil {
		last = *h.LastPage
	}
	return this < last
}

func parsePage(raw string) *int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	n, err := strconv.ParseUint(raw, 10, 31)
	if err != nil {
		return nil
	}
	page := int(n)
	return &page
}

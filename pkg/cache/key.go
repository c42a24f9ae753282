package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// NormalizeURL turns a URL into its canonical cache key.
//
// Scheme and host are lower-cased, the fragment is dropped and query
// parameters are sorted by name, then by value. The result is itself a valid
// URL, so it doubles as the address that gets requested.
//
// Example:
//
//	https://OpenMensa.org/api/v2/canteens?page=2&limit=10#x
//	-> https://openmensa.org/api/v2/canteens?limit=10&page=2
func NormalizeURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: %q is not absolute", ErrInvalidKey, raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" {
		u.Path = "/"
	}

	query := u.Query()
	if len(query) == 0 {
		u.RawQuery = ""
		return u.String(), nil
	}

	names := make([]string, 0, len(query))
	for name := range query {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		values := append([]string(nil), query[name]...)
		sort.Strings(values)
		for _, value := range values {
			parts = append(parts, url.QueryEscape(name)+"="+url.QueryEscape(value))
		}
	}
	u.RawQuery = strings.Join(parts, "&")

	return u.String(), nil
}

package crawler

import (
	"net/url"
	"strings"
)

// Canonicalize reduces a URL to the identity string used for deduplication.
// Scheme and host are lower-cased, the fragment is dropped and trailing
// slashes are trimmed from the path unless the path is exactly "/". Params
// after the last path segment's ";" are split off first, so "/b/;p" becomes
// "/b;p". The path, params and query are otherwise kept byte for byte; query
// parameters are neither removed nor reordered. Input that does not parse is
// returned as is.
func Canonicalize(rawURL string) string {
	if _, err := url.Parse(rawURL); err != nil {
		return rawURL
	}

	rest, _, _ := strings.Cut(rawURL, "#")

	var prefix string
	if scheme, afterScheme, ok := strings.Cut(rest, ":"); ok && isScheme(scheme) {
		prefix = strings.ToLower(scheme) + ":"
		rest = afterScheme
	}
	if strings.HasPrefix(rest, "//") {
		host, tail := splitAuthority(rest[2:])
		prefix += "//" + strings.ToLower(host)
		rest = tail
	}

	path, query, _ := strings.Cut(rest, "?")
	path, params := splitParams(path)
	path = trimTrailingSlashes(path)

	out := prefix + path
	if params != "" {
		out += ";" + params
	}
	if query != "" {
		out += "?" + query
	}
	return out
}

// splitParams separates ";params" when the last path segment carries them.
func splitParams(path string) (string, string) {
	last := strings.LastIndex(path, "/")
	if !strings.Contains(path[last+1:], ";") {
		return path, ""
	}
	i := strings.Index(path, ";")
	return path[:i], path[i+1:]
}

func splitAuthority(s string) (host, tail string) {
	end := strings.IndexAny(s, "/?")
	if end < 0 {
		return s, ""
	}
	return s[:end], s[end:]
}

func trimTrailingSlashes(path string) string {
	if path == "" || path == "/" {
		return path
	}
	trimmed := strings.TrimRight(path, "/")
	if trimmed == "" {
		return "/"
	}
	return trimmed
}

func isScheme(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r >= '0' && r <= '9' || r == '+' || r == '-' || r == '.'):
		default:
			return false
		}
	}
	return true
}

// SameCanonical reports whether two URLs share a canonical form.
func SameCanonical(a, b string) bool {
	return Canonicalize(a) == Canonicalize(b)
}

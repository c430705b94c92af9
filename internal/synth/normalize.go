package synth

import (
	"net/url"
	"strings"
)

// NormalizeResultURL turns a job result locator into a client-usable absolute
// URL. Relative paths are rebased onto the voice service's public base URL.
// Cloudflare-style indirection hosts are rewritten back to their path and
// rebased too: those hosts rotate and are not stable for playback. Other
// absolute URLs pass through untouched.
func NormalizeResultURL(raw, publicBase string) string {
	if raw == "" {
		return ""
	}

	base := strings.TrimRight(publicBase, "/")

	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		u, err := url.Parse(raw)
		if err != nil {
			return raw
		}
		if strings.Contains(u.Host, "cloudflare") {
			return base + u.Path + query(u)
		}
		return raw
	}

	if !strings.HasPrefix(raw, "/") {
		raw = "/" + raw
	}
	return base + raw
}

func query(u *url.URL) string {
	if u.RawQuery == "" {
		return ""
	}
	return "?" + u.RawQuery
}

// normalizeResult rewrites both locator variants of a result in place.
func normalizeResult(r *Result, publicBase string) {
	r.WAVURL = NormalizeResultURL(r.WAVURL, publicBase)
	r.MP3URL = NormalizeResultURL(r.MP3URL, publicBase)
}

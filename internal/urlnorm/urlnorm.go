// Package urlnorm implements the URL Normalizer (spec §4.B): a single
// canonical algorithm for turning an observed URL into a stable identity
// key, used by the Video Registry to dedup Streams within a tab.
package urlnorm

import (
	"crypto/sha1"
	"encoding/hex"
	"mime"
	"net/url"
	"strings"
)

// trackingParams never affect content and are always safe to strip.
var trackingParams = map[string]bool{
	"fbclid": true, "gclid": true, "msclkid": true,
	"_t": true, "_r": true, "cache": true, "_": true,
	"time": true, "timestamp": true, "random": true,
	"nonce": true, "cachebuster": true,
}

// streamSessionParams are stripped only for manifest-like URLs, where they
// are session/quality selectors rather than part of the resource identity.
var streamSessionParams = map[string]bool{
	"seq": true, "segment": true, "session": true, "cmsid": true,
	"start": true, "end": true, "quality": true, "itag": true, "v": true,
}

func isUTMParam(key string) bool {
	return strings.HasPrefix(strings.ToLower(key), "utm_")
}

// Canonicalize implements spec §4.B's canonicalize(url). It is idempotent:
// Canonicalize(Canonicalize(u)) == Canonicalize(u).
func Canonicalize(rawURL string) string {
	if strings.HasPrefix(rawURL, "blob:") {
		return canonicalizeBlob(rawURL)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Path != "/" {
		u.Path = strings.TrimRight(u.Path, "/")
	}

	q := u.Query()
	for key := range q {
		if trackingParams[key] || isUTMParam(key) {
			q.Del(key)
		}
	}

	if isManifestLike(u.Path) {
		for key := range q {
			if streamSessionParams[key] {
				q.Del(key)
			}
		}
		u.RawQuery = ""
		u.Fragment = ""
		return u.Scheme + "://" + u.Host + u.Path
	}

	u.RawQuery = q.Encode()
	u.Fragment = ""

	result := u.Scheme + "://" + u.Host + u.Path
	if u.RawQuery != "" {
		result += "?" + u.RawQuery
	}
	return result
}

func isManifestLike(path string) bool {
	lower := strings.ToLower(path)
	return strings.Contains(lower, "/manifest") ||
		strings.Contains(lower, "/playlist") ||
		strings.Contains(lower, "/master.m3u8") ||
		strings.Contains(lower, "/index.m3u8") ||
		strings.HasSuffix(lower, "manifest.mpd")
}

// canonicalizeBlob implements the base blob identity rule: origin +
// "-blob", never sharing identity across origins. The optional MIME
// main-type and player tag are appended by CanonicalizeBlobWithMeta.
func canonicalizeBlob(rawURL string) string {
	inner := strings.TrimPrefix(rawURL, "blob:")
	u, err := url.Parse(inner)
	origin := inner
	if err == nil && u.Scheme != "" && u.Host != "" {
		origin = strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
	}
	return origin + "-blob"
}

// CanonicalizeBlobWithMeta builds a blob identity that additionally
// disambiguates by MIME main type and a known player tag, per spec §4.B,
// for call sites that have that metadata available at detection time.
func CanonicalizeBlobWithMeta(rawURL, mimeType, knownPlayerTag string) string {
	base := canonicalizeBlob(rawURL)
	if mimeType != "" {
		if mediaType, _, err := mime.ParseMediaType(mimeType); err == nil {
			if slash := strings.Index(mediaType, "/"); slash > 0 {
				base += "-" + mediaType[:slash]
			}
		}
	}
	if knownPlayerTag != "" {
		base += "-" + knownPlayerTag
	}
	return base
}

// BaseDirectory implements baseDirectory(url) = origin + dirname(pathname).
func BaseDirectory(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	dir := u.Path
	if idx := strings.LastIndex(dir, "/"); idx >= 0 {
		dir = dir[:idx]
	} else {
		dir = ""
	}
	if dir == "" {
		dir = "/"
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + dir
}

// HashKey derives a short, filesystem-safe key from a canonical URL, used
// where a canonical identity needs to appear in a path or cache key.
func HashKey(canonical string) string {
	sum := sha1.Sum([]byte(canonical))
	return hex.EncodeToString(sum[:])[:16]
}

// Package classifier implements the URL Classifier (spec §4.A): a pure
// function mapping an observed URL plus optional response metadata to a
// detection Decision. It performs no I/O and holds no state beyond the
// lookup tables it consults.
package classifier

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// Kind is the detection result of classifying a URL.
type Kind string

const (
	KindHLS     Kind = "hls"
	KindDASH    Kind = "dash"
	KindDirect  Kind = "direct"
	KindSegment Kind = "segment"
	KindBlob    Kind = "blob"
	KindIgnored Kind = "ignored"
)

// MediaKind distinguishes a direct file's media track type.
type MediaKind string

const (
	MediaVideo MediaKind = "video"
	MediaAudio MediaKind = "audio"
)

// ResponseMeta carries the subset of HTTP response metadata the classifier
// consults (spec §4.A inputs).
type ResponseMeta struct {
	ContentType        string
	ContentLength      int64
	HasContentLength   bool
	AcceptRanges       string
	ContentDisposition string
	Filename           string
}

// Decision is the classifier's verdict for a candidate URL.
type Decision struct {
	Kind             Kind
	Container        string
	MediaKind        MediaKind
	FoundFromQuery   bool
	OriginalURL      string // set when the candidate was replaced by an embedded URL
	CandidateURL     string // the URL that was actually classified (may differ from the input)
}

// SegmentDetector is the narrow view of the Detection Context (component E)
// the classifier needs for step 6's segment test, avoiding an import cycle.
type SegmentDetector interface {
	// HasMPDContext reports whether tabID has recently observed an MPD.
	HasMPDContext(tabID int64) bool
	// MatchesSegmentPrefix reports whether url matches a learned DASH segment prefix for tabID.
	MatchesSegmentPrefix(tabID int64, url string) bool
}

// noopDetector treats every tab as having no DASH context; used when the
// caller does not have per-tab detection state available (e.g. unit tests
// for rule (d), which does not depend on tab context).
type noopDetector struct{}

func (noopDetector) HasMPDContext(int64) bool                { return false }
func (noopDetector) MatchesSegmentPrefix(int64, string) bool { return false }

// NoopDetector is a SegmentDetector that never reports DASH context.
var NoopDetector SegmentDetector = noopDetector{}

var (
	nonMediaExtensions = map[string]bool{
		"js": true, "css": true, "json": true, "xml": true, "woff": true, "woff2": true,
		"ttf": true, "eot": true, "otf": true, "jpg": true, "jpeg": true, "png": true,
		"gif": true, "svg": true, "ico": true, "webp": true, "avif": true, "bmp": true,
		"pdf": true, "doc": true, "docx": true, "xls": true, "xlsx": true, "ppt": true,
		"pptx": true, "txt": true, "map": true, "html": true, "htm": true, "php": true,
		"asp": true, "aspx": true, "jsp": true,
	}

	directContainerExtensions = map[string]string{
		"mp4": "mp4", "webm": "webm", "ogg": "ogg", "mov": "mov", "avi": "avi",
		"mkv": "mkv", "flv": "flv", "3gp": "3gp", "m4v": "m4v", "wmv": "wmv",
	}

	trackerMarkers = []string{"/ping/", "/track/", "/pixel/", "/analytics/", "jwpltx", "ping.gif"}

	embeddedURLRe = regexp.MustCompile(`(?i)(\.m3u8|\.mpd)`)

	bytesRangeRe = regexp.MustCompile(`(?i)(bytes|range)=\d+-\d+`)

	segmentPatterns = []*regexp.Regexp{
		regexp.MustCompile(`segment-\d+`),
		regexp.MustCompile(`chunk-\d+`),
		regexp.MustCompile(`frag-\d+`),
		regexp.MustCompile(`seq-\d+`),
		regexp.MustCompile(`part-\d+`),
		regexp.MustCompile(`/(media|video|audio)_\d+`),
		regexp.MustCompile(`dash\d+`),
		regexp.MustCompile(`\d+\.(m4s|ts)$`),
		regexp.MustCompile(`[-_]\d+[-_]\d+\.(m4s|mp4)$`),
	}
)

// Classify implements spec §4.A's priority-ordered algorithm.
func Classify(rawURL string, meta *ResponseMeta, tabID int64, detector SegmentDetector) Decision {
	if detector == nil {
		detector = NoopDetector
	}
	return classify(rawURL, meta, tabID, detector, false, "")
}

func classify(rawURL string, meta *ResponseMeta, tabID int64, detector SegmentDetector, foundFromQuery bool, original string) Decision {
	// Step 1: blob scheme.
	if strings.HasPrefix(rawURL, "blob:") {
		return Decision{Kind: KindBlob, CandidateURL: rawURL, FoundFromQuery: foundFromQuery, OriginalURL: original}
	}

	parsed, parseErr := url.Parse(rawURL)
	pathLower := strings.ToLower(rawURL)
	var queryValues url.Values
	if parseErr == nil {
		pathLower = strings.ToLower(parsed.Path)
		queryValues = parsed.Query()
	}

	ext := extensionOf(pathLower)

	// Step 3: drop non-media extensions, unless an embedded URL rescues it (step 5 below).
	dropByExtension := nonMediaExtensions[ext]

	// Step 4: tracker/analytics hosts or paths.
	dropByTracker := isTrackerURL(strings.ToLower(rawURL))

	if dropByExtension || dropByTracker {
		if embedded, ok := findEmbeddedMediaURL(queryValues); ok {
			return classify(embedded, meta, tabID, detector, true, rawURL)
		}
		return Decision{Kind: KindIgnored, CandidateURL: rawURL}
	}

	// Also attempt embedded-URL extraction even when not dropped, per spec step 5
	// ("If any query-parameter value..."), but only rewrite when present.
	if !foundFromQuery {
		if embedded, ok := findEmbeddedMediaURL(queryValues); ok {
			return classify(embedded, meta, tabID, detector, true, rawURL)
		}
	}

	// Step 6: content-type driven classification.
	if meta != nil && meta.ContentType != "" {
		ct := strings.ToLower(meta.ContentType)
		switch {
		case ct == "application/dash+xml" || ct == "application/vnd.mpeg.dash.mpd":
			return Decision{Kind: KindDASH, CandidateURL: rawURL, FoundFromQuery: foundFromQuery, OriginalURL: original}
		case ct == "application/vnd.apple.mpegurl" || ct == "application/x-mpegurl" || ct == "audio/mpegurl" ||
			strings.Contains(ct, "mpegurl") || strings.Contains(ct, "m3u8"):
			return Decision{Kind: KindHLS, CandidateURL: rawURL, FoundFromQuery: foundFromQuery, OriginalURL: original}
		case (ct == "application/xml" || ct == "text/xml" || ct == "application/octet-stream") && strings.Contains(pathLower, ".mpd"):
			return Decision{Kind: KindDASH, CandidateURL: rawURL, FoundFromQuery: foundFromQuery, OriginalURL: original}
		case ct == "video/mp2t":
			return Decision{Kind: KindSegment, CandidateURL: rawURL}
		case strings.HasPrefix(ct, "video/") || strings.HasPrefix(ct, "audio/"):
			if isSegment(rawURL, pathLower, ext, tabID, meta, detector) {
				return Decision{Kind: KindSegment, CandidateURL: rawURL}
			}
			mk := MediaVideo
			if strings.HasPrefix(ct, "audio/") {
				mk = MediaAudio
			}
			return Decision{Kind: KindDirect, Container: ext, MediaKind: mk, CandidateURL: rawURL, FoundFromQuery: foundFromQuery, OriginalURL: original}
		}
	}

	// Step 7: no usable content type — classify from path.
	switch {
	case strings.HasSuffix(pathLower, ".m3u8"):
		return Decision{Kind: KindHLS, CandidateURL: rawURL, FoundFromQuery: foundFromQuery, OriginalURL: original}
	case strings.HasSuffix(pathLower, ".mpd"):
		return Decision{Kind: KindDASH, CandidateURL: rawURL, FoundFromQuery: foundFromQuery, OriginalURL: original}
	default:
		if container, ok := directContainerExtensions[ext]; ok {
			return Decision{Kind: KindDirect, Container: container, CandidateURL: rawURL, FoundFromQuery: foundFromQuery, OriginalURL: original}
		}
		return Decision{Kind: KindIgnored, CandidateURL: rawURL}
	}
}

// MinFileSizeDrop reports whether a direct-file Decision should be dropped
// because its response content-length is below the configured minimum
// (spec §4.A step 6, invariant §8.5).
func MinFileSizeDrop(meta *ResponseMeta, minFileSize int64) bool {
	return meta != nil && meta.HasContentLength && meta.ContentLength < minFileSize
}

func extensionOf(pathLower string) string {
	idx := strings.LastIndex(pathLower, ".")
	if idx < 0 || idx == len(pathLower)-1 {
		return ""
	}
	ext := pathLower[idx+1:]
	// Strip any trailing query-ish garbage that slipped through when URL parse failed.
	if amp := strings.IndexAny(ext, "?&#"); amp >= 0 {
		ext = ext[:amp]
	}
	return ext
}

func isTrackerURL(lowerURL string) bool {
	for _, marker := range trackerMarkers {
		if strings.Contains(lowerURL, marker) {
			return true
		}
	}
	return false
}

// findEmbeddedMediaURL implements spec §4.A step 5: scan query parameter
// values for a URL-decoded string that itself looks like an HLS/DASH URL.
func findEmbeddedMediaURL(values url.Values) (string, bool) {
	for _, vs := range values {
		for _, v := range vs {
			decoded, err := url.QueryUnescape(v)
			if err != nil {
				decoded = v
			}
			if !embeddedURLRe.MatchString(decoded) {
				continue
			}
			if strings.Contains(decoded, "http") || strings.Contains(decoded, "://") || strings.HasPrefix(decoded, "/") {
				return decoded, true
			}
		}
	}
	return "", false
}

// isSegment implements the segment test of spec §4.A.
func isSegment(rawURL, pathLower, ext string, tabID int64, meta *ResponseMeta, detector SegmentDetector) bool {
	if ext == "ts" || ext == "m4s" {
		return true
	}
	if bytesRangeRe.MatchString(rawURL) && detector.HasMPDContext(tabID) {
		return true
	}
	if detector.MatchesSegmentPrefix(tabID, rawURL) {
		return true
	}
	for _, re := range segmentPatterns {
		if re.MatchString(rawURL) {
			return true
		}
	}
	return false
}

// ParseContentLength is a small helper for callers building ResponseMeta
// from raw HTTP header strings.
func ParseContentLength(header string) (int64, bool) {
	if header == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(header, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

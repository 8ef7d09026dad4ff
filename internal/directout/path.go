package directout

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// customPathPattern restricts user-supplied paths to plain segments.
var customPathPattern = regexp.MustCompile(`^(/[a-zA-Z0-9_-]+)+$`)

// WellFormedPath reports whether path is a user-addressable pointer such
// as "/settings/input_mute/5".
func WellFormedPath(path string) bool {
	return customPathPattern.MatchString(path)
}

// SplitPath splits a slash pointer into unescaped segments. The root
// pointer "" or "/" yields no segments.
func SplitPath(path string) ([]string, error) {
	if path == "" || path == "/" {
		return nil, nil
	}
	if !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("%w: %q must start with /", ErrInvalidPath, path)
	}
	segs := strings.Split(path[1:], "/")
	for i, s := range segs {
		if strings.Contains(s, "~") {
			segs[i] = strings.NewReplacer("~1", "/", "~0", "~").Replace(s)
		}
	}
	return segs, nil
}

// JoinPath builds a pointer from segments.
func JoinPath(segs ...string) string {
	if len(segs) == 0 {
		return ""
	}
	var b strings.Builder
	esc := strings.NewReplacer("~", "~0", "/", "~1")
	for _, s := range segs {
		b.WriteByte('/')
		b.WriteString(esc.Replace(s))
	}
	return b.String()
}

// indexSegment reports whether seg is an integer sequence index. Negative
// integers count as indices so that writing them fails instead of
// silently turning a sequence into an object.
func indexSegment(seg string) (int, bool) {
	if seg == "" {
		return 0, false
	}
	start := 0
	if seg[0] == '-' {
		start = 1
	}
	if start == len(seg) {
		return 0, false
	}
	for i := start; i < len(seg); i++ {
		if seg[i] < '0' || seg[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(seg)
	if err != nil {
		return 0, false
	}
	return n, true
}

// segmentsToWire converts pointer segments into the array form used by
// set commands: numeric segments become integers.
func segmentsToWire(segs []string) []any {
	out := make([]any, len(segs))
	for i, s := range segs {
		if n, ok := indexSegment(s); ok && n >= 0 {
			out[i] = n
		} else {
			out[i] = s
		}
	}
	return out
}

// segmentAt returns the path segment at pos converted the way recorded
// options expect: integers when numeric, strings otherwise.
func segmentAt(segs []string, pos int) (Scalar, bool) {
	if pos < 0 || pos >= len(segs) {
		return Null(), false
	}
	if n, err := strconv.Atoi(segs[pos]); err == nil {
		return IntValue(n), true
	}
	return StringValue(segs[pos]), true
}

package media

import (
	"net/url"
	"path"
	"regexp"
	"strings"
)

const (
	maxDecodeRounds = 5
	publicDirPrefix = "/public/"
)

var driveLetter = regexp.MustCompile(`^[A-Za-z]:`)

// Locator maps whatever media reference a record carries onto a URL under
// the public media namespace. It only consults the store for existence.
type Locator struct {
	store *Store
}

func NewLocator(store *Store) *Locator {
	return &Locator{store: store}
}

// Resolve returns the public URL for the media of proof id. ok is false
// when no media can be found; a URL is never invented in that case.
// origin may be empty, which yields a root-relative path.
func (l *Locator) Resolve(id, reference, origin string) (string, bool) {
	origin = strings.TrimRight(origin, "/")
	ref := strings.TrimSpace(reference)

	if ref == "" {
		if name, ok := l.Probe(id); ok {
			return origin + PublicPrefix + url.PathEscape(name), true
		}
		return "", false
	}

	lower := strings.ToLower(ref)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		if u, err := url.Parse(ref); err == nil && u.Host != "" {
			return ref, true
		}
		return l.Resolve(id, "", origin)
	}

	decoded := decodeFully(ref)
	var p string
	if isFilesystemPath(decoded) {
		name := lastSegment(decoded)
		if name == "" {
			return l.Resolve(id, "", origin)
		}
		p = PublicPrefix + name
	} else {
		p = publicPath(decoded)
		if p == "" {
			return l.Resolve(id, "", origin)
		}
	}

	if strings.HasPrefix(p, publicDirPrefix) {
		return origin + escapePath(p), true
	}
	name, underUploads := strings.CutPrefix(p, PublicPrefix)
	if !underUploads || strings.Contains(name, "/") {
		return l.Resolve(id, "", origin)
	}
	// a stale reference loses to a file that is actually present for id
	if l.store != nil && !l.store.Exists(name) {
		probed, ok := l.Probe(id)
		if !ok {
			return "", false
		}
		name = probed
	}
	return origin + PublicPrefix + url.PathEscape(name), true
}

// Probe looks for {id}{ext} in ProbeOrder and returns the first file name
// present.
func (l *Locator) Probe(id string) (string, bool) {
	if l.store == nil || id == "" || strings.ContainsAny(id, `/\`) {
		return "", false
	}
	for _, ext := range ProbeOrder {
		name := id + ext
		if l.store.Exists(name) {
			return name, true
		}
	}
	return "", false
}

func decodeFully(s string) string {
	for i := 0; i < maxDecodeRounds; i++ {
		next, err := url.PathUnescape(s)
		if err != nil || next == s {
			return s
		}
		s = next
	}
	return s
}

func isFilesystemPath(s string) bool {
	switch {
	case strings.HasPrefix(strings.ToLower(s), "file:"):
		return true
	case strings.Contains(s, `\`):
		return true
	case driveLetter.MatchString(s):
		return true
	case strings.Contains(s, "/home/"):
		return true
	case strings.HasPrefix(s, "/"):
		return !strings.HasPrefix(s, PublicPrefix) && !strings.HasPrefix(s, publicDirPrefix)
	}
	return false
}

func lastSegment(s string) string {
	s = strings.TrimRight(s, `/\`)
	if i := strings.LastIndexAny(s, `/\`); i >= 0 {
		s = s[i+1:]
	}
	if s == "." || s == ".." {
		return ""
	}
	return s
}

// publicPath normalizes a relative or root-relative reference to a clean
// absolute path. Bare file names land under the media prefix.
func publicPath(s string) string {
	s = strings.TrimPrefix(s, "./")
	if strings.HasPrefix(s, "public/") || strings.HasPrefix(s, "uploads/") {
		s = "/" + s
	}
	if i := strings.Index(s, PublicPrefix); i > 0 {
		s = s[i:]
	}
	if !strings.HasPrefix(s, "/") {
		if strings.Contains(s, "/") {
			s = "/" + s
		} else {
			s = PublicPrefix + s
		}
	}
	cleaned := path.Clean(s)
	if cleaned == "/" || cleaned == strings.TrimSuffix(PublicPrefix, "/") {
		return ""
	}
	return cleaned
}

func escapePath(p string) string {
	segments := strings.Split(p, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Join(segments, "/")
}

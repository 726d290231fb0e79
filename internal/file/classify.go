package file

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
)

var rawExtensions = map[string]struct{}{
	"pdf":  {},
	"doc":  {},
	"docx": {},
	"txt":  {},
	"zip":  {},
	"rar":  {},
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// EffectiveName returns the trimmed custom name when set, else the original name.
func EffectiveName(customName, originalName string) string {
	if name := strings.TrimSpace(customName); name != "" {
		return name
	}
	return originalName
}

// NamingHint keeps the last path segment of name and replaces every
// whitespace run with a single underscore. Names that reduce to nothing, "."
// or ".." are rejected.
func NamingHint(name string) (string, error) {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	hint := whitespaceRun.ReplaceAllString(strings.TrimSpace(name), "_")
	if !validHint(hint) {
		return "", fmt.Errorf("%w: invalid file name %q", ErrUnsupportedFile, name)
	}
	return hint, nil
}

func validHint(hint string) bool {
	return hint != "" && hint != "." && hint != ".." && !strings.ContainsAny(hint, `/\`)
}

// ClassifyResource returns ResourceRaw for document and archive extensions and
// ResourceImage for everything else.
func ClassifyResource(name string) ResourceKind {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	if _, ok := rawExtensions[ext]; ok {
		return ResourceRaw
	}
	return ResourceImage
}

// ContentPolicy limits what the upload pipeline accepts.
type ContentPolicy struct {
	MaxSize int64
	// Allowed holds exact MIME types or family prefixes ending in "/".
	Allowed []string
}

// CheckSize rejects payloads larger than MaxSize.
func (p ContentPolicy) CheckSize(size int64) error {
	if p.MaxSize > 0 && size > p.MaxSize {
		return fmt.Errorf("%w: file exceeds the %s limit", ErrUnsupportedFile, humanize.Bytes(uint64(p.MaxSize)))
	}
	return nil
}

// CheckType sniffs head and returns the detected MIME type if it, or one of
// its parents, is on the allow-list.
func (p ContentPolicy) CheckType(head []byte) (string, error) {
	detected := mimetype.Detect(head)
	for m := detected; m != nil; m = m.Parent() {
		if p.allows(m) {
			return detected.String(), nil
		}
	}
	return "", fmt.Errorf("%w: content type %s is not allowed", ErrUnsupportedFile, detected.String())
}

func (p ContentPolicy) allows(m *mimetype.MIME) bool {
	if len(p.Allowed) == 0 {
		return true
	}
	for _, allowed := range p.Allowed {
		if strings.HasSuffix(allowed, "/") {
			if strings.HasPrefix(m.String(), allowed) {
				return true
			}
			continue
		}
		if m.Is(allowed) {
			return true
		}
	}
	return false
}

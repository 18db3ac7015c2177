package crdt

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

// LinkFormat controls how an ambiguous plain relative path in
// frontmatter is resolved.
type LinkFormat string

const (
	// LinkFormatRelative resolves an ambiguous plain path relative to
	// the entry's own directory first, falling back to a
	// workspace-root interpretation only if that candidate exists and
	// the relative one does not. This is the default.
	LinkFormatRelative LinkFormat = "relative"

	// LinkFormatPlainCanonical resolves an ambiguous plain path as
	// workspace-root first.
	LinkFormatPlainCanonical LinkFormat = "plain_canonical"
)

var markdownLinkRe = regexp.MustCompile(`^\[[^\]]*\]\(([^)]+)\)$`)

// ErrEscapesWorkspace is returned when a link, once canonicalized,
// would resolve outside the workspace root (a leading sequence of
// ".." that a Clean cannot absorb).
var ErrEscapesWorkspace = fmt.Errorf("crdt: link escapes workspace root")

// Resolver canonicalizes a raw frontmatter link value — a markdown
// link, a workspace-root reference, or a plain relative path — into
// the workspace-relative path the metadata doc stores.
type Resolver struct {
	Format LinkFormat

	// Exists reports whether a canonical path names a real entry. Used
	// only to disambiguate a plain relative path when the format's
	// preferred interpretation does not exist but the other one does.
	Exists func(canonicalPath string) bool
}

// Canonicalize resolves target, a raw link value found in the
// frontmatter of the entry at fromPath, to its workspace-relative
// canonical form.
func (r Resolver) Canonicalize(fromPath, target string) (string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", fmt.Errorf("crdt: empty link target")
	}

	if m := markdownLinkRe.FindStringSubmatch(target); m != nil {
		target = strings.TrimSpace(m[1])
	}

	fromDir := path.Dir(fromPath)
	if fromDir == "." {
		fromDir = ""
	}

	if strings.HasPrefix(target, "/") {
		return canonicalJoin("", strings.TrimPrefix(target, "/"))
	}

	relative, err := canonicalJoin(fromDir, target)
	if err != nil {
		return "", err
	}

	root, err := canonicalJoin("", target)
	if err != nil {
		return "", err
	}

	if relative == root {
		return relative, nil
	}

	primary, secondary := relative, root
	if r.Format == LinkFormatPlainCanonical {
		primary, secondary = root, relative
	}

	exists := r.Exists
	if exists == nil {
		exists = func(string) bool { return false }
	}

	if !exists(primary) && exists(secondary) {
		return secondary, nil
	}

	return primary, nil
}

// canonicalJoin lexically joins base and target and normalizes the
// result as a workspace-relative path, rejecting anything that climbs
// above the workspace root rather than silently clamping it the way
// path.Clean on an absolute path would.
func canonicalJoin(base, target string) (string, error) {
	joined := target
	if base != "" {
		joined = base + "/" + target
	}

	cleaned := path.Clean(joined)

	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrEscapesWorkspace
	}

	if cleaned == "." {
		cleaned = ""
	}

	return cleaned, nil
}

// NormalizePath collapses the alias forms a path can arrive in — a
// bare relative path, "./path", or "/path" — to the one canonical key
// the CRDT layer uses, without the ambiguity resolution Canonicalize
// performs for frontmatter link targets: this is for identifying what
// file a write already names, not for resolving a reference to some
// other file. An escape above the workspace root is clamped to the
// root rather than rejected, since the caller already has a concrete
// path it was asked to write to.
func NormalizePath(p string) string {
	cleaned := path.Clean("/" + p)

	return strings.TrimPrefix(cleaned, "/")
}

// CanonicalizeAll resolves every entry of targets, skipping (rather
// than failing on) any that cannot be resolved — callers that need to
// know which ones failed should call Canonicalize directly.
func (r Resolver) CanonicalizeAll(fromPath string, targets []string) []string {
	out := make([]string, 0, len(targets))

	for _, t := range targets {
		c, err := r.Canonicalize(fromPath, t)
		if err != nil {
			continue
		}

		out = append(out, c)
	}

	return out
}

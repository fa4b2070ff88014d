package files

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
)

// ErrNotFound is returned for every file that cannot be served: missing,
// unreadable, a directory, or resolving outside the root. Callers must not
// distinguish between these cases in what they send to clients.
var ErrNotFound = errors.New("file not found")

// Resolver maps a bot identifier and sub-path to a file beneath Root.
type Resolver struct {
	// Root is the canonical absolute sandbox directory
	Root string
}

// NewResolver returns a Resolver for root, which must already be canonical
// (see config.ResolveBaseFolder).
func NewResolver(root string) *Resolver {
	return &Resolver{Root: root}
}

// Resolve returns the canonical path of <Root>/<botID>/<subPath>.
//
// The joined path is canonicalized against the filesystem (dot segments
// and symlinks resolved) and must be Root or a descendant of it. The
// returned error always matches ErrNotFound; its text carries the cause
// for logging only.
func (r *Resolver) Resolve(botID, subPath string) (string, error) {
	// Plain concatenation: ".." is resolved by EvalSymlinks relative to the
	// real directory it follows, not lexically.
	joined := r.Root + string(filepath.Separator) + botID + string(filepath.Separator) + subPath

	canonical, err := filepath.EvalSymlinks(joined)
	if err != nil {
		return "", notFound("canonicalize", err)
	}
	if !filepath.IsAbs(canonical) {
		return "", notFound("canonicalize", fmt.Errorf("relative result %q", canonical))
	}

	if !within(r.Root, canonical) {
		return "", notFound("sandbox check", fmt.Errorf("path escapes root"))
	}

	return canonical, nil
}

// Open resolves and opens a regular file for reading. The checked path is
// joined again with SecureJoin scoped to Root right before opening, so a
// symlink swapped in after Resolve still cannot point outside the root.
func (r *Resolver) Open(botID, subPath string) (*os.File, os.FileInfo, error) {
	canonical, err := r.Resolve(botID, subPath)
	if err != nil {
		return nil, nil, err
	}

	rel, err := filepath.Rel(r.Root, canonical)
	if err != nil {
		return nil, nil, notFound("relativize", err)
	}
	scoped, err := securejoin.SecureJoin(r.Root, rel)
	if err != nil {
		return nil, nil, notFound("secure join", err)
	}

	f, err := os.Open(scoped)
	if err != nil {
		return nil, nil, notFound("open", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, notFound("stat", err)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, nil, notFound("stat", fmt.Errorf("not a regular file (%s)", info.Mode().Type()))
	}

	return f, info, nil
}

// within reports whether path equals root or lies beneath it. The separator
// check keeps /data-evil from matching /data.
func within(root, path string) bool {
	if path == root {
		return true
	}
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(path, prefix)
}

type resolveError struct {
	step  string
	cause error
}

func (e *resolveError) Error() string {
	return fmt.Sprintf("%s: %v", e.step, e.cause)
}

func (e *resolveError) Is(target error) bool {
	return target == ErrNotFound
}

func (e *resolveError) Unwrap() error {
	return e.cause
}

func notFound(step string, cause error) error {
	return &resolveError{step: step, cause: cause}
}

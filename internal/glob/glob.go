// Package glob matches project-relative, slash-separated paths against
// include/exclude pattern sets. Patterns use doublestar syntax ("**", "{a,b}")
// and a leading "!" marks an exclusion, as in shell-style source lists.
package glob

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/afero"
)

// Set is an immutable include/exclude pattern list.
type Set struct {
	include []string
	exclude []string
}

// New builds a Set. At least one include pattern is required.
func New(patterns ...string) (Set, error) {
	var s Set
	for _, p := range patterns {
		negated := strings.HasPrefix(p, "!")
		p = path.Clean(strings.TrimPrefix(p, "!"))
		if !doublestar.ValidatePattern(p) {
			return Set{}, fmt.Errorf("invalid glob pattern %q", p)
		}
		if negated {
			s.exclude = append(s.exclude, p)
		} else {
			s.include = append(s.include, p)
		}
	}
	if len(s.include) == 0 {
		return Set{}, errors.New("glob set needs at least one include pattern")
	}
	return s, nil
}

// MustNew is New for patterns known at compile time.
func MustNew(patterns ...string) Set {
	s, err := New(patterns...)
	if err != nil {
		panic(err)
	}
	return s
}

// Match reports whether p matches an include pattern and no exclude pattern.
func (s Set) Match(p string) bool {
	p = path.Clean(filepath.ToSlash(p))
	included := false
	for _, pattern := range s.include {
		if ok, _ := doublestar.Match(pattern, p); ok {
			included = true
			break
		}
	}
	if !included {
		return false
	}
	for _, pattern := range s.exclude {
		if ok, _ := doublestar.Match(pattern, p); ok {
			return false
		}
	}
	return true
}

// Patterns returns the set in its original "!"-prefixed form.
func (s Set) Patterns() []string {
	out := make([]string, 0, len(s.include)+len(s.exclude))
	out = append(out, s.include...)
	for _, p := range s.exclude {
		out = append(out, "!"+p)
	}
	return out
}

// Bases returns the static directory prefix of every include pattern, the
// directories a walk has to start from.
func (s Set) Bases() []string {
	seen := make(map[string]bool)
	var bases []string
	for _, pattern := range s.include {
		base, _ := doublestar.SplitPattern(pattern)
		if !seen[base] {
			seen[base] = true
			bases = append(bases, base)
		}
	}
	sort.Strings(bases)
	return bases
}

// Expand lists the regular files in fsys matched by s, sorted. A missing base
// directory is reported as an error wrapping fs.ErrNotExist.
func Expand(fsys afero.Fs, s Set) ([]string, error) {
	seen := make(map[string]bool)
	var files []string

	for _, base := range s.Bases() {
		err := afero.Walk(fsys, base, func(p string, info fs.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				return nil
			}
			slashed := filepath.ToSlash(p)
			if !seen[slashed] && s.Match(slashed) {
				seen[slashed] = true
				files = append(files, slashed)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking %s: %w", base, err)
		}
	}

	sort.Strings(files)
	return files, nil
}

// internal/links/links.go

// Package links defines the canonical listing-URL identity and the
// persisted known-link set used by incremental discovery.
package links

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	queryPattern     = regexp.MustCompile(`\?.*$`)
	vehicleIDPattern = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)
)

// Canonicalize strips the query string from a listing URL so that two URLs
// differing only in tracking parameters share one identity.
func Canonicalize(rawURL string) string {
	return strings.TrimSpace(queryPattern.ReplaceAllString(rawURL, ""))
}

// VehicleID extracts the listing identifier embedded in a canonical URL.
// Listing URLs carry a UUID as their final path element; if none is present
// the last path segment is returned as a best-effort identifier.
func VehicleID(canonicalURL string) string {
	if id := vehicleIDPattern.FindString(canonicalURL); id != "" {
		return id
	}
	trimmed := strings.TrimRight(canonicalURL, "/")
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		return trimmed[idx+1:]
	}
	return trimmed
}

// Set is an in-memory known-link set with O(1) membership tests. Insertion
// order is preserved so files round-trip without reordering.
type Set struct {
	members map[string]struct{}
	order   []string
}

// NewSet creates an empty link set.
func NewSet() *Set {
	return &Set{members: make(map[string]struct{})}
}

// Add canonicalizes and inserts a URL. It reports whether the URL was new.
func (s *Set) Add(rawURL string) bool {
	key := Canonicalize(rawURL)
	if key == "" {
		return false
	}
	if _, ok := s.members[key]; ok {
		return false
	}
	s.members[key] = struct{}{}
	s.order = append(s.order, key)
	return true
}

// Contains reports whether the canonical form of rawURL is in the set.
func (s *Set) Contains(rawURL string) bool {
	_, ok := s.members[Canonicalize(rawURL)]
	return ok
}

// Len returns the number of distinct links in the set.
func (s *Set) Len() int {
	return len(s.members)
}

// All returns the links in insertion order.
func (s *Set) All() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// LoadSet reads a link file (one URL per line) into a Set. A missing file
// yields an empty set; discovery treats that as a cold start.
func LoadSet(path string) (*Set, error) {
	set := NewSet()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return set, nil
		}
		return nil, fmt.Errorf("failed to open link file %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		set.Add(line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read link file %s: %w", path, err)
	}
	return set, nil
}

// WriteLinks overwrites a link file with one canonical URL per line.
func WriteLinks(path string, urls []string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", path, err)
		}
	}

	var b strings.Builder
	for _, u := range urls {
		b.WriteString(Canonicalize(u))
		b.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write link file %s: %w", path, err)
	}
	return nil
}

// Truncate empties a link file, creating it if absent.
func Truncate(path string) error {
	return WriteLinks(path, nil)
}

package index

import (
	"bufio"
	"context"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Set is an immutable in-memory address set. It is safe for concurrent reads,
// so every worker may hold the same Set as its handle.
type Set struct {
	name      string
	addresses map[string]struct{}
}

// NewSet builds a set from a list of addresses
func NewSet(name string, addresses ...string) *Set {
	s := &Set{name: name, addresses: make(map[string]struct{}, len(addresses))}
	for _, a := range addresses {
		s.addresses[a] = struct{}{}
	}
	return s
}

// LoadSet reads one address per line. Blank lines and lines starting with
// '#' are skipped.
func LoadSet(path string) (*Set, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(ErrIndexUnavailable, "%v", err)
	}
	defer file.Close()

	s := &Set{name: "file:" + path, addresses: make(map[string]struct{})}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		address := strings.TrimSpace(scanner.Text())
		if address == "" || strings.HasPrefix(address, "#") {
			continue
		}
		s.addresses[address] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(ErrIndexUnavailable, "read %s: %v", path, err)
	}
	return s, nil
}

// Len returns the number of distinct addresses
func (s *Set) Len() int {
	return len(s.addresses)
}

// Contains reports exact membership
func (s *Set) Contains(address string) (bool, error) {
	_, ok := s.addresses[address]
	return ok, nil
}

// Count implements Enumerator
func (s *Set) Count() (uint, error) {
	return uint(len(s.addresses)), nil
}

// Each implements Enumerator
func (s *Set) Each(fn func(address string) error) error {
	for a := range s.addresses {
		if err := fn(a); err != nil {
			return err
		}
	}
	return nil
}

// Close is a no-op; the set lives for the whole scan
func (s *Set) Close() error {
	return nil
}

// Open returns the set itself
func (s *Set) Open(context.Context) (Index, error) {
	return s, nil
}

// Describe returns where the set came from
func (s *Set) Describe() string {
	return s.name
}

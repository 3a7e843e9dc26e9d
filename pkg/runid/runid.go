// Package runid mints, composes, and decomposes batch run identifiers.
//
// A base run ID is the UTC start time formatted as YYMMDD-HHMMSS. A client
// run ID appends the client ID: YYMMDD-HHMMSS-<clientID>, where the client ID
// may itself contain hyphens. The base ID is stable for the whole run; the
// per-client composition is deterministic.
package runid

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"
)

// ErrMalformedIdentifier indicates an input that cannot be coerced to a
// non-empty identifier string.
var ErrMalformedIdentifier = errors.New("malformed identifier")

var segmentPattern = regexp.MustCompile(`^\d{6}$`)

// Generate returns the current UTC time as a canonical base run ID.
func Generate() string {
	return time.Now().UTC().Format("060102-150405")
}

// Compose joins a base run ID and a client ID into a client run ID.
func Compose(base, clientID string) (string, error) {
	if err := validate(base); err != nil {
		return "", fmt.Errorf("base run ID: %w", err)
	}
	if err := validate(clientID); err != nil {
		return "", fmt.Errorf("client ID: %w", err)
	}
	return base + "-" + clientID, nil
}

// BaseOf extracts the base run ID from a client run ID. When the first two
// hyphen-separated segments are not both six digits the input is returned
// unchanged with a warning; only empty or object-shaped inputs are errors.
func BaseOf(id string) (string, error) {
	if err := validate(id); err != nil {
		return "", err
	}
	parts := strings.Split(id, "-")
	if len(parts) < 2 || !segmentPattern.MatchString(parts[0]) || !segmentPattern.MatchString(parts[1]) {
		slog.Warn("Run ID is not in canonical YYMMDD-HHMMSS form, returning as-is", "run_id", id)
		return id, nil
	}
	return parts[0] + "-" + parts[1], nil
}

// ClientIDOf extracts the client ID from a client run ID: everything after
// the second hyphen-separated segment. Returns "" when the ID carries no
// client segment.
func ClientIDOf(id string) (string, error) {
	if err := validate(id); err != nil {
		return "", err
	}
	parts := strings.Split(id, "-")
	if len(parts) < 3 {
		return "", nil
	}
	return strings.Join(parts[2:], "-"), nil
}

// validate rejects inputs that cannot serve as identifier material. The
// literal "[object Object]" is the footprint of an object accidentally
// stringified at a boundary and is rejected outright.
func validate(s string) error {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return fmt.Errorf("%w: empty string", ErrMalformedIdentifier)
	}
	if trimmed == "[object Object]" {
		return fmt.Errorf("%w: stringified object", ErrMalformedIdentifier)
	}
	return nil
}

// Service memoises client run IDs for the duration of one run so every
// log line, tracking record, and metric update for a client shares a single
// canonical identifier.
type Service struct {
	mu   sync.Mutex
	base string
	byCl map[string]string
}

// NewService creates a run identity service around a base run ID. An empty
// base mints a fresh one.
func NewService(base string) *Service {
	if base == "" {
		base = Generate()
	}
	return &Service{base: base, byCl: make(map[string]string)}
}

// Base returns the base run ID for this service.
func (s *Service) Base() string {
	return s.base
}

// GetOrCreateFor returns the memoised client run ID for a client, creating
// one when absent or when forceNew is set.
func (s *Service) GetOrCreateFor(clientID string, forceNew bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !forceNew {
		if id, ok := s.byCl[clientID]; ok {
			return id, nil
		}
	}
	id, err := Compose(s.base, clientID)
	if err != nil {
		return "", err
	}
	s.byCl[clientID] = id
	return id, nil
}

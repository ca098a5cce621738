package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
)

// ErrRecordNotFound is returned when an identity record no longer exists
var ErrRecordNotFound = errors.New("record not found")

// IdentityRecord is a single stored UUID/name pairing
type IdentityRecord struct {
	ID   string `json:"id"`   // raw identifier as stored
	Name string `json:"name"` // last known display name
}

// NormalizedID returns the record's identifier in canonical form
func (r IdentityRecord) NormalizedID() string {
	return NormalizeID(r.ID)
}

// DuplicateGroup is a display name paired with more than one stored identifier
type DuplicateGroup struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// NormalizeID converts an identifier into its canonical dashed lower-case UUID
// form. Mojang returns ids without dashes while most stores keep the dashed
// form, so both must normalize to the same string. Values that are not UUIDs
// are only trimmed and lower-cased.
func NormalizeID(id string) string {
	if canonical, err := ParseID(id); err == nil {
		return canonical
	}
	return strings.ToLower(strings.TrimSpace(id))
}

// ParseID returns the canonical form of a UUID and fails for anything that
// is not one. Identifiers coming from the authority go through ParseID,
// never NormalizeID.
func ParseID(id string) (string, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return "", fmt.Errorf("invalid identifier %q: %w", id, err)
	}
	return parsed.String(), nil
}

// FoldName returns the case-folded form of a display name for
// case-insensitive comparison. A Caser is stateful, so one is built per call.
func FoldName(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}

// Names returns the display names of the groups in order
func Names(groups []DuplicateGroup) []string {
	names := make([]string, 0, len(groups))
	for _, g := range groups {
		names = append(names, g.Name)
	}
	return names
}

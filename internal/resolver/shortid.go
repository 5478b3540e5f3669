// Package resolver expands the shortened message ids shown in journal
// listings back to full ids.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/dyluth/stave/pkg/protocol"
)

// MinShortIDLength is the minimum length of a short id.
const MinShortIDLength = 6

// maxListed caps how many candidates an AmbiguousError message lists.
const maxListed = 10

var fullIDPattern = regexp.MustCompile(`^msg-\d+-[0-9a-z]+$`)

// Source is the message mirror ids are resolved against.
type Source interface {
	MirroredMessages(ctx context.Context, projectID, after string, count int64) ([]*protocol.UserInteractionMessage, error)
}

// ResolveMessageID expands shortID to the full id of exactly one mirrored
// message of projectID.
//
// A full id ("msg-<ms>-<suffix>") is returned as-is without a lookup. Any
// other input is matched against the end of each mirrored id, which is the
// part the journal table shows.
func ResolveMessageID(ctx context.Context, src Source, projectID, shortID string) (string, error) {
	shortID = strings.TrimSpace(shortID)
	if fullIDPattern.MatchString(shortID) {
		return shortID, nil
	}

	if len(shortID) < MinShortIDLength {
		return "", fmt.Errorf("short ID must be at least %d characters (got %d)", MinShortIDLength, len(shortID))
	}

	messages, err := src.MirroredMessages(ctx, projectID, "", 0)
	if err != nil {
		return "", fmt.Errorf("failed to search for message: %w", err)
	}

	var matches []string
	seen := make(map[string]bool)
	for _, m := range messages {
		if strings.HasSuffix(m.MessageID, shortID) && !seen[m.MessageID] {
			seen[m.MessageID] = true
			matches = append(matches, m.MessageID)
		}
	}

	switch len(matches) {
	case 0:
		return "", &NotFoundError{ShortID: shortID}
	case 1:
		return matches[0], nil
	default:
		return "", &AmbiguousError{ShortID: shortID, Matches: matches}
	}
}

// NotFoundError indicates no message matched the short ID.
type NotFoundError struct {
	ShortID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no messages found matching '%s'", e.ShortID)
}

// AmbiguousError indicates multiple messages matched the short ID.
type AmbiguousError struct {
	ShortID string
	Matches []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous short ID '%s' matches %d messages", e.ShortID, len(e.Matches))
}

// Describe lists the candidates, up to ten, for display.
func (e *AmbiguousError) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "'%s' matches %d messages:\n", e.ShortID, len(e.Matches))

	n := len(e.Matches)
	if n > maxListed {
		n = maxListed
	}
	for _, id := range e.Matches[:n] {
		fmt.Fprintf(&b, "  %s\n", id)
	}
	if len(e.Matches) > maxListed {
		fmt.Fprintf(&b, "  ...and %d more\n", len(e.Matches)-maxListed)
	}
	return b.String()
}

// IsNotFoundError reports whether err is, or wraps, a NotFoundError.
func IsNotFoundError(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsAmbiguousError reports whether err is, or wraps, an AmbiguousError.
func IsAmbiguousError(err error) bool {
	var ae *AmbiguousError
	return errors.As(err, &ae)
}

package dedup

import (
	"errors"
	"fmt"
)

// ErrDegraded marks a scan that could not complete because of an
// infrastructure failure. The registration flow treats it as "not found".
var ErrDegraded = errors.New("duplicate scan degraded")

// Path names the scan strategy that produced a Match.
type Path string

const (
	PathQuick Path = "quick"
	PathFull  Path = "full"
)

// ReasonKind tells "genuinely absent" apart from "could not look".
type ReasonKind string

const (
	ReasonAbsent   ReasonKind = "absent"
	ReasonDegraded ReasonKind = "degraded"
)

// Reason explains a negative Match.
type Reason struct {
	Kind  ReasonKind `json:"kind"`
	Cause string     `json:"cause,omitempty"`
}

// Absent is the reason for a scan that completed without a match.
func Absent() *Reason {
	return &Reason{Kind: ReasonAbsent}
}

// Degraded is the reason for a scan cut short by cause.
func Degraded(cause error) *Reason {
	return &Reason{Kind: ReasonDegraded, Cause: cause.Error()}
}

// Match is the result of one duplicate check. Found implies TokenID is set
// and the token's content hash equals the query exactly.
type Match struct {
	Found         bool    `json:"found"`
	TokenID       string  `json:"token_id,omitempty"`
	TokenURI      string  `json:"token_uri,omitempty"`
	IPMetadataURI string  `json:"ip_metadata_uri,omitempty"`
	Path          Path    `json:"path"`
	Reason        *Reason `json:"reason,omitempty"`
	Checked       int     `json:"tokens_checked"`
	Unreadable    int     `json:"tokens_unreadable"`
}

// IsDegraded reports whether the scan gave up on an infrastructure failure.
func (m Match) IsDegraded() bool {
	return !m.Found && m.Reason != nil && m.Reason.Kind == ReasonDegraded
}

// Err returns an error wrapping ErrDegraded for degraded matches, nil otherwise.
func (m Match) Err() error {
	if !m.IsDegraded() {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrDegraded, m.Reason.Cause)
}

// missReason is the reason for a walk that ended without a match. A token
// that could not be read might have been the duplicate, so any unreadable
// token makes the miss degraded.
func missReason(checked, unreadable int) *Reason {
	if unreadable > 0 {
		return Degraded(fmt.Errorf("%d of %d tokens unreadable", unreadable, checked))
	}
	return Absent()
}

func degradedMatch(path Path, cause error) Match {
	return Match{Path: path, Reason: Degraded(cause)}
}

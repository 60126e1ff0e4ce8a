// Package apperr defines the tagged error kinds shared by the stores, the
// coordinator and the command surface.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies a class of failure. Kinds are flat; there is no hierarchy.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidFlag
	KindInvalidMap
	KindWrongGuildRole
	KindAlreadyClaimed
	KindAlreadyAvailable
	KindNotClaimed
	KindSameRole
	KindRoleAlreadyOwnsFlag
	KindFactionNotFound
	KindFactionExists
	KindPermissionDenied
	KindStoreUnavailable
	KindStaleState
	KindCreationFailed
	KindBusySession
)

var kindNames = map[Kind]string{
	KindUnknown:             "Unknown",
	KindInvalidFlag:         "InvalidFlag",
	KindInvalidMap:          "InvalidMap",
	KindWrongGuildRole:      "WrongGuildRole",
	KindAlreadyClaimed:      "AlreadyClaimed",
	KindAlreadyAvailable:    "AlreadyAvailable",
	KindNotClaimed:          "NotClaimed",
	KindSameRole:            "SameRole",
	KindRoleAlreadyOwnsFlag: "RoleAlreadyOwnsFlag",
	KindFactionNotFound:     "FactionNotFound",
	KindFactionExists:       "FactionExists",
	KindPermissionDenied:    "PermissionDenied",
	KindStoreUnavailable:    "StoreUnavailable",
	KindStaleState:          "StaleState",
	KindCreationFailed:      "CreationFailed",
	KindBusySession:         "BusySession",
}

// String returns the kind's name as used in audit details.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Kinds returns every defined kind except KindUnknown.
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(kindNames)-1)
	for k := KindInvalidFlag; k <= KindBusySession; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

// Error is a domain failure tagged with a Kind.
type Error struct {
	Kind Kind

	// Flag is the flag name involved, canonical when known.
	Flag string
	// OwnerRoleID is set for AlreadyClaimed.
	OwnerRoleID string
	// Name is the faction or map name involved.
	Name string
	// Partial lists side effects left behind by a failed creation.
	Partial []string

	Err error
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.String())
	switch {
	case e.Flag != "" && e.OwnerRoleID != "":
		fmt.Fprintf(&sb, " (flag %s, owner %s)", e.Flag, e.OwnerRoleID)
	case e.Flag != "":
		fmt.Fprintf(&sb, " (flag %s)", e.Flag)
	case e.Name != "":
		fmt.Fprintf(&sb, " (%s)", e.Name)
	}
	if len(e.Partial) > 0 {
		fmt.Fprintf(&sb, " partial=[%s]", strings.Join(e.Partial, ", "))
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Kind, so errors.Is(err, apperr.New(k))
// works as a kind test.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// New returns a bare error of the given kind.
func New(kind Kind) *Error {
	return &Error{Kind: kind}
}

// Wrap tags err with kind.
func Wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf extracts the Kind of err, or KindUnknown when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// As returns the *Error inside err, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// InvalidFlag reports a flag name that is not in the catalog
func InvalidFlag(raw string) *Error { return &Error{Kind: KindInvalidFlag, Flag: raw} }

// InvalidMap reports an unknown map key
func InvalidMap(raw string) *Error { return &Error{Kind: KindInvalidMap, Name: raw} }

// AlreadyClaimed reports a flag that another role already owns
func AlreadyClaimed(flag, ownerRoleID string) *Error {
	return &Error{Kind: KindAlreadyClaimed, Flag: flag, OwnerRoleID: ownerRoleID}
}

// RoleAlreadyOwnsFlag reports a role that already holds flag on the map
func RoleAlreadyOwnsFlag(flag string) *Error {
	return &Error{Kind: KindRoleAlreadyOwnsFlag, Flag: flag}
}

// FactionNotFound reports a faction name with no record
func FactionNotFound(name string) *Error { return &Error{Kind: KindFactionNotFound, Name: name} }

// FactionExists reports a faction name that is already taken
func FactionExists(name string) *Error { return &Error{Kind: KindFactionExists, Name: name} }

// StoreUnavailable wraps a persistence failure
func StoreUnavailable(err error) *Error { return &Error{Kind: KindStoreUnavailable, Err: err} }

// CreationFailed reports a failed faction creation and the side effects that
// could not be rolled back.
func CreationFailed(err error, partial []string) *Error {
	return &Error{Kind: KindCreationFailed, Partial: partial, Err: err}
}

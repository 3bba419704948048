package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// IdentityKind distinguishes server-issued ids from local placeholders.
type IdentityKind uint8

const (
	identityUnset IdentityKind = iota
	// IdentityConfirmed marks an id issued by the remote store.
	IdentityConfirmed
	// IdentityPending marks a locally issued token for a record the remote
	// store has not confirmed yet.
	IdentityPending
)

// PendingPrefix is prepended to pending tokens when an identity is rendered
// as a string, so consumers that only see strings can still recognize
// unconfirmed records.
const PendingPrefix = "temp_"

// ErrEmptyIdentity is returned when parsing an empty identity string.
var ErrEmptyIdentity = errors.New("empty identity")

// Identity is the identity of a record: either Confirmed(id) or
// Pending(token). The zero value is unset.
//
// Identity is comparable and may be used as a map key. Two identities are
// equal only if both kind and value match, so a pending token can never
// collide with a confirmed id.
type Identity struct {
	kind  IdentityKind
	value string
}

// Confirmed returns the identity of a record issued by the remote store.
func Confirmed(id string) Identity {
	return Identity{kind: IdentityConfirmed, value: id}
}

// Pending returns a placeholder identity for a record awaiting confirmation.
func Pending(token string) Identity {
	return Identity{kind: IdentityPending, value: token}
}

// Kind returns the identity kind.
func (i Identity) Kind() IdentityKind { return i.kind }

// IsPending reports whether i is a local placeholder.
func (i Identity) IsPending() bool { return i.kind == IdentityPending }

// IsConfirmed reports whether i was issued by the remote store.
func (i Identity) IsConfirmed() bool { return i.kind == IdentityConfirmed }

// IsZero reports whether i is unset.
func (i Identity) IsZero() bool { return i.kind == identityUnset }

// Value returns the raw id or token without any prefix.
func (i Identity) Value() string { return i.value }

// String renders the identity for display. Pending identities carry
// PendingPrefix.
func (i Identity) String() string {
	if i.kind == IdentityPending {
		return PendingPrefix + i.value
	}
	return i.value
}

// ParseIdentity is the inverse of Identity.String.
func ParseIdentity(s string) (Identity, error) {
	if s == "" {
		return Identity{}, ErrEmptyIdentity
	}
	if token, ok := strings.CutPrefix(s, PendingPrefix); ok {
		if token == "" {
			return Identity{}, fmt.Errorf("pending identity %q has no token", s)
		}
		return Pending(token), nil
	}
	return Confirmed(s), nil
}

type identityJSON struct {
	Confirmed string `json:"confirmed,omitempty"`
	Pending   string `json:"pending,omitempty"`
}

// MarshalJSON encodes the identity as {"confirmed":"id"} or {"pending":"token"}.
func (i Identity) MarshalJSON() ([]byte, error) {
	switch i.kind {
	case IdentityConfirmed:
		return json.Marshal(identityJSON{Confirmed: i.value})
	case IdentityPending:
		return json.Marshal(identityJSON{Pending: i.value})
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (i *Identity) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*i = Identity{}
		return nil
	}
	var raw identityJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode identity: %w", err)
	}
	switch {
	case raw.Confirmed != "" && raw.Pending != "":
		return fmt.Errorf("identity cannot be both confirmed and pending")
	case raw.Confirmed != "":
		*i = Confirmed(raw.Confirmed)
	case raw.Pending != "":
		*i = Pending(raw.Pending)
	default:
		*i = Identity{}
	}
	return nil
}

package telephony

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Tracking tokens correlate a placed call with its later-delivered
// outcome and encode the attempt's origin:
//
//	hop.<entryID>.<leadID>          queue-origin first contact
//	cad.<b64url(identifier)>.<nonce> cadence-origin retry
//
// Entry and lead IDs are UUIDs and the identifier is base64url-encoded,
// so the dot separators are unambiguous.

type Origin int

const (
	OriginQueue Origin = iota
	OriginCadence
)

const (
	queuePrefix   = "hop"
	cadencePrefix = "cad"
)

// Token is the parsed form of a tracking token.
type Token struct {
	Origin Origin

	// Queue-origin fields.
	EntryID string
	LeadID  string

	// Cadence-origin fields.
	Identifier string
	Nonce      string
}

var ErrBadToken = errors.New("telephony: malformed tracking token")

// NewQueueToken builds the token for a first contact claimed from the hopper.
func NewQueueToken(entryID, leadID string) string {
	return strings.Join([]string{queuePrefix, entryID, leadID}, ".")
}

// NewCadenceToken builds a fresh token for a cadence retry. The nonce
// makes every placement distinct so duplicate outcome deliveries can be
// detected per attempt.
func NewCadenceToken(identifier string) string {
	enc := base64.RawURLEncoding.EncodeToString([]byte(identifier))
	return strings.Join([]string{cadencePrefix, enc, uuid.NewString()}, ".")
}

// ParseToken resolves a raw token into its origin and identifiers.
func ParseToken(raw string) (Token, error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 3 {
		return Token{}, fmt.Errorf("%w: %q", ErrBadToken, raw)
	}
	switch parts[0] {
	case queuePrefix:
		if parts[1] == "" || parts[2] == "" {
			return Token{}, fmt.Errorf("%w: empty queue ids", ErrBadToken)
		}
		return Token{Origin: OriginQueue, EntryID: parts[1], LeadID: parts[2]}, nil
	case cadencePrefix:
		id, err := base64.RawURLEncoding.DecodeString(parts[1])
		if err != nil || len(id) == 0 {
			return Token{}, fmt.Errorf("%w: bad identifier encoding", ErrBadToken)
		}
		return Token{Origin: OriginCadence, Identifier: string(id), Nonce: parts[2]}, nil
	default:
		return Token{}, fmt.Errorf("%w: unknown prefix %q", ErrBadToken, parts[0])
	}
}

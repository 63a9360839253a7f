// Package replyaddr maps user identifiers to per-user reply addresses and
// back. The user ID is embedded in the address subaddress token
// (local+{id}@domain), so routing an inbound reply to an account needs no
// session and no lookup table; the address itself carries the identity.
package replyaddr

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"
)

// ErrNotAddressed is returned by Decode for any address that does not match
// the local+{id}@domain pattern: wrong domain, missing delimiter, malformed
// token. Misdirected and spam mail hits this constantly, so callers treat it
// as a reportable non-error, not a failure.
var ErrNotAddressed = errors.New("address not addressed to this pipeline")

// Codec encodes and decodes reply addresses for a fixed local part and domain.
type Codec struct {
	localPart string
	domain    string
}

// NewCodec creates a codec for addresses of the form localPart+{id}@domain
func NewCodec(localPart, domain string) *Codec {
	return &Codec{
		localPart: strings.ToLower(localPart),
		domain:    strings.ToLower(domain),
	}
}

// Encode renders the reply address for a user. Total for any valid UUID:
// the canonical UUID string is hex and hyphens, all legal in a local part,
// so no escaping is ever needed.
func (c *Codec) Encode(userID uuid.UUID) string {
	return fmt.Sprintf("%s+%s@%s", c.localPart, userID, c.domain)
}

// Decode extracts the user ID from a recipient address. Accepts both bare
// addresses and RFC 5322 name-addr forms ("Jane <reply+id@domain>").
// Returns ErrNotAddressed for anything off-pattern.
func (c *Codec) Decode(address string) (uuid.UUID, error) {
	addr := strings.TrimSpace(address)
	if parsed, err := mail.ParseAddress(addr); err == nil {
		addr = parsed.Address
	}
	addr = strings.ToLower(addr)

	at := strings.LastIndex(addr, "@")
	if at < 0 {
		return uuid.Nil, fmt.Errorf("%w: missing @ in %q", ErrNotAddressed, address)
	}
	local, domain := addr[:at], addr[at+1:]
	if domain != c.domain {
		return uuid.Nil, fmt.Errorf("%w: domain %q", ErrNotAddressed, domain)
	}

	prefix, token, found := strings.Cut(local, "+")
	if !found || prefix != c.localPart || token == "" {
		return uuid.Nil, fmt.Errorf("%w: local part %q", ErrNotAddressed, local)
	}

	userID, err := uuid.Parse(token)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: malformed token %q", ErrNotAddressed, token)
	}
	return userID, nil
}

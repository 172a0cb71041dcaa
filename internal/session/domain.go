package session

import (
	"context"
	"errors"
	"time"
)

// MetadataMemberNumber is the metadata key holding the member number used to
// join a principal to its collector record.
const MetadataMemberNumber = "member_number"

var (
	// ErrProviderUnavailable indicates the identity provider could not be
	// reached within the retry budget. Callers should offer a retry.
	ErrProviderUnavailable = errors.New("session: identity provider unavailable")
	// ErrInvalid indicates the provider refused the session. Callers must
	// force re-authentication.
	ErrInvalid = errors.New("session: invalid")
	// ErrRejected is returned by Provider implementations when the provider
	// affirmatively rejects the credentials, as opposed to a transport failure.
	ErrRejected = errors.New("session: rejected by identity provider")
)

// Session describes the live authenticated principal.
type Session struct {
	PrincipalID  string
	IssuedAt     time.Time
	Metadata     map[string]string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// MemberNumber returns the optional member number from the metadata bag.
func (s *Session) MemberNumber() string {
	if s == nil || s.Metadata == nil {
		return ""
	}
	return s.Metadata[MetadataMemberNumber]
}

// Expired reports whether the access token has passed its expiry.
func (s *Session) Expired(now time.Time) bool {
	if s == nil || s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(s.ExpiresAt)
}

// Clone returns a copy that does not share the metadata map.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.Metadata != nil {
		out.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// User is the principal as reported by the identity provider when a session
// is re-confirmed.
type User struct {
	ID       string
	Email    string
	Metadata map[string]string
}

// Provider is the identity provider contract consumed by the Validator.
type Provider interface {
	// CurrentSession returns the locally known session, or nil when anonymous.
	CurrentSession(ctx context.Context) (*Session, error)
	// CurrentUser re-confirms the session with the provider. Implementations
	// return an error wrapping ErrRejected for explicit rejections.
	CurrentUser(ctx context.Context, accessToken string) (*User, error)
	// SignOut revokes the session and clears any persisted credentials.
	SignOut(ctx context.Context) error
}

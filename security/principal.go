package security

import (
	"context"

	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/dot-do/gateway/envelope"
)

// Principal access levels. Levels are ordinal: a higher level implies every
// capability of the levels below it. L4 is the platform operator tier that
// bypasses org scoping on the events surface.
const (
	LevelViewer   = 1
	LevelMember   = 2
	LevelAdmin    = 3
	LevelPlatform = 4
)

// Principal is the resolved caller identity placed on the request context.
// The gateway never runs an auth flow itself; it consumes tokens minted by
// an external issuer and maps their claims onto this struct.
type Principal struct {
	Authenticated bool
	ID            string
	Email         string
	Org           string
	Level         int
}

// Anonymous is the principal used when no credentials were presented.
var Anonymous = Principal{}

// IsPlatform reports whether the principal is an L4 platform operator.
func (p Principal) IsPlatform() bool {
	return p.Authenticated && p.Level >= LevelPlatform
}

// UserContext converts the principal into the envelope's trailing user
// block. Anonymous principals still produce a block so clients can always
// read user.authenticated.
func (p Principal) UserContext() *envelope.UserContext {
	return &envelope.UserContext{
		Authenticated: p.Authenticated,
		ID:            p.ID,
		Email:         p.Email,
		Org:           p.Org,
		Level:         p.Level,
	}
}

type contextKey struct{ name string }

var principalKey = &contextKey{"principal"}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the principal on ctx, or Anonymous when none
// was attached.
func PrincipalFromContext(ctx context.Context) Principal {
	if p, ok := ctx.Value(principalKey).(Principal); ok {
		return p
	}
	return Anonymous
}

// FromToken maps a validated token's claims onto a Principal. The subject
// claim becomes the id; email, org and level ride as private claims.
func FromToken(token jwt.Token) Principal {
	p := Principal{Authenticated: true, ID: token.Subject()}

	if v, ok := token.Get("email"); ok {
		if s, ok := v.(string); ok {
			p.Email = s
		}
	}
	if v, ok := token.Get("org"); ok {
		if s, ok := v.(string); ok {
			p.Org = s
		}
	}
	if v, ok := token.Get("level"); ok {
		switch n := v.(type) {
		case float64:
			p.Level = int(n)
		case int64:
			p.Level = int(n)
		case int:
			p.Level = n
		}
	}
	return p
}

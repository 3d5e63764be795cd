package gsi

import (
	"context"
	"errors"

	"github.com/coocood/freecache"

	"github.com/dotalayer/companion/db"
	"github.com/dotalayer/companion/telemetry"
)

var (
	ErrMissingToken  = errors.New("gsi: missing auth token")
	ErrUnknownToken  = errors.New("gsi: unknown auth token")
	ErrAccountLocked = errors.New("gsi: account locked")
)

// UserSource resolves telemetry auth tokens to broadcaster accounts.
type UserSource interface {
	ByGSIToken(ctx context.Context, token string) (*db.User, error)
}

const rejectionCacheSize = 512 * 1024

// Authenticator validates telemetry auth tokens. Unknown tokens are remembered so
// repeated invalid posts never reach storage; entries are not proactively expired
// because tokens are high entropy and rarely retried after rejection.
type Authenticator struct {
	users    UserSource
	rejected *freecache.Cache
}

func NewAuthenticator(users UserSource) *Authenticator {
	return &Authenticator{users: users, rejected: freecache.NewCache(rejectionCacheSize)}
}

// Authenticate maps a posted token to its account. Locked accounts are rejected
// without caching since they may be unlocked later.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*db.User, error) {
	if token == "" {
		a.countRejection()
		return nil, ErrMissingToken
	}
	if _, err := a.rejected.Get([]byte(token)); err == nil {
		a.countRejection()
		return nil, ErrUnknownToken
	}

	user, err := a.users.ByGSIToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if user == nil {
		_ = a.rejected.Set([]byte(token), []byte{1}, 0)
		a.countRejection()
		return nil, ErrUnknownToken
	}
	if user.Status == db.UserStatusLocked {
		a.countRejection()
		return nil, ErrAccountLocked
	}
	return user, nil
}

func (a *Authenticator) countRejection() {
	if telemetry.GSIRejections != nil {
		telemetry.GSIRejections.Inc()
	}
}

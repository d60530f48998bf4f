// Package auth resolves which user a request belongs to. Requests carry
// the caller's user id in a header or cookie; the id is only checked
// against the user directory, it proves nothing about the caller.
package auth

import (
	"chatterbox/internal/models"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/c-pro/geche"
)

const (
	UserHeader = "X-User-ID"
	UserCookie = "user"

	DefaultCacheTTL = 5 * time.Minute
)

var (
	ErrNoIdentity  = errors.New("no user id in request")
	ErrUnknownUser = errors.New("unknown user")
)

type UserLookup interface {
	GetUser(id string) (models.Contact, error)
}

type Identifier struct {
	users UserLookup
	known geche.Geche[string, models.Contact]
}

// NewIdentifier caches resolved users for ttl. The cache cleanup stops
// when ctx is done.
func NewIdentifier(ctx context.Context, users UserLookup, ttl time.Duration) *Identifier {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Identifier{
		users: users,
		known: geche.NewMapTTLCache[string, models.Contact](ctx, ttl, time.Minute),
	}
}

// RequestUserID returns the user id the request claims, header first.
func RequestUserID(r *http.Request) string {
	id := strings.TrimSpace(r.Header.Get(UserHeader))
	if id == "" {
		if c, err := r.Cookie(UserCookie); err == nil {
			id = strings.TrimSpace(c.Value)
		}
	}
	return id
}

func (i *Identifier) Identify(r *http.Request) (models.Contact, error) {
	id := RequestUserID(r)
	if id == "" {
		return models.Contact{}, ErrNoIdentity
	}
	return i.Resolve(id)
}

func (i *Identifier) Resolve(id string) (models.Contact, error) {
	if user, err := i.known.Get(id); err == nil {
		return user, nil
	}

	user, err := i.users.GetUser(id)
	if errors.Is(err, models.ErrNotFound) {
		return models.Contact{}, fmt.Errorf("%w: %s", ErrUnknownUser, id)
	}
	if err != nil {
		return models.Contact{}, fmt.Errorf("failed to look up user %s: %w", id, err)
	}
	i.known.Set(id, user)
	return user, nil
}

type ctxKey struct{}

func WithUser(ctx context.Context, user models.Contact) context.Context {
	return context.WithValue(ctx, ctxKey{}, user)
}

func UserFromContext(ctx context.Context) (models.Contact, bool) {
	user, ok := ctx.Value(ctxKey{}).(models.Contact)
	return user, ok
}

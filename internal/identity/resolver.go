// Package identity maps a client email to an account id, or to a pending
// invitation marker when the client has not registered yet.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const invitedPrefix = "INVITED:"

var ErrInvalidEmail = errors.New("invalid email")

type Account struct {
	ID    string
	Email string
}

// Directory looks accounts up in the identity provider. found is false when
// no account has the address.
type Directory interface {
	LookupByEmail(ctx context.Context, email string) (account Account, found bool, err error)
}

// Notifier delivers an invitation to an address.
type Notifier interface {
	NotifyInvitation(ctx context.Context, email string) error
}

// Identity is the client id to store on a channel.
type Identity struct {
	ClientID string
	Invited  bool
}

func InvitationMarker(email string) string {
	return invitedPrefix + email
}

func IsInvitationMarker(clientID string) bool {
	return strings.HasPrefix(clientID, invitedPrefix)
}

// NormalizeEmail trims and lower-cases email and checks it is a bare address.
func NormalizeEmail(email string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(email))
	if trimmed == "" {
		return "", fmt.Errorf("%w: email is required", ErrInvalidEmail)
	}
	parsed, err := mail.ParseAddress(trimmed)
	if err != nil || parsed.Address != trimmed || parsed.Name != "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}
	return trimmed, nil
}

type Resolver struct {
	directory     Directory
	notifier      Notifier
	logger        zerolog.Logger
	notifyTimeout time.Duration
	pending       sync.WaitGroup
}

// NewResolver builds a resolver. directory may be nil, in which case every
// address resolves to an invitation marker.
func NewResolver(directory Directory, notifier Notifier, logger zerolog.Logger) *Resolver {
	return &Resolver{
		directory:     directory,
		notifier:      notifier,
		logger:        logger,
		notifyTimeout: 30 * time.Second,
	}
}

// Resolve never fails because of the identity provider or the notifier: a
// lookup error degrades to the invitation path and notification runs in the
// background. Only a malformed address is an error.
func (r *Resolver) Resolve(ctx context.Context, email string) (Identity, error) {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return Identity{}, err
	}

	if r.directory != nil {
		account, found, err := r.directory.LookupByEmail(ctx, normalized)
		switch {
		case err != nil:
			r.logger.Warn().Err(err).Str("email", normalized).Msg("identity lookup failed, falling back to invitation")
		case found && account.ID != "":
			return Identity{ClientID: account.ID}, nil
		}
	}

	r.dispatch(normalized)
	return Identity{ClientID: InvitationMarker(normalized), Invited: true}, nil
}

func (r *Resolver) dispatch(email string) {
	if r.notifier == nil {
		return
	}
	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.notifyTimeout)
		defer cancel()
		if err := r.notifier.NotifyInvitation(ctx, email); err != nil {
			r.logger.Warn().Err(err).Str("email", email).Msg("invitation notification failed")
		}
	}()
}

// Wait blocks until in-flight invitation notifications finish.
func (r *Resolver) Wait() {
	r.pending.Wait()
}

package invite

import (
	"context"
	"fmt"
	"net/url"

	"github.com/rs/zerolog"
)

// Ledger deduplicates invitations per address.
type Ledger interface {
	Claim(context.Context, string) (bool, error)
	Release(context.Context, string) error
}

// Mailer sends the invitation email.
type Mailer interface {
	IsConfigured() bool
	SendInvitationEmail(to, inviteURL string) error
}

// Dispatcher sends one invitation per address per ledger window. Without a
// configured mailer the invitation link is only logged.
type Dispatcher struct {
	ledger  Ledger
	mailer  Mailer
	baseURL string
	logger  zerolog.Logger
}

// NewDispatcher builds a dispatcher. ledger and mailer may be nil.
func NewDispatcher(ledger Ledger, mailer Mailer, baseURL string, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{ledger: ledger, mailer: mailer, baseURL: baseURL, logger: logger}
}

// Link returns the invitation URL for email.
func (d *Dispatcher) Link(email string) string {
	return d.baseURL + "?email=" + url.QueryEscape(email)
}

func (d *Dispatcher) NotifyInvitation(ctx context.Context, email string) error {
	if d.ledger != nil {
		first, err := d.ledger.Claim(ctx, email)
		if err != nil {
			d.logger.Warn().Err(err).Str("email", email).Msg("invitation ledger unavailable, sending anyway")
		} else if !first {
			d.logger.Debug().Str("email", email).Msg("invitation already sent recently")
			return nil
		}
	}

	link := d.Link(email)
	if d.mailer == nil || !d.mailer.IsConfigured() {
		d.logger.Info().Str("email", email).Str("link", link).Msg("invitation link generated, email delivery not configured")
		return nil
	}

	if err := d.mailer.SendInvitationEmail(email, link); err != nil {
		if d.ledger != nil {
			if releaseErr := d.ledger.Release(ctx, email); releaseErr != nil {
				d.logger.Warn().Err(releaseErr).Str("email", email).Msg("release invitation claim")
			}
		}
		return fmt.Errorf("send invitation to %s: %w", email, err)
	}
	d.logger.Info().Str("email", email).Msg("invitation sent")
	return nil
}

package invite

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMailer struct {
	configured bool
	err        error
	sent       []string
	links      []string
}

func (m *fakeMailer) IsConfigured() bool { return m.configured }

func (m *fakeMailer) SendInvitationEmail(to, inviteURL string) error {
	m.sent = append(m.sent, to)
	m.links = append(m.links, inviteURL)
	return m.err
}

func TestDispatcherSendsOncePerWindow(t *testing.T) {
	s := miniredis.RunT(t)
	ledger, err := NewRedisLedger("redis://"+s.Addr(), time.Hour)
	require.NoError(t, err)
	mailer := &fakeMailer{configured: true}
	d := NewDispatcher(ledger, mailer, "http://example.com/invite", zerolog.Nop())

	ctx := context.Background()
	require.NoError(t, d.NotifyInvitation(ctx, "new@x.com"))
	require.NoError(t, d.NotifyInvitation(ctx, "new@x.com"))

	assert.Equal(t, []string{"new@x.com"}, mailer.sent)
	assert.Equal(t, "http://example.com/invite?email=new%40x.com", mailer.links[0])
}

func TestDispatcherReleasesClaimOnSendFailure(t *testing.T) {
	s := miniredis.RunT(t)
	ledger, err := NewRedisLedger("redis://"+s.Addr(), time.Hour)
	require.NoError(t, err)
	mailer := &fakeMailer{configured: true, err: errors.New("smtp down")}
	d := NewDispatcher(ledger, mailer, "http://example.com/invite", zerolog.Nop())

	err = d.NotifyInvitation(context.Background(), "new@x.com")
	require.Error(t, err)
	assert.False(t, s.Exists("invite:new@x.com"))
}

func TestDispatcherLogsLinkWithoutMailer(t *testing.T) {
	var buf bytes.Buffer
	d := NewDispatcher(nil, &fakeMailer{}, "http://example.com/invite", zerolog.New(&buf))

	require.NoError(t, d.NotifyInvitation(context.Background(), "new@x.com"))
	assert.Contains(t, buf.String(), "http://example.com/invite?email=new%40x.com")
}

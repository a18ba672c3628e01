package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Nerzal/gocloak/v13"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ErrDirectoryUnavailable wraps failures talking to the identity provider.
var ErrDirectoryUnavailable = errors.New("identity directory unavailable")

// KeycloakConfig addresses the realm whose admin API is queried.
type KeycloakConfig struct {
	BaseURL      string
	Realm        string
	ClientID     string
	ClientSecret string
}

// Keycloak implements Directory against the Keycloak admin REST API using a
// service account obtained through the client credentials grant.
type Keycloak struct {
	client *gocloak.GoCloak
	realm  string
	tokens oauth2.TokenSource
}

func NewKeycloak(cfg KeycloakConfig) *Keycloak {
	base := strings.TrimRight(cfg.BaseURL, "/")
	oauth := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     base + "/realms/" + cfg.Realm + "/protocol/openid-connect/token",
	}
	client := gocloak.NewClient(base)
	client.RestyClient().SetTimeout(10 * time.Second)
	return &Keycloak{
		client: client,
		realm:  cfg.Realm,
		// cached until shortly before expiry
		tokens: oauth.TokenSource(context.Background()),
	}
}

func (k *Keycloak) LookupByEmail(ctx context.Context, email string) (Account, bool, error) {
	token, err := k.tokens.Token()
	if err != nil {
		return Account{}, false, fmt.Errorf("%w: service token: %w", ErrDirectoryUnavailable, err)
	}
	users, err := k.client.GetUsers(ctx, token.AccessToken, k.realm, gocloak.GetUsersParams{
		Email: gocloak.StringP(email),
		Exact: gocloak.BoolP(true),
	})
	if err != nil {
		return Account{}, false, fmt.Errorf("%w: user lookup: %w", ErrDirectoryUnavailable, err)
	}
	for _, user := range users {
		if user == nil {
			continue
		}
		id, address := gocloak.PString(user.ID), gocloak.PString(user.Email)
		if strings.EqualFold(address, email) && id != "" {
			return Account{ID: id, Email: address}, true, nil
		}
	}
	return Account{}, false, nil
}

package line

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	"github.com/chatrelay/chatrelay/internal/config"
)

// LoginClient exchanges LINE Login authorization codes for user access
// tokens and reads the signed-in user's profile.
type LoginClient struct {
	clientID     string
	clientSecret string
	endpoint     oauth2.Endpoint
	apiBase      string
	httpClient   *http.Client
	profiles     *Client
}

func NewLoginClient(cfg config.LineConfig, profiles *Client, httpClient *http.Client) *LoginClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout()}
	}
	return &LoginClient{
		clientID:     strings.TrimSpace(cfg.LoginChannelID),
		clientSecret: strings.TrimSpace(cfg.LoginChannelSecret),
		endpoint: oauth2.Endpoint{
			AuthURL:   cfg.AuthURL,
			TokenURL:  cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		apiBase:    strings.TrimRight(cfg.APIBaseURL, "/"),
		httpClient: httpClient,
		profiles:   profiles,
	}
}

func (c *LoginClient) oauthConfig(redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		Endpoint:     c.endpoint,
		RedirectURL:  redirectURI,
		Scopes:       []string{"profile", "openid"},
	}
}

// AuthCodeURL builds the LINE Login authorization URL for state.
func (c *LoginClient) AuthCodeURL(redirectURI, state string) string {
	return c.oauthConfig(redirectURI).AuthCodeURL(state)
}

// Exchange trades an authorization code for a user access token.
func (c *LoginClient) Exchange(ctx context.Context, code, redirectURI string) (*oauth2.Token, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fmt.Errorf("authorization code is required")
	}
	if c.clientID == "" || c.clientSecret == "" {
		return nil, fmt.Errorf("line login channel is not configured")
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	token, err := c.oauthConfig(redirectURI).Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	return token, nil
}

// UserProfile reads the profile of the user owning accessToken.
func (c *LoginClient) UserProfile(ctx context.Context, accessToken string) (Profile, error) {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return Profile{}, fmt.Errorf("access token is required")
	}
	var profile Profile
	if err := c.profiles.doJSON(ctx, http.MethodGet, c.apiBase+"/v2/profile", accessToken, nil, &profile); err != nil {
		return Profile{}, fmt.Errorf("get user profile: %w", err)
	}
	return profile, nil
}

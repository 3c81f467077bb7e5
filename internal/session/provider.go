package session

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/reviewradar/reviewradar/internal/config"
)

const userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// Provider establishes and tears down storefront sessions. Implementations
// are opaque to the orchestration core.
type Provider interface {
	Establish(ctx context.Context) (*Session, error)
	Teardown(ctx context.Context, s *Session) error
}

// New selects a provider implementation from configuration.
func New(cfg config.Config) (Provider, error) {
	switch cfg.SessionProvider {
	case config.SessionProviderWeb:
		return &WebProvider{
			BaseURL:  cfg.BaseURL,
			Email:    cfg.LoginEmail,
			Password: cfg.LoginPassword,
			Headless: cfg.Headless,
		}, nil
	case config.SessionProviderNone:
		return &NoneProvider{Headless: cfg.Headless}, nil
	default:
		return nil, fmt.Errorf("unsupported session provider: %s", cfg.SessionProvider)
	}
}

// WebProvider builds an HTTP session with a cookie jar and performs the
// storefront login when credentials are configured. Without credentials it
// degrades to an anonymous session, mirroring the scraper's behavior.
type WebProvider struct {
	BaseURL  string
	Email    string
	Password string
	Headless bool
}

func (p *WebProvider) Establish(ctx context.Context) (*Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	client := &http.Client{
		Jar:     jar,
		Timeout: 90 * time.Second,
	}

	// Warm-up request: collects the session cookies the login form needs.
	if err := p.get(ctx, client, p.BaseURL); err != nil {
		return nil, fmt.Errorf("open storefront: %w", err)
	}

	s := &Session{
		ID:            "sess_" + uuid.NewString()[:8],
		Client:        client,
		Headless:      p.Headless,
		EstablishedAt: time.Now(),
	}

	if p.Email == "" || p.Password == "" {
		return s, nil
	}

	if err := p.login(ctx, client); err != nil {
		return nil, err
	}
	s.Authenticated = true
	return s, nil
}

func (p *WebProvider) login(ctx context.Context, client *http.Client) error {
	form := url.Values{
		"email":    {p.Email},
		"password": {p.Password},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(p.BaseURL, "/")+"/ap/signin", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("login request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusFound:
		if strings.Contains(strings.ToLower(string(body)), "captcha") {
			return &AuthError{Reason: "captcha challenge on login"}
		}
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &AuthError{Reason: fmt.Sprintf("login rejected with status %d", resp.StatusCode)}
	default:
		return fmt.Errorf("login failed with status %d", resp.StatusCode)
	}
}

func (p *WebProvider) get(ctx context.Context, client *http.Client, rawURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("status %d from %s", resp.StatusCode, rawURL)
	}
	return nil
}

func (p *WebProvider) Teardown(ctx context.Context, s *Session) error {
	if s == nil || s.Client == nil {
		return nil
	}
	s.Client.CloseIdleConnections()
	return nil
}

// NoneProvider hands out anonymous sessions without any login. Used for
// development and for storefronts that allow unauthenticated access.
type NoneProvider struct {
	Headless bool
}

func (p *NoneProvider) Establish(ctx context.Context) (*Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	return &Session{
		ID:            "sess_" + uuid.NewString()[:8],
		Client:        &http.Client{Jar: jar, Timeout: 90 * time.Second},
		Headless:      p.Headless,
		EstablishedAt: time.Now(),
	}, nil
}

func (p *NoneProvider) Teardown(ctx context.Context, s *Session) error {
	if s != nil && s.Client != nil {
		s.Client.CloseIdleConnections()
	}
	return nil
}

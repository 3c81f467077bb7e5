package scrape

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/reviewradar/reviewradar/internal/session"
)

const userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// maxBodyBytes bounds how much of a product page is read.
const maxBodyBytes = 4 << 20

// HTTPFetcher fetches product pages over the shared session's HTTP client.
// The primary access path is /dp/<id>; the alternate path used as fallback
// is /gp/product/<id>.
type HTTPFetcher struct {
	BaseURL string
}

// NewHTTPFetcher creates a fetcher rooted at the storefront base URL.
func NewHTTPFetcher(baseURL string) *HTTPFetcher {
	return &HTTPFetcher{BaseURL: strings.TrimRight(baseURL, "/")}
}

func (f *HTTPFetcher) Navigate(ctx context.Context, s *session.Session, itemID string) (*Page, error) {
	return f.fetchPage(ctx, s, fmt.Sprintf("%s/dp/%s", f.BaseURL, itemID))
}

func (f *HTTPFetcher) NavigateFallback(ctx context.Context, s *session.Session, itemID string) (*Page, error) {
	return f.fetchPage(ctx, s, fmt.Sprintf("%s/gp/product/%s", f.BaseURL, itemID))
}

func (f *HTTPFetcher) fetchPage(ctx context.Context, s *session.Session, url string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, permanentErr("navigate", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", "it-IT,it;q=0.9,en;q=0.5")

	resp, err := s.Client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		// Network errors and deadline expiry are worth retrying.
		return nil, transientErr("navigate "+url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, transientErr("read "+url, err)
	}

	if err := classifyResponse(resp.StatusCode, string(body)); err != nil {
		return nil, err
	}
	return &Page{URL: url, Body: string(body)}, nil
}

// classifyResponse maps a storefront response to the error taxonomy.
// Login walls and captcha challenges are authentication-class: the session
// must be re-established before retrying.
func classifyResponse(status int, body string) error {
	lower := strings.ToLower(body)
	switch {
	case status == http.StatusNotFound || status == http.StatusGone:
		return permanentErr("navigate", ErrItemNotFound)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &session.AuthError{Reason: fmt.Sprintf("blocked with status %d", status)}
	case status == http.StatusTooManyRequests:
		return transientErr("navigate", fmt.Errorf("rate limited (status %d)", status))
	case status >= 500:
		return transientErr("navigate", fmt.Errorf("upstream error (status %d)", status))
	case status != http.StatusOK:
		return permanentErr("navigate", fmt.Errorf("unexpected status %d", status))
	case strings.Contains(lower, "captcha"):
		return &session.AuthError{Reason: "captcha challenge"}
	case strings.Contains(lower, `id="ap_email"`) || strings.Contains(lower, `id="signinsubmit"`):
		return &session.AuthError{Reason: "redirected to login form"}
	}
	return nil
}

var (
	titleRe  = regexp.MustCompile(`(?s)id="productTitle"[^>]*>(.*?)<`)
	ratingRe = regexp.MustCompile(`([0-9][.,][0-9])\s*(?:su|out of)\s*5`)
	countRe  = regexp.MustCompile(`([0-9][0-9.,]*)\s*(?:recensioni|valutazioni|global ratings|ratings)`)
	priceRe  = regexp.MustCompile(`class="a-offscreen">([^<]+)<`)
	reviewRe = regexp.MustCompile(`(?s)data-hook="review".*?</li>`)

	reviewTitleRe  = regexp.MustCompile(`(?s)data-hook="review-title"[^>]*>(?:<[^>]*>)*([^<]+)`)
	reviewBodyRe   = regexp.MustCompile(`(?s)data-hook="review-body"[^>]*>(?:<[^>]*>)*([^<]+)`)
	reviewRatingRe = regexp.MustCompile(`([0-9][.,][0-9]) (?:su|out of) 5`)
	verifiedRe     = regexp.MustCompile(`data-hook="avp-badge"`)
)

// Extract pulls the product's core fields and up to maxReviews reviews out
// of a navigated page. A page missing core data is a permanent failure:
// re-fetching the same markup will not produce a title.
func (f *HTTPFetcher) Extract(ctx context.Context, s *session.Session, page *Page, maxReviews int) (*RawContent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	content := &RawContent{
		Authenticated: s.Authenticated,
		FetchedAt:     time.Now(),
	}

	if m := titleRe.FindStringSubmatch(page.Body); m != nil {
		content.Title = strings.TrimSpace(m[1])
	}
	if m := ratingRe.FindStringSubmatch(page.Body); m != nil {
		content.RatingAverage = parseDecimal(m[1])
	}
	if m := countRe.FindStringSubmatch(page.Body); m != nil {
		content.TotalReviews = parseCount(m[1])
	}
	if m := priceRe.FindStringSubmatch(page.Body); m != nil {
		content.Price = strings.TrimSpace(m[1])
	}

	content.Reviews = extractReviews(page.Body, maxReviews)

	if !content.HasCore() {
		return nil, permanentErr("extract", errors.New("core product data missing"))
	}
	return content, nil
}

func extractReviews(body string, max int) []Review {
	blocks := reviewRe.FindAllString(body, -1)
	reviews := make([]Review, 0, len(blocks))
	for _, block := range blocks {
		if max > 0 && len(reviews) >= max {
			break
		}
		r := Review{Verified: verifiedRe.MatchString(block)}
		if m := reviewTitleRe.FindStringSubmatch(block); m != nil {
			r.Title = strings.TrimSpace(m[1])
		}
		if m := reviewBodyRe.FindStringSubmatch(block); m != nil {
			r.Text = strings.TrimSpace(m[1])
		}
		if m := reviewRatingRe.FindStringSubmatch(block); m != nil {
			r.Rating = parseDecimal(m[1])
		}
		if r.Title == "" && r.Text == "" {
			continue
		}
		reviews = append(reviews, r)
	}
	return reviews
}

func parseDecimal(s string) float64 {
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
	if err != nil {
		return 0
	}
	return v
}

func parseCount(s string) int {
	cleaned := strings.NewReplacer(".", "", ",", "").Replace(s)
	n, err := strconv.Atoi(cleaned)
	if err != nil {
		return 0
	}
	return n
}

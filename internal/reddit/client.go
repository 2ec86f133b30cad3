package reddit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"github.com/letieu/reddit-trends/internal/retry"
)

const (
	DefaultBaseURL   = "https://www.reddit.com"
	DefaultOAuthURL  = "https://oauth.reddit.com"
	DefaultTokenURL  = "https://www.reddit.com/api/v1/access_token"
	DefaultUserAgent = "linux:reddit-trends:v1.0.0 (by /u/reddit-trends)"

	// DefaultTimeout bounds a request when Options.Timeout is unset.
	DefaultTimeout = 30 * time.Second

	errorBodyLimit = 500
)

// Options tune a Client. Zero values fall back to the defaults above and no
// courtesy delay.
type Options struct {
	BaseURL    string
	UserAgent  string
	Timeout    time.Duration
	Delay      time.Duration
	MaxRetries int
	RetryWait  time.Duration
	// Doer replaces the default instrumented net/http client. Ignored by
	// NewOAuthClient, which needs a *http.Client for the token exchange.
	Doer Doer
}

func (o Options) withDefaults(baseURL string) Options {
	if o.BaseURL == "" {
		o.BaseURL = baseURL
	}
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return o
}

// Credentials of a Reddit "script" or "web" app.
type Credentials struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
}

// Client fetches top listings. The public and OAuth variants differ only in
// the HTTP client and the listing path.
type Client struct {
	doer       Doer
	baseURL    string
	userAgent  string
	pathFormat string
	delay      time.Duration
	retry      retry.Policy
}

// NewPublicClient reads the anonymous JSON endpoints of www.reddit.com.
func NewPublicClient(opts Options) *Client {
	opts = opts.withDefaults(DefaultBaseURL)
	doer := opts.Doer
	if doer == nil {
		doer = NewHTTPClient(opts.UserAgent, opts.Timeout)
	}
	return newClient(doer, opts, "/r/%s/top/.json")
}

// NewOAuthClient authenticates with the client credentials grant and reads
// listings from oauth.reddit.com.
func NewOAuthClient(ctx context.Context, opts Options, creds Credentials) *Client {
	opts = opts.withDefaults(DefaultOAuthURL)
	if creds.TokenURL == "" {
		creds.TokenURL = DefaultTokenURL
	}

	cc := clientcredentials.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		TokenURL:     creds.TokenURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	base := NewHTTPClient(opts.UserAgent, opts.Timeout)
	hc := cc.Client(context.WithValue(ctx, oauth2.HTTPClient, base))
	hc.Timeout = opts.Timeout

	return newClient(hc, opts, "/r/%s/top")
}

func newClient(doer Doer, opts Options, pathFormat string) *Client {
	return &Client{
		doer:       doer,
		baseURL:    opts.BaseURL,
		userAgent:  opts.UserAgent,
		pathFormat: pathFormat,
		delay:      opts.Delay,
		retry: retry.Policy{
			MaxRetries:  opts.MaxRetries,
			InitialWait: opts.RetryWait,
			Retryable: func(err error) bool {
				var fe *FetchError
				return errors.As(err, &fe) && fe.Temporary()
			},
		},
	}
}

func (c *Client) listingURL(q Query) string {
	v := url.Values{}
	v.Set("t", string(q.Window))
	v.Set("limit", strconv.Itoa(q.Limit))
	v.Set("raw_json", "1")
	return c.baseURL + fmt.Sprintf(c.pathFormat, url.PathEscape(q.Forum)) + "?" + v.Encode()
}

// FetchTop returns the top posts of q.Forum in listing order. Every request,
// retries included, waits for the courtesy delay first.
func (c *Client) FetchTop(ctx context.Context, q Query) ([]RawPost, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	u := c.listingURL(q)

	limiter := rate.NewLimiter(rate.Every(c.delay), 1)
	limiter.Allow()

	var posts []RawPost
	err := retry.Do(ctx, c.retry, func(attempt int) error {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		slog.Info("Fetching listing", "url", u, "attempt", attempt+1)

		got, err := c.get(ctx, u)
		if err != nil {
			slog.Warn("Listing request failed", "url", u, "attempt", attempt+1, "error", err)
			return err
		}
		posts = got
		return nil
	})
	if err != nil {
		return nil, err
	}
	return posts, nil
}

func (c *Client) get(ctx context.Context, u string) ([]RawPost, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &FetchError{URL: u, Err: err}
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.doer.Do(req)
	if err != nil {
		fe := &FetchError{URL: u, Err: err}
		// A rejected token exchange carries the token endpoint's status.
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			fe.StatusCode = re.Response.StatusCode
		}
		return nil, fe
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return nil, &FetchError{URL: u, StatusCode: resp.StatusCode, Body: string(body)}
	}

	var listing listingResponse
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, &FetchError{URL: u, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode listing: %w", err)}
	}

	posts := make([]RawPost, 0, len(listing.Data.Children))
	for _, child := range listing.Data.Children {
		posts = append(posts, child.Data)
	}
	slog.Info("Fetched listing", "url", u, "status", resp.StatusCode, "posts", len(posts))
	return posts, nil
}

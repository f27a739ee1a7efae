package twilio

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	twiliosdk "github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"media-relay/internal/integrations/paramstore"
)

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	Code       int
	Message    string
	MoreInfo   string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("twilio: unexpected status %d: %d %s", e.StatusCode, e.Code, e.Message)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client sends text messages through the Twilio Messages API. It works for
// SMS and WhatsApp senders alike; WhatsApp addresses carry a "whatsapp:" prefix.
type Client struct {
	baseURL    string
	endpoint   *url.URL
	httpClient *http.Client
	accountSID string
	from       string

	authToken  string
	getter     paramstore.Getter
	tokenParam string

	tokenMu sync.Mutex
	token   string
}

type Option func(*Client)

// WithBaseURL sends API requests to baseURL's scheme and host instead of
// api.twilio.com. Paths are left as the SDK builds them.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithAuthToken sets a static auth token.
func WithAuthToken(token string) Option {
	return func(c *Client) {
		c.authToken = strings.TrimSpace(token)
	}
}

// WithParamStoreToken resolves the auth token from SSM on first use. A static
// token set with WithAuthToken takes precedence.
func WithParamStoreToken(getter paramstore.Getter, name string) Option {
	return func(c *Client) {
		c.getter = getter
		c.tokenParam = strings.TrimSpace(name)
	}
}

// NewClient creates a Client that sends from the given address.
func NewClient(accountSID, from string, opts ...Option) (*Client, error) {
	accountSID = strings.TrimSpace(accountSID)
	if accountSID == "" {
		return nil, errors.New("twilio: account SID must not be empty")
	}
	from = strings.TrimSpace(from)
	if from == "" {
		return nil, errors.New("twilio: sender address must not be empty")
	}
	c := &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		accountSID: accountSID,
		from:       from,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.authToken == "" && (c.getter == nil || c.tokenParam == "") {
		return nil, errors.New("twilio: an auth token or a parameter store source is required")
	}
	if c.baseURL != "" {
		u, err := url.Parse(c.baseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("twilio: invalid base url %q", c.baseURL)
		}
		c.endpoint = u
	}
	return c, nil
}

// resolveAuthToken returns the static token, or fetches it from SSM. Only a
// successful fetch is cached so a transient SSM failure is retried on the next send.
func (c *Client) resolveAuthToken(ctx context.Context) (string, error) {
	if c.authToken != "" {
		return c.authToken, nil
	}
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if c.token != "" {
		return c.token, nil
	}
	tok, err := paramstore.FetchToken(ctx, c.getter, c.tokenParam)
	if err != nil {
		return "", fmt.Errorf("twilio: resolve auth token: %w", err)
	}
	c.token = tok
	return tok, nil
}

// restClient builds an SDK client bound to ctx. The SDK calls take no context,
// so cancellation reaches the request through the transport.
func (c *Client) restClient(ctx context.Context, token string) *twiliosdk.RestClient {
	next := c.httpClient.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	base := &twilioclient.Client{
		Credentials: twilioclient.NewCredentials(c.accountSID, token),
		HTTPClient: &http.Client{
			Timeout:   c.httpClient.Timeout,
			Transport: requestRewriter{ctx: ctx, endpoint: c.endpoint, next: next},
		},
	}
	base.SetAccountSid(c.accountSID)
	return twiliosdk.NewRestClientWithParams(twiliosdk.ClientParams{Client: base})
}

// Send delivers body to the given address.
func (c *Client) Send(ctx context.Context, to, body string) error {
	_, err := c.SendMessage(ctx, to, body)
	return err
}

// SendMessage delivers body to the given address and returns the message SID.
func (c *Client) SendMessage(ctx context.Context, to, body string) (string, error) {
	to = strings.TrimSpace(to)
	if to == "" {
		return "", errors.New("twilio: recipient must not be empty")
	}
	if body == "" {
		return "", errors.New("twilio: message body must not be empty")
	}

	token, err := c.resolveAuthToken(ctx)
	if err != nil {
		return "", err
	}

	params := &openapi.CreateMessageParams{}
	params.SetFrom(c.from)
	params.SetTo(to)
	params.SetBody(body)

	msg, err := c.restClient(ctx, token).Api.CreateMessage(params)
	if err != nil {
		var restErr *twilioclient.TwilioRestError
		if errors.As(err, &restErr) {
			return "", &HTTPStatusError{
				StatusCode: restErr.Status,
				Code:       restErr.Code,
				Message:    restErr.Message,
				MoreInfo:   restErr.MoreInfo,
			}
		}
		return "", fmt.Errorf("twilio: send message: %w", err)
	}
	if msg == nil || msg.Sid == nil || *msg.Sid == "" {
		return "", errors.New("twilio: response missing message sid")
	}
	return *msg.Sid, nil
}

// requestRewriter attaches the caller's context to SDK requests and, when an
// endpoint is set, points them at it.
type requestRewriter struct {
	ctx      context.Context
	endpoint *url.URL
	next     http.RoundTripper
}

func (rt requestRewriter) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.WithContext(rt.ctx)
	if rt.endpoint != nil {
		u := *out.URL
		u.Scheme = rt.endpoint.Scheme
		u.Host = rt.endpoint.Host
		out.URL = &u
		out.Host = ""
	}
	return rt.next.RoundTrip(out)
}

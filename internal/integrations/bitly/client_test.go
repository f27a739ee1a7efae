package bitly

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeGetter struct {
	val   string
	err   error
	calls int
}

func (f *fakeGetter) GetParameter(_ context.Context, _ string) (string, error) {
	f.calls++
	return f.val, f.err
}

func TestNewClient_RequiresKeySource(t *testing.T) {
	_, err := NewClient()
	require.ErrorContains(t, err, "API key")

	_, err = NewClient(WithParamStoreToken(&fakeGetter{}, " "))
	require.Error(t, err)

	_, err = NewClient(WithAPIKey("k"))
	require.NoError(t, err)
}

func TestWithHTTPClient_NilKeepsDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"link":"https://bit.ly/n"}`))
	}))
	defer srv.Close()

	c, err := NewClient(WithAPIKey("k"), WithBaseURL(srv.URL), WithHTTPClient(nil))
	require.NoError(t, err)
	require.NotNil(t, c.httpClient)

	short, err := c.Shorten(context.Background(), "https://bucket.s3.amazonaws.com/a.mp3")
	require.NoError(t, err)
	require.Equal(t, "https://bit.ly/n", short)
}

func TestShortenURL(t *testing.T) {
	require.Equal(t, "https://api-ssl.bitly.com/v4/shorten", shortenURL(""))
	require.Equal(t, "http://localhost:1/v4/shorten", shortenURL("http://localhost:1/"))
}

func TestShorten_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v4/shorten", r.URL.Path)
		require.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))
		var req shortenRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "https://bucket.s3.amazonaws.com/a.mp3?sig=1", req.LongURL)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"link":"https://bit.ly/abc","id":"bit.ly/abc"}`))
	}))
	defer srv.Close()

	c, err := NewClient(WithAPIKey("key-1"), WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	link, err := c.Shorten(context.Background(), "https://bucket.s3.amazonaws.com/a.mp3?sig=1")
	require.NoError(t, err)
	require.Equal(t, "https://bit.ly/abc", link)
}

func TestShorten_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"message":"RATE_LIMIT_EXCEEDED"}`))
	}))
	defer srv.Close()

	c, err := NewClient(WithAPIKey("k"), WithBaseURL(srv.URL))
	require.NoError(t, err)
	_, err = c.Shorten(context.Background(), "https://example.com/x")

	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusTooManyRequests, statusErr.HTTPStatusCode())
	require.Contains(t, err.Error(), "RATE_LIMIT_EXCEEDED")
}

func TestShorten_BadResponses(t *testing.T) {
	for name, body := range map[string]string{
		"decode response":       `nope`,
		"response missing link": `{}`,
	} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			}))
			defer srv.Close()

			c, err := NewClient(WithAPIKey("k"), WithBaseURL(srv.URL))
			require.NoError(t, err)
			_, err = c.Shorten(context.Background(), "https://example.com/x")
			require.ErrorContains(t, err, name)
		})
	}
}

func TestShorten_EmptyURL(t *testing.T) {
	c, err := NewClient(WithAPIKey("k"))
	require.NoError(t, err)
	_, err = c.Shorten(context.Background(), " ")
	require.ErrorContains(t, err, "long url is required")
}

func TestResolveAPIKey_FromParamStore(t *testing.T) {
	g := &fakeGetter{val: `{"token":"ssm-key"}`}
	c, err := NewClient(WithParamStoreToken(g, "/media-relay/bitly-token"))
	require.NoError(t, err)

	for range 3 {
		key, err := c.resolveAPIKey(context.Background())
		require.NoError(t, err)
		require.Equal(t, "ssm-key", key)
	}
	require.Equal(t, 1, g.calls)
}

package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultTimeout  = 30 * time.Second
	defaultRate     = 2.0
	defaultBurst    = 2
	maxPages        = 1000
	maxResponseBody = 10 << 20
)

type feedPage struct {
	Actions []RawAction `json:"actions"`
	Next    string      `json:"next"`
}

// HTTPSource reads a paginated JSON feed:
//
//	GET {base}/actions?since=<RFC3339>[&cursor=<next>]
//	{"actions": [...], "next": "<cursor or empty>"}
type HTTPSource struct {
	id      string
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
}

type HTTPOption func(*HTTPSource)

func WithHTTPClient(c *http.Client) HTTPOption {
	return func(s *HTTPSource) { s.client = c }
}

// WithRateLimit bounds requests per second to the source.
func WithRateLimit(perSecond float64, burst int) HTTPOption {
	return func(s *HTTPSource) {
		if perSecond <= 0 {
			s.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func NewHTTPSource(id, baseURL, apiKey string, timeout time.Duration, opts ...HTTPOption) *HTTPSource {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	s := &HTTPSource{
		id:      strings.ToLower(strings.TrimSpace(id)),
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(defaultRate), defaultBurst),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *HTTPSource) ID() string { return s.id }

func (s *HTTPSource) FetchSince(ctx context.Context, since time.Time) iter.Seq2[RawAction, error] {
	return func(yield func(RawAction, error) bool) {
		cursor := ""
		for page := 0; page < maxPages; page++ {
			p, err := s.fetchPage(ctx, since, cursor)
			if err != nil {
				yield(RawAction{}, err)
				return
			}
			for _, a := range p.Actions {
				if !yield(a, nil) {
					return
				}
			}
			if p.Next == "" || p.Next == cursor {
				return
			}
			cursor = p.Next
		}
		yield(RawAction{}, NewSourceError(ErrorBadData, s.id, fmt.Sprintf("feed exceeded %d pages", maxPages), nil))
	}
}

func (s *HTTPSource) fetchPage(ctx context.Context, since time.Time, cursor string) (*feedPage, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, s.classifyTransportError(err)
	}

	q := url.Values{}
	q.Set("since", since.UTC().Format(time.RFC3339))
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/actions?"+q.Encode(), nil)
	if err != nil {
		return nil, NewSourceError(ErrorInternal, s.id, "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, s.classifyTransportError(err)
	}
	defer resp.Body.Close()

	if err := s.classifyStatus(resp); err != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, err
	}

	var p feedPage
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(&p); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, NewSourceError(ErrorTimeout, s.id, "read response", err)
		}
		return nil, NewSourceError(ErrorBadData, s.id, "decode feed page", err)
	}
	return &p, nil
}

func (s *HTTPSource) classifyStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return NewSourceError(ErrorRateLimited, s.id, "rate limited", nil)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return NewSourceError(ErrorAuthentication, s.id, fmt.Sprintf("status %d", resp.StatusCode), nil)
	case resp.StatusCode == http.StatusNotFound:
		return NewSourceError(ErrorNotFound, s.id, "feed not found", nil)
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		return NewSourceError(ErrorTimeout, s.id, fmt.Sprintf("status %d", resp.StatusCode), nil)
	case resp.StatusCode >= 500:
		return NewSourceError(ErrorOutage, s.id, fmt.Sprintf("status %d", resp.StatusCode), nil)
	default:
		return NewSourceError(ErrorBadData, s.id, fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}
}

func (s *HTTPSource) classifyTransportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewSourceError(ErrorTimeout, s.id, "request timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewSourceError(ErrorTimeout, s.id, "request timed out", err)
	}
	return NewSourceError(ErrorOutage, s.id, "request failed", err)
}

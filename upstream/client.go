package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/erp_mirror/config"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

// ErrUpstreamUnavailable covers transport failures, non-2xx statuses and unreadable bodies.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// ErrStreamConsumed is yielded when a collection stream is ranged over a second time.
var ErrStreamConsumed = errors.New("upstream stream already consumed")

const maxErrorBody = 512

// Error is returned for every failed request; errors.Is(err, ErrUpstreamUnavailable) holds.
type Error struct {
	Collection string
	Page       int
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "upstream %s page %d", e.Collection, e.Page)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Body != "" {
		fmt.Fprintf(&b, ": %s", e.Body)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrUpstreamUnavailable }

type listResponse struct {
	Result []json.RawMessage `json:"result"`
}

type Client struct {
	baseURL     string
	token       string
	tokenHeader string
	pageSize    int
	maxPages    int
	paginate    bool
	http        *http.Client
	limiter     *rate.Limiter
	logger      *logrus.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(logger *logrus.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func NewClient(cfg config.UpstreamConfig, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tokenHeader := cfg.TokenHeader
	if tokenHeader == "" {
		tokenHeader = "AuthenticationToken"
	}
	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	c := &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		token:       cfg.Token,
		tokenHeader: tokenHeader,
		pageSize:    cfg.PageSize,
		maxPages:    maxPages,
		paginate:    cfg.Paginate,
		http:        &http.Client{Timeout: timeout},
		logger:      config.GetLogger(),
	}
	if cfg.RateLimitPerMin > 0 {
		// burst 1: the first request goes out immediately, later ones are spaced by the interval
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RateLimitPerMin)), 1)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FetchCollection requests the first page eagerly, so a failure there is returned
// directly. The remaining pages are fetched lazily while the sequence is ranged over.
// The sequence can be consumed once.
func (c *Client) FetchCollection(ctx context.Context, collection string) (iter.Seq2[json.RawMessage, error], error) {
	first, err := c.getPage(ctx, collection, 1)
	if err != nil {
		return nil, err
	}

	consumed := false
	return func(yield func(json.RawMessage, error) bool) {
		if consumed {
			yield(nil, ErrStreamConsumed)
			return
		}
		consumed = true

		records := first
		for page := 1; ; page++ {
			for _, raw := range records {
				if !yield(raw, nil) {
					return
				}
			}
			if !c.paginate || len(records) < c.pageSize {
				return
			}
			if page >= c.maxPages {
				c.logger.WithFields(logrus.Fields{
					"collection": collection,
					"pages":      page,
					"page_size":  c.pageSize,
				}).Warn("upstream page cap reached; remaining records not fetched")
				return
			}
			next, err := c.getPage(ctx, collection, page+1)
			if err != nil {
				yield(nil, err)
				return
			}
			records = next
		}
	}, nil
}

func (c *Client) pageURL(collection string, page int) string {
	params := url.Values{}
	params.Set("pageSize", strconv.Itoa(c.pageSize))
	if c.paginate {
		params.Set("page", strconv.Itoa(page))
	}
	return c.baseURL + "/" + url.PathEscape(strings.Trim(collection, "/")) + "?" + params.Encode()
}

func (c *Client) getPage(ctx context.Context, collection string, page int) ([]json.RawMessage, error) {
	ctx, span := otel.Tracer("erp_mirror/upstream").Start(ctx, "upstream.fetch_page")
	defer span.End()
	span.SetAttributes(attribute.String("erp.collection", collection), attribute.Int("erp.page", page))

	records, err := c.doGetPage(ctx, collection, page)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("erp.records", len(records)))
	return records, nil
}

func (c *Client) doGetPage(ctx context.Context, collection string, page int) ([]json.RawMessage, error) {
	fail := func(status int, body string, err error) error {
		return &Error{Collection: collection, Page: page, StatusCode: status, Body: body, Err: err}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fail(0, "", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.pageURL(collection, page), nil)
	if err != nil {
		return nil, fail(0, "", err)
	}
	req.Header.Set(c.tokenHeader, c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fail(0, "", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fail(resp.StatusCode, "", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := strings.TrimSpace(string(body))
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return nil, fail(resp.StatusCode, snippet, nil)
	}

	var parsed listResponse
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, fail(resp.StatusCode, "", fmt.Errorf("decode response: %w", err))
		}
	}
	// absent or null result is an empty collection
	return parsed.Result, nil
}

package tally

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jpillora/backoff"
)

const (
	DefaultEndpoint = "https://api.tally.xyz/query"

	defaultTimeout    = 10 * time.Second
	defaultMaxRetries = 3
	defaultPageCap    = 50
	defaultMinBackoff = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

var (
	// ErrRateLimited is returned when the API keeps rate limiting past the
	// retry budget. The caller should defer the work, not fail permanently.
	ErrRateLimited = errors.New("tally: rate limited")
	// ErrNotFound is returned for unknown organizations.
	ErrNotFound = errors.New("tally: not found")
	// ErrAuth is returned on authentication failures. Not retried.
	ErrAuth = errors.New("tally: authentication failed")
)

// PartialFetchError reports a pagination run that failed after fetching some
// pages. Callers must not act on the incomplete page set.
type PartialFetchError struct {
	Pages int
	Err   error
}

func (e *PartialFetchError) Error() string {
	return fmt.Sprintf("tally: partial fetch after %d page(s): %v", e.Pages, e.Err)
}

func (e *PartialFetchError) Unwrap() error { return e.Err }

// Config holds client settings. Zero fields take defaults.
type Config struct {
	Endpoint   string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	PageCap    int
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Client wraps the Tally GraphQL API. All remote reads go through do, which
// retries transient failures with exponential backoff and honors rate-limit
// hints. Never holds locks while a request is in flight.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	maxRetries int
	pageCap    int
	minBackoff time.Duration
	maxBackoff time.Duration

	// replaced in tests to avoid real sleeps
	sleep func(ctx context.Context, d time.Duration) error
}

func NewClient(cfg Config) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.PageCap <= 0 {
		cfg.PageCap = defaultPageCap
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = defaultMinBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	return &Client{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		maxRetries: cfg.MaxRetries,
		pageCap:    cfg.PageCap,
		minBackoff: cfg.MinBackoff,
		maxBackoff: cfg.MaxBackoff,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// do executes one GraphQL request, retrying timeouts, 5xx and rate limits.
func (c *Client) do(ctx context.Context, query string, variables map[string]any, out any) error {
	body, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("tally: marshal request: %w", err)
	}

	b := &backoff.Backoff{
		Min:    c.minBackoff,
		Max:    c.maxBackoff,
		Factor: 2,
		Jitter: true,
	}

	var lastErr error
	hints := 0
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, b.Duration()); err != nil {
				return err
			}
		}

		raw, retryable, err := c.once(ctx, body)
		if err == nil {
			return decodeData(raw, out)
		}
		lastErr = err
		if !retryable {
			return err
		}

		// Rate limit hints override the computed backoff.
		var rl *rateLimitedError
		if errors.As(err, &rl) && rl.retryAfter > 0 && hints < c.maxRetries {
			hints++
			if err := c.sleep(ctx, rl.retryAfter); err != nil {
				return err
			}
			// The hinted wait replaces this attempt's backoff sleep.
			b.Reset()
			attempt--
			continue
		}
	}

	if errors.Is(lastErr, ErrRateLimited) {
		return ErrRateLimited
	}
	return fmt.Errorf("tally: request failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

// rateLimitedError carries the server's retry-after hint.
type rateLimitedError struct {
	retryAfter time.Duration
}

func (e *rateLimitedError) Error() string { return ErrRateLimited.Error() }
func (e *rateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// once performs a single HTTP round trip. The second return reports whether
// the failure is worth retrying.
func (c *Client) once(ctx context.Context, body []byte) (json.RawMessage, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, true, &rateLimitedError{retryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, false, ErrAuth
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("tally: server returned %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, false, fmt.Errorf("tally: server returned %d", resp.StatusCode)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, err
	}

	var envelope graphqlResponse
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, false, fmt.Errorf("tally: decode response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		msg := envelope.Errors[0].Message
		if strings.Contains(strings.ToLower(msg), "not found") {
			return nil, false, ErrNotFound
		}
		return nil, false, fmt.Errorf("tally: api error: %s", msg)
	}
	return envelope.Data, false, nil
}

func decodeData(raw json.RawMessage, out any) error {
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("tally: decode data: %w", err)
	}
	return nil
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

const organizationsQuery = `
query($input: OrganizationsInput!) {
    organizations(input: $input) {
        nodes {
            ... on Organization {
                id
                name
                slug
                proposalsCount
            }
        }
        pageInfo {
            lastCursor
            count
        }
    }
}`

// ListOrganizations walks the full organization list, following cursors until
// the API reports the last page or the page cap is reached. A failure after
// the first page returns a PartialFetchError so callers never act on a
// truncated directory.
func (c *Client) ListOrganizations(ctx context.Context) ([]Organization, error) {
	var all []Organization
	var cursor string

	for page := 0; page < c.pageCap; page++ {
		input := map[string]any{
			"sort": map[string]any{"sortBy": "id", "isDescending": true},
			"page": map[string]any{},
		}
		if cursor != "" {
			input["page"].(map[string]any)["afterCursor"] = cursor
		}

		var result organizationsPage
		if err := c.do(ctx, organizationsQuery, map[string]any{"input": input}, &result); err != nil {
			if page > 0 {
				return nil, &PartialFetchError{Pages: page, Err: err}
			}
			return nil, err
		}

		all = append(all, result.Organizations.Nodes...)
		cursor = result.Organizations.PageInfo.LastCursor
		// The last page carries an empty cursor.
		if cursor == "" || len(result.Organizations.Nodes) == 0 {
			return all, nil
		}
	}

	return nil, &PartialFetchError{Pages: c.pageCap, Err: fmt.Errorf("page cap %d reached", c.pageCap)}
}

const organizationQuery = `
query($input: OrganizationInput!) {
    organization(input: $input) {
        id
        name
        slug
        proposalsCount
    }
}`

// GetOrganization fetches a single DAO by slug.
func (c *Client) GetOrganization(ctx context.Context, slug string) (*Organization, error) {
	var result organizationResult
	variables := map[string]any{"input": map[string]any{"slug": slug}}
	if err := c.do(ctx, organizationQuery, variables, &result); err != nil {
		return nil, err
	}
	if result.Organization == nil {
		return nil, ErrNotFound
	}
	return result.Organization, nil
}

const proposalsQuery = `
query($input: ProposalsInput!) {
    proposals(input: $input) {
        nodes {
            ... on Proposal {
                id
                status
                start {
                    ... on Block { timestamp }
                    ... on BlocklessTimestamp { timestamp }
                }
                end {
                    ... on Block { timestamp }
                    ... on BlocklessTimestamp { timestamp }
                }
                metadata { title }
            }
        }
        pageInfo {
            lastCursor
            count
        }
    }
}`

// RecentProposals fetches the most recent proposals for an organization,
// newest first, up to limit.
func (c *Client) RecentProposals(ctx context.Context, orgID string, limit int) ([]Proposal, error) {
	variables := map[string]any{
		"input": map[string]any{
			"filters": map[string]any{"organizationId": orgID},
			"sort":    map[string]any{"sortBy": "id", "isDescending": true},
			"page":    map[string]any{"limit": limit},
		},
	}

	var result proposalsPage
	if err := c.do(ctx, proposalsQuery, variables, &result); err != nil {
		return nil, err
	}

	proposals := make([]Proposal, 0, len(result.Proposals.Nodes))
	for _, node := range result.Proposals.Nodes {
		proposals = append(proposals, node.toProposal())
	}
	return proposals, nil
}

package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"issuesync/internal/model"
)

// jiraTimeLayout matches the tracker's timestamp format.
const jiraTimeLayout = "2006-01-02T15:04:05.000-0700"

// HTTPClient talks to a Jira-style REST API.
type HTTPClient struct {
	baseURL string
	token   string
	httpc   *http.Client
	logger  *log.Logger
}

// HTTPOption customizes an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPClient) { h.httpc = c }
}

// WithLogger replaces the default stderr logger.
func WithLogger(l *log.Logger) HTTPOption {
	return func(h *HTTPClient) { h.logger = l }
}

// NewHTTPClient creates a client for the service at baseURL, authenticating
// with the given bearer token.
func NewHTTPClient(baseURL, token string, opts ...HTTPOption) (*HTTPClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("baseURL is required")
	}
	h := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpc:   &http.Client{Timeout: 30 * time.Second},
		logger:  log.New(os.Stderr, "[remote] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// searchResponse is the wire shape of a search page.
type searchResponse struct {
	StartAt    int           `json:"startAt"`
	MaxResults int           `json:"maxResults"`
	Total      int           `json:"total"`
	Issues     []issueRecord `json:"issues"`
}

type issueRecord struct {
	Key    string         `json:"key"`
	Fields map[string]any `json:"fields"`
}

// Search implements Client.
func (h *HTTPClient) Search(ctx context.Context, q Query, page Page) (*SearchResult, error) {
	startAt := 0
	if page.Token != "" {
		n, err := strconv.Atoi(page.Token)
		if err != nil {
			return nil, fmt.Errorf("invalid page token %q: %w", page.Token, err)
		}
		startAt = n
	}

	limit := page.Limit
	if limit <= 0 {
		limit = q.MaxResults
	}
	if limit <= 0 {
		limit = 50
	}

	params := url.Values{}
	params.Set("jql", q.JQL)
	params.Set("startAt", strconv.Itoa(startAt))
	params.Set("maxResults", strconv.Itoa(limit))
	if len(q.Fields) > 0 {
		params.Set("fields", strings.Join(q.Fields, ","))
	}

	endpoint := h.baseURL + "/rest/api/2/search?" + params.Encode()
	body, err := h.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	result := &SearchResult{Total: resp.Total}
	for _, issue := range resp.Issues {
		rec, err := toRecord(issue)
		if err != nil {
			h.logger.Printf("Warning: skipping malformed record %s: %v", issue.Key, err)
			continue
		}
		result.Records = append(result.Records, rec)
	}

	next := resp.StartAt + len(resp.Issues)
	if len(resp.Issues) > 0 && next < resp.Total {
		result.NextPageToken = strconv.Itoa(next)
	}
	return result, nil
}

// Update implements Client.
func (h *HTTPClient) Update(ctx context.Context, key string, fields map[string]any) error {
	if key == "" {
		return fmt.Errorf("record key is required")
	}

	payload, err := json.Marshal(map[string]any{"fields": fields})
	if err != nil {
		return fmt.Errorf("failed to encode update payload: %w", err)
	}

	endpoint := h.baseURL + "/rest/api/2/issue/" + url.PathEscape(key)
	if _, err := h.do(ctx, http.MethodPut, endpoint, payload); err != nil {
		return err
	}
	return nil
}

// do issues one HTTP request and maps non-2xx statuses to StatusError.
func (h *HTTPClient) do(ctx context.Context, method, endpoint string, payload []byte) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Message: truncate(string(body), 200)}
	}
	return body, nil
}

// toRecord converts a wire issue into a model.Record, extracting the
// modification timestamp from the "updated" field.
func toRecord(issue issueRecord) (*model.Record, error) {
	if issue.Key == "" {
		return nil, fmt.Errorf("missing key")
	}

	fields := issue.Fields
	if fields == nil {
		fields = make(map[string]any)
	}

	var updatedAt time.Time
	if raw, ok := fields["updated"].(string); ok {
		t, err := parseTimestamp(raw)
		if err != nil {
			return nil, fmt.Errorf("bad updated timestamp: %w", err)
		}
		updatedAt = t
		delete(fields, "updated")
	}

	return &model.Record{
		Key:       issue.Key,
		Fields:    fields,
		UpdatedAt: updatedAt,
	}, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	for _, layout := range []string{jiraTimeLayout, time.RFC3339, time.RFC3339Nano} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

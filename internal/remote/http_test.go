package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewHTTPClient(srv.URL, "test-token", WithLogger(log.New(io.Discard, "", 0)))
	if err != nil {
		t.Fatalf("NewHTTPClient failed: %v", err)
	}
	return c
}

func TestNewHTTPClientRequiresBaseURL(t *testing.T) {
	if _, err := NewHTTPClient("", "token"); err == nil {
		t.Error("NewHTTPClient with empty baseURL succeeded, want error")
	}
}

func TestSearchDecodesRecords(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/api/2/search" {
			t.Errorf("path = %s, want /rest/api/2/search", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.URL.Query().Get("jql"); got != "project = TEST" {
			t.Errorf("jql = %q", got)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"startAt":    0,
			"maxResults": 50,
			"total":      1,
			"issues": []map[string]any{
				{
					"key": "TEST-1",
					"fields": map[string]any{
						"summary": "Fix the login flow",
						"status":  "open",
						"updated": "2026-08-15T10:30:00.000+0000",
					},
				},
			},
		})
	})

	res, err := c.Search(context.Background(), Query{JQL: "project = TEST"}, Page{})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	if len(res.Records) != 1 {
		t.Fatalf("got %d records, want 1", len(res.Records))
	}
	rec := res.Records[0]
	if rec.Key != "TEST-1" {
		t.Errorf("Key = %q, want TEST-1", rec.Key)
	}
	if rec.Fields["summary"] != "Fix the login flow" {
		t.Errorf("summary = %v", rec.Fields["summary"])
	}
	if _, present := rec.Fields["updated"]; present {
		t.Error("updated timestamp left in field map")
	}
	want := time.Date(2026, 8, 15, 10, 30, 0, 0, time.UTC)
	if !rec.UpdatedAt.Equal(want) {
		t.Errorf("UpdatedAt = %v, want %v", rec.UpdatedAt, want)
	}
	if res.NextPageToken != "" {
		t.Errorf("NextPageToken = %q, want empty on final page", res.NextPageToken)
	}
}

func TestSearchPaginates(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		startAt := r.URL.Query().Get("startAt")

		issues := []map[string]any{}
		switch startAt {
		case "0":
			issues = append(issues,
				map[string]any{"key": "TEST-1", "fields": map[string]any{}},
				map[string]any{"key": "TEST-2", "fields": map[string]any{}})
		case "2":
			issues = append(issues,
				map[string]any{"key": "TEST-3", "fields": map[string]any{}})
		default:
			t.Errorf("unexpected startAt %q", startAt)
		}

		start := 0
		fmt.Sscanf(startAt, "%d", &start)
		json.NewEncoder(w).Encode(map[string]any{
			"startAt": start,
			"total":   3,
			"issues":  issues,
		})
	})

	page1, err := c.Search(context.Background(), Query{JQL: "q"}, Page{Limit: 2})
	if err != nil {
		t.Fatalf("page 1 failed: %v", err)
	}
	if len(page1.Records) != 2 || page1.NextPageToken != "2" {
		t.Fatalf("page 1 = %d records, token %q; want 2 records, token 2",
			len(page1.Records), page1.NextPageToken)
	}

	page2, err := c.Search(context.Background(), Query{JQL: "q"}, Page{Token: page1.NextPageToken, Limit: 2})
	if err != nil {
		t.Fatalf("page 2 failed: %v", err)
	}
	if len(page2.Records) != 1 || page2.NextPageToken != "" {
		t.Errorf("page 2 = %d records, token %q; want 1 record, empty token",
			len(page2.Records), page2.NextPageToken)
	}
}

func TestSearchSkipsMalformedRecords(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"startAt": 0,
			"total":   2,
			"issues": []map[string]any{
				{"fields": map[string]any{}}, // no key
				{"key": "TEST-2", "fields": map[string]any{}},
			},
		})
	})

	res, err := c.Search(context.Background(), Query{JQL: "q"}, Page{})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(res.Records) != 1 || res.Records[0].Key != "TEST-2" {
		t.Errorf("records = %v, want only TEST-2", res.Records)
	}
}

func TestUpdateSendsFields(t *testing.T) {
	var gotBody map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s, want PUT", r.Method)
		}
		if r.URL.Path != "/rest/api/2/issue/TEST-1" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusNoContent)
	})

	err := c.Update(context.Background(), "TEST-1", map[string]any{"status": "done"})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	fields, ok := gotBody["fields"].(map[string]any)
	if !ok || fields["status"] != "done" {
		t.Errorf("request body = %v, want fields.status=done", gotBody)
	}
}

func TestUpdateRequiresKey(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	if err := c.Update(context.Background(), "", nil); err == nil {
		t.Error("Update with empty key succeeded, want error")
	}
}

func TestStatusErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"rate limited", http.StatusTooManyRequests, true},
		{"server fault", http.StatusInternalServerError, true},
		{"bad gateway", http.StatusBadGateway, true},
		{"bad request", http.StatusBadRequest, false},
		{"not found", http.StatusNotFound, false},
		{"unauthorized", http.StatusUnauthorized, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})

			err := c.Update(context.Background(), "TEST-1", map[string]any{"a": 1})
			if err == nil {
				t.Fatalf("Update with status %d succeeded", tt.status)
			}

			var se *StatusError
			if !errors.As(err, &se) {
				t.Fatalf("error %v is not a StatusError", err)
			}
			if se.Code != tt.status {
				t.Errorf("Code = %d, want %d", se.Code, tt.status)
			}
			if got := IsRetryable(err); got != tt.retryable {
				t.Errorf("IsRetryable = %v, want %v", got, tt.retryable)
			}
		})
	}
}

func TestIsRetryableClassification(t *testing.T) {
	if IsRetryable(nil) {
		t.Error("nil error classified retryable")
	}
	if !IsRetryable(context.DeadlineExceeded) {
		t.Error("deadline exceeded classified fatal")
	}
	if IsRetryable(errors.New("field validation failed")) {
		t.Error("generic error classified retryable")
	}
}

// Package remote provides the client for the remote issue tracking service.
//
// The core engine only depends on the Client interface; the HTTP
// implementation speaks a Jira-style REST dialect with cursor-based search
// pagination and field-map updates.
package remote

import (
	"context"

	"issuesync/internal/model"
)

// Query selects the remote records to pull.
type Query struct {
	// JQL is the tracker query string.
	JQL string

	// Fields limits which record fields are returned. Empty means all.
	Fields []string

	// MaxResults bounds the page size.
	MaxResults int
}

// Page is a continuation token for search pagination.
// An empty Token starts from the beginning.
type Page struct {
	Token string
	Limit int
}

// SearchResult is one page of matching records.
type SearchResult struct {
	Records []*model.Record

	// NextPageToken continues the search; empty when exhausted.
	NextPageToken string

	// Total is the total number of matching records on the server.
	Total int
}

// Client is the remote read/write interface the sync engine depends on.
//
// Update returns an error for ordinary rejections rather than panicking;
// use IsRetryable to distinguish transient failures from fatal ones.
type Client interface {
	// Search returns one page of records matching the query.
	Search(ctx context.Context, q Query, page Page) (*SearchResult, error)

	// Update applies the given field changes to the record with key.
	Update(ctx context.Context, key string, fields map[string]any) error
}

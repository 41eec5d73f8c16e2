// ABOUTME: Document CRUD and query helpers for the backend client
// ABOUTME: Documents are schemaless field maps addressed by collection and id

package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Document is a single backend document. Fields hold the collection-specific
// attributes; ID and the timestamps are assigned server-side (the id may be
// supplied by the caller on create).
type Document struct {
	ID        string         `json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Fields    map[string]any `json:"fields"`
}

// Query is a single list constraint, rendered into the backend's query syntax.
type Query struct {
	expr string
}

// String returns the rendered query expression.
func (q Query) String() string { return q.expr }

// Equal constrains a field to an exact value.
func Equal(field string, value any) Query {
	return Query{expr: fmt.Sprintf("equal(%q,%s)", field, queryValue(value))}
}

// Contains constrains an array field to contain a value.
func Contains(field string, value any) Query {
	return Query{expr: fmt.Sprintf("contains(%q,%s)", field, queryValue(value))}
}

// OrderDesc sorts results by a field, newest/largest first.
func OrderDesc(field string) Query {
	return Query{expr: fmt.Sprintf("orderDesc(%q)", field)}
}

func queryValue(value any) string {
	data, err := json.Marshal(value)
	if err != nil {
		return `""`
	}
	return string(data)
}

// listResponse is the JSON body of a document list call.
type listResponse struct {
	Total     int        `json:"total"`
	Documents []Document `json:"documents"`
}

// List returns the documents of a collection matching the given queries, in
// the order the backend returns them.
func (c *Client) List(ctx context.Context, collection string, queries ...Query) ([]Document, error) {
	path := c.documentsPath(collection)
	if len(queries) > 0 {
		params := url.Values{}
		for _, q := range queries {
			params.Add("query", q.expr)
		}
		path += "?" + params.Encode()
	}

	var resp listResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Documents, nil
}

// Create inserts a document with the given id and fields. The id may be
// client-generated; the backend rejects duplicates.
func (c *Client) Create(ctx context.Context, collection, id string, fields map[string]any) (*Document, error) {
	body := map[string]any{"id": id, "fields": fields}
	var doc Document
	if err := c.do(ctx, http.MethodPost, c.documentsPath(collection), body, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Update patches the given fields of an existing document.
func (c *Client) Update(ctx context.Context, collection, id string, fields map[string]any) (*Document, error) {
	body := map[string]any{"fields": fields}
	path := c.documentsPath(collection) + "/" + url.PathEscape(id)
	var doc Document
	if err := c.do(ctx, http.MethodPatch, path, body, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (c *Client) documentsPath(collection string) string {
	return "/v1/databases/" + url.PathEscape(c.database) +
		"/collections/" + url.PathEscape(collection) + "/documents"
}

// ABOUTME: Provisioning surface of the backend client, API-key authenticated
// ABOUTME: Used only by lumen-setup to create the database, collections, and indexes

package backend

import (
	"context"
	"net/http"
	"net/url"
)

// Attribute describes one typed field of a collection schema.
type Attribute struct {
	Key      string `json:"key"`
	Type     string `json:"type"` // string, boolean, datetime
	Required bool   `json:"required"`
	Array    bool   `json:"array"`
	Default  any    `json:"default,omitempty"`
}

// Index describes a collection index. Type is "key" or "unique".
type Index struct {
	Key        string   `json:"key"`
	Type       string   `json:"type"`
	Attributes []string `json:"attributes"`
}

// CreateDatabase provisions the database the client is configured for.
func (c *Client) CreateDatabase(ctx context.Context, name string) error {
	body := map[string]any{"id": c.database, "name": name}
	return c.do(ctx, http.MethodPost, "/v1/databases", body, nil)
}

// CreateCollection provisions a collection in the configured database.
func (c *Client) CreateCollection(ctx context.Context, id, name string) error {
	body := map[string]any{"id": id, "name": name}
	path := "/v1/databases/" + url.PathEscape(c.database) + "/collections"
	return c.do(ctx, http.MethodPost, path, body, nil)
}

// CreateAttribute adds an attribute to a collection schema.
func (c *Client) CreateAttribute(ctx context.Context, collection string, attr Attribute) error {
	path := c.collectionPath(collection) + "/attributes"
	return c.do(ctx, http.MethodPost, path, attr, nil)
}

// CreateIndex adds an index to a collection.
func (c *Client) CreateIndex(ctx context.Context, collection string, idx Index) error {
	path := c.collectionPath(collection) + "/indexes"
	return c.do(ctx, http.MethodPost, path, idx, nil)
}

func (c *Client) collectionPath(collection string) string {
	return "/v1/databases/" + url.PathEscape(c.database) +
		"/collections/" + url.PathEscape(collection)
}

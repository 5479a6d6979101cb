// Package gateway es el cliente del backend gateway externo: grants por
// usuario y catálogo de opciones, ambos paginados con el sobre {data, meta}.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dropDatabas3/permgate/internal/catalog"
	"github.com/dropDatabas3/permgate/internal/pager"
	"github.com/dropDatabas3/permgate/internal/permission"
)

const (
	grantsPath  = "/permisos/usuario/"
	catalogPath = "/opciones"

	maxErrBody = 512
)

// StatusError: el gateway respondió fuera de 2xx.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("gateway: status %d", e.Status)
	}
	return fmt.Sprintf("gateway: status %d: %s", e.Status, e.Body)
}

// Client habla con el gateway. Implementa permission.Source y catalog.Source.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

// New crea el cliente. token es el service token enviado como Bearer.
func New(baseURL, token string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("gateway: base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("gateway: base url must be absolute: %q", baseURL)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{base: u, token: token, http: &http.Client{Timeout: timeout}}, nil
}

// BaseURL destino del gateway (lo usa el reverse proxy).
func (c *Client) BaseURL() *url.URL {
	u := *c.base
	return &u
}

// Token service token configurado.
func (c *Client) Token() string { return c.token }

// GetGrantsForUser GET {base}/permisos/usuario/{id}?page=&pageSize=
func (c *Client) GetGrantsForUser(ctx context.Context, userID int64, page, pageSize int) (pager.Page[permission.GrantRow], error) {
	var out pager.Page[permission.GrantRow]
	err := c.getPage(ctx, grantsPath+strconv.FormatInt(userID, 10), page, pageSize, &out)
	return out, err
}

// GetResourceCatalog GET {base}/opciones?page=&pageSize=
func (c *Client) GetResourceCatalog(ctx context.Context, page, pageSize int) (pager.Page[catalog.Entry], error) {
	var out pager.Page[catalog.Entry]
	err := c.getPage(ctx, catalogPath, page, pageSize, &out)
	return out, err
}

// Ping pide la primera página del catálogo con tamaño 1.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.GetResourceCatalog(ctx, 1, 1)
	return err
}

func (c *Client) getPage(ctx context.Context, path string, page, pageSize int, out any) error {
	u := c.base.JoinPath(path)
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	q.Set("pageSize", strconv.Itoa(pageSize))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
		return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, pager.ErrMalformedResponse) {
			return err
		}
		return fmt.Errorf("%w: %v", pager.ErrMalformedResponse, err)
	}
	return nil
}

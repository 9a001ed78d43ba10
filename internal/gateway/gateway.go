// Package gateway adapts logical table operations to the remote data
// store's REST API: POST creates, PATCH updates with an id filter,
// DELETE with an id filter, GET lists.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fitdesk/gymsync/internal/errors"
	"github.com/fitdesk/gymsync/internal/models"
)

// maxErrorBody bounds how much of a remote error response is kept in
// the error message.
const maxErrorBody = 512

// Gateway executes CRUD operations against the remote store and
// normalizes outcomes into the sync error taxonomy.
type Gateway struct {
	baseURL string
	client  *http.Client
}

// New creates a Gateway for the given base URL. Requests that exceed
// timeout are classified as transient network errors, never left to
// hang a drain pass.
func New(baseURL string, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Gateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// EndpointFor returns the remote endpoint for a logical table.
func (g *Gateway) EndpointFor(table string) string {
	return g.baseURL + "/" + table
}

// CreateRecord creates a record and returns the remote-confirmed row,
// notably carrying the server-assigned id.
func (g *Gateway) CreateRecord(ctx context.Context, table string, data models.Record) (models.Record, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, errors.NewValidation("payload is not serializable: " + err.Error())
	}

	respBody, err := g.do(ctx, http.MethodPost, g.EndpointFor(table), body, "")
	if err != nil {
		return nil, err
	}

	var created models.Record
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &created); err != nil {
			return nil, errors.NewServer(http.StatusOK, "unparseable create response: "+err.Error())
		}
	}
	if created == nil {
		created = data.Clone()
	}
	return created, nil
}

// UpdateRecord applies fields to the record with the given id.
func (g *Gateway) UpdateRecord(ctx context.Context, table, id string, fields map[string]any) error {
	body, err := json.Marshal(fields)
	if err != nil {
		return errors.NewValidation("payload is not serializable: " + err.Error())
	}
	_, err = g.do(ctx, http.MethodPatch, g.EndpointFor(table)+"?id=eq."+url.QueryEscape(id), body, "")
	return err
}

// DeleteRecord deletes the record with the given id.
func (g *Gateway) DeleteRecord(ctx context.Context, table, id string) error {
	_, err := g.do(ctx, http.MethodDelete, g.EndpointFor(table)+"?id=eq."+url.QueryEscape(id), nil, "")
	return err
}

// ListRecords lists the rows of a table, optionally filtered.
func (g *Gateway) ListRecords(ctx context.Context, table string, filter url.Values) ([]models.Record, error) {
	endpoint := g.EndpointFor(table)
	if len(filter) > 0 {
		endpoint += "?" + filter.Encode()
	}

	respBody, err := g.do(ctx, http.MethodGet, endpoint, nil, "")
	if err != nil {
		return nil, err
	}

	var records []models.Record
	if err := json.Unmarshal(respBody, &records); err != nil {
		return nil, errors.NewServer(http.StatusOK, "unparseable list response: "+err.Error())
	}
	return records, nil
}

// Execute replays a queued operation using the endpoint and verb it was
// enqueued with. For creates the remote-confirmed record is returned so
// the cache can swap the temporary id for the server-assigned one.
func (g *Gateway) Execute(ctx context.Context, op models.PendingOperation) (models.Record, error) {
	respBody, err := g.do(ctx, op.Method, op.URL, op.Body, op.IdempotencyKey)
	if err != nil {
		return nil, err
	}

	if op.Type != models.OpCreate {
		return nil, nil
	}

	var created models.Record
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &created); err != nil {
			return nil, errors.NewServer(http.StatusOK, "unparseable create response: "+err.Error())
		}
	}
	if created == nil && op.Data != nil {
		created = op.Data.Clone()
	}
	return created, nil
}

// Ping probes remote reachability for the connectivity monitor.
func (g *Gateway) Ping(ctx context.Context) error {
	_, err := g.do(ctx, http.MethodHead, g.baseURL+"/health", nil, "")
	if err != nil && !errors.IsNetwork(err) {
		// The endpoint answered, even if unhappily. That still means
		// the remote store is reachable.
		return nil
	}
	return err
}

// do runs one HTTP request and classifies the outcome: transport
// failures and timeouts become NetworkError, non-2xx responses become
// ServerError with the status attached.
func (g *Gateway) do(ctx context.Context, method, rawURL string, body []byte, idempotencyKey string) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, errors.NewValidation("invalid remote request: " + err.Error())
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		// Transmitted opportunistically; backends without dedup support
		// keep the documented duplicate-create-on-retry limitation.
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, errors.NewNetwork(fmt.Sprintf("%s %s failed", method, rawURL), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NewNetwork("failed to read remote response", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return respBody, nil
	}

	detail := strings.TrimSpace(string(respBody))
	if len(detail) > maxErrorBody {
		detail = detail[:maxErrorBody]
	}
	return nil, errors.NewServer(resp.StatusCode,
		fmt.Sprintf("%s %s returned %d: %s", method, rawURL, resp.StatusCode, detail))
}

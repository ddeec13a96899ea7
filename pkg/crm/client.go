package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/jmespath/go-jmespath"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	// DefaultTimeout is the default request timeout
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize is the maximum response body size (50MB)
	MaxResponseSize = 50 * 1024 * 1024

	// APIKeyHeader carries the store credential on every request
	APIKeyHeader = "x-api-key"
)

// Config holds the CRM client configuration.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration

	// JMESPath expressions selecting the record array from each list response
	ProspectsPath  string
	ActivitiesPath string
	ContactsPath   string
}

// Client is the HTTP implementation of Store.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  ectologger.Logger

	prospectsPath  *jmespath.JMESPath
	activitiesPath *jmespath.JMESPath
	contactsPath   *jmespath.JMESPath
}

var _ Store = (*Client)(nil)

// NewClient creates a CRM client. The envelope expressions are compiled up front so a bad
// expression fails at startup rather than mid-run.
func NewClient(cfg Config, logger ectologger.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("crm base url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
	}

	var err error
	if c.prospectsPath, err = compilePath(cfg.ProspectsPath); err != nil {
		return nil, fmt.Errorf("invalid prospects path: %w", err)
	}
	if c.activitiesPath, err = compilePath(cfg.ActivitiesPath); err != nil {
		return nil, fmt.Errorf("invalid activities path: %w", err)
	}
	if c.contactsPath, err = compilePath(cfg.ContactsPath); err != nil {
		return nil, fmt.Errorf("invalid contacts path: %w", err)
	}

	return c, nil
}

func compilePath(expression string) (*jmespath.JMESPath, error) {
	if expression == "" {
		expression = "@"
	}
	return jmespath.Compile(expression)
}

// ListProspects returns every prospect.
func (c *Client) ListProspects(ctx context.Context) ([]models.Prospect, error) {
	ctx, span := tracing.StartSpan(ctx, "crm.Client.ListProspects")
	defer span.End()

	var prospects []models.Prospect
	if err := c.list(ctx, "/api/prospects", c.prospectsPath, &prospects); err != nil {
		return nil, err
	}
	return prospects, nil
}

// ListActivities returns at most limit activities.
func (c *Client) ListActivities(ctx context.Context, limit int) ([]models.Activity, error) {
	ctx, span := tracing.StartSpan(ctx, "crm.Client.ListActivities")
	defer span.End()

	var activities []models.Activity
	path := "/api/activities?limit=" + strconv.Itoa(limit)
	if err := c.list(ctx, path, c.activitiesPath, &activities); err != nil {
		return nil, err
	}
	return activities, nil
}

// ListContacts returns every directory contact.
func (c *Client) ListContacts(ctx context.Context) ([]models.Contact, error) {
	ctx, span := tracing.StartSpan(ctx, "crm.Client.ListContacts")
	defer span.End()

	var contacts []models.Contact
	if err := c.list(ctx, "/api/directory/contacts", c.contactsPath, &contacts); err != nil {
		return nil, err
	}
	return contacts, nil
}

func (c *Client) UpdateProspect(ctx context.Context, id int64, fields map[string]any) error {
	ctx, span := tracing.StartSpan(ctx, "crm.Client.UpdateProspect")
	defer span.End()

	return c.do(ctx, http.MethodPut, fmt.Sprintf("/api/prospects/%d", id), fields, nil)
}

func (c *Client) DeleteProspect(ctx context.Context, id int64) error {
	ctx, span := tracing.StartSpan(ctx, "crm.Client.DeleteProspect")
	defer span.End()

	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/prospects/%d", id), nil, nil)
}

func (c *Client) UpdateContact(ctx context.Context, id int64, fields map[string]any) error {
	ctx, span := tracing.StartSpan(ctx, "crm.Client.UpdateContact")
	defer span.End()

	return c.do(ctx, http.MethodPut, fmt.Sprintf("/api/directory/contacts/%d", id), fields, nil)
}

// CreateContact creates a contact under prospectID. The returned contact is zero-valued when the
// store does not echo the created record.
func (c *Client) CreateContact(ctx context.Context, prospectID int64, fields models.ContactFields) (models.Contact, error) {
	ctx, span := tracing.StartSpan(ctx, "crm.Client.CreateContact")
	defer span.End()

	var created models.Contact
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/prospects/%d/contacts", prospectID), fields, &created)
	return created, err
}

func (c *Client) DeleteContact(ctx context.Context, id int64) error {
	ctx, span := tracing.StartSpan(ctx, "crm.Client.DeleteContact")
	defer span.End()

	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/directory/contacts/%d", id), nil, nil)
}

func (c *Client) UpdateActivity(ctx context.Context, id int64, fields map[string]any) error {
	ctx, span := tracing.StartSpan(ctx, "crm.Client.UpdateActivity")
	defer span.End()

	return c.do(ctx, http.MethodPut, fmt.Sprintf("/api/activities/%d", id), fields, nil)
}

// CreateActivity creates an activity owned by fields.ProspectID.
func (c *Client) CreateActivity(ctx context.Context, fields models.ActivityFields) (models.Activity, error) {
	ctx, span := tracing.StartSpan(ctx, "crm.Client.CreateActivity")
	defer span.End()

	var created models.Activity
	err := c.do(ctx, http.MethodPost, "/api/activities", fields, &created)
	return created, err
}

func (c *Client) DeleteActivity(ctx context.Context, id int64) error {
	ctx, span := tracing.StartSpan(ctx, "crm.Client.DeleteActivity")
	defer span.End()

	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/activities/%d", id), nil, nil)
}

// list fetches path, selects the record array with expr and decodes it into out. Numbers are
// kept as json.Number throughout so large ids and numeric attributes survive unrounded. A null
// selection is an empty collection.
func (c *Client) list(ctx context.Context, path string, expr *jmespath.JMESPath, out any) error {
	var body json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, nil, &body); err != nil {
		return err
	}

	var envelope any
	if len(bytes.TrimSpace(body)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.UseNumber()
		if err := dec.Decode(&envelope); err != nil {
			return fmt.Errorf("failed to parse response from %s: %w", path, err)
		}
	}

	selected, err := expr.Search(envelope)
	if err != nil {
		return fmt.Errorf("failed to select records from %s: %w", path, err)
	}
	switch selected.(type) {
	case nil:
		selected = []any{}
	case []any:
	default:
		return httperror.NewHTTPErrorf(http.StatusBadGateway, "%s did not return a list (got %T)", path, selected)
	}

	// round-trip through json so the model decoders see the original shapes
	raw, err := json.Marshal(selected)
	if err != nil {
		return fmt.Errorf("failed to re-encode records from %s: %w", path, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("failed to decode records from %s: %w", path, err)
	}
	return nil
}

// do executes one request. Non-2xx responses become httperror values carrying the status code.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	start := time.Now()
	url := c.baseURL + path

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(APIKeyHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")
	tracing.InjectHeaders(ctx, req.Header)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.WithContext(ctx).WithError(err).Errorf("HTTP request failed: %s %s", method, path)
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if len(data) > MaxResponseSize {
		return fmt.Errorf("response body too large: %d bytes (max %d)", len(data), MaxResponseSize)
	}

	c.logger.WithContext(ctx).Debugf("HTTP %s %s -> %d (%s)", method, path, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return httperror.NewHTTPErrorf(resp.StatusCode, "%s %s returned %d: %s", method, path, resp.StatusCode, snippet(data))
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, out); err != nil {
		if method != http.MethodGet {
			// the mutation already happened; an unexpected echo must not turn it into a failure
			c.logger.WithContext(ctx).WithError(err).Warnf("unparseable response body from %s %s", method, path)
			return nil
		}
		return fmt.Errorf("failed to parse response from %s %s: %w", method, path, err)
	}
	return nil
}

func snippet(data []byte) string {
	s := strings.TrimSpace(string(data))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}

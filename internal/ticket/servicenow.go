package ticket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ServiceNowConfig holds connection settings for a ServiceNow-style table API.
type ServiceNowConfig struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
}

// ServiceNow is a Gateway talking to the /api/now/table/incident REST API.
type ServiceNow struct {
	baseURL  string
	username string
	password string
	client   *http.Client
	logger   *slog.Logger
}

// NewServiceNow creates a REST ticketing client.
func NewServiceNow(cfg ServiceNowConfig, logger *slog.Logger) *ServiceNow {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &ServiceNow{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

type snowIncident struct {
	SysID  string `json:"sys_id"`
	Number string `json:"number"`
	State  string `json:"state"`
}

type snowDisplayValue struct {
	DisplayValue string `json:"display_value"`
}

type snowStatus struct {
	State      string           `json:"state"`
	AssignedTo snowDisplayValue `json:"assigned_to"`
}

// UnmarshalJSON accepts assigned_to either as an object or as an empty string,
// which is what the table API returns for unassigned incidents.
func (d *snowDisplayValue) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		d.DisplayValue = s
		return nil
	}
	type plain snowDisplayValue
	return json.Unmarshal(b, (*plain)(d))
}

func (c *ServiceNow) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close ticketing response body", "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s %s returned %d: %s", ErrUnavailable, method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// CreateIncident opens a new incident.
func (c *ServiceNow) CreateIncident(ctx context.Context, in NewIncident) (Created, error) {
	var out struct {
		Result snowIncident `json:"result"`
	}
	err := c.do(ctx, http.MethodPost, "/api/now/table/incident", map[string]string{
		"short_description": in.Title,
		"description":       in.Description,
		"caller_id":         in.UserID,
	}, &out)
	if err != nil {
		return Created{}, fmt.Errorf("create incident: %w", err)
	}
	if out.Result.SysID == "" {
		return Created{}, fmt.Errorf("create incident: response without sys_id")
	}
	c.logger.Info("Incident created", "incident_id", out.Result.SysID, "number", out.Result.Number)
	return Created{IncidentID: out.Result.SysID, Number: out.Result.Number, Status: out.Result.State}, nil
}

// UpdateIncident appends a work note.
func (c *ServiceNow) UpdateIncident(ctx context.Context, incidentID string, u Update) error {
	path := "/api/now/table/incident/" + url.PathEscape(incidentID)
	if err := c.do(ctx, http.MethodPatch, path, map[string]string{"work_notes": u.Note}, nil); err != nil {
		return fmt.Errorf("update incident %s: %w", incidentID, err)
	}
	return nil
}

// GetStatus reads state and assignee using display values.
func (c *ServiceNow) GetStatus(ctx context.Context, incidentID string) (Status, error) {
	q := url.Values{}
	q.Set("sysparm_fields", "state,assigned_to")
	q.Set("sysparm_display_value", "true")
	path := "/api/now/table/incident/" + url.PathEscape(incidentID) + "?" + q.Encode()

	var out struct {
		Result snowStatus `json:"result"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return Status{}, fmt.Errorf("get incident %s: %w", incidentID, err)
	}
	return Status{Status: out.Result.State, AssignedTo: out.Result.AssignedTo.DisplayValue}, nil
}

// Ensure ServiceNow implements Gateway.
var _ Gateway = (*ServiceNow)(nil)

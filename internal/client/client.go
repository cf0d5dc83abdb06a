// Package client provides an HTTP client for the CRM REST API.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/asd12288/meydacrm/internal/auth"
	"github.com/asd12288/meydacrm/internal/banner"
	"github.com/asd12288/meydacrm/internal/comment"
	"github.com/asd12288/meydacrm/internal/history"
	"github.com/asd12288/meydacrm/internal/lead"
	"github.com/asd12288/meydacrm/internal/ticket"
)

// Client is an HTTP client for the CRM API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a new API client.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is an error response from the server.
type APIError struct {
	Status  int
	Message string
	Fields  map[string]string
}

func (e *APIError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + ": " + e.Fields[name]
	}
	return e.Message + " (" + strings.Join(parts, ", ") + ")"
}

// LoginResponse is the response from POST /auth/cli.
type LoginResponse struct {
	Key     string        `json:"key"`
	APIKey  *auth.APIKey  `json:"api_key"`
	Profile *auth.Profile `json:"profile"`
}

// Login exchanges credentials for a new API key named keyName.
func (c *Client) Login(username, password, keyName string) (*LoginResponse, error) {
	body := map[string]string{"username": username, "password": password, "name": keyName}
	var resp LoginResponse
	if err := c.post("/auth/cli", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Me returns the profile owning the API key.
func (c *Client) Me() (*auth.Profile, error) {
	var p auth.Profile
	if err := c.get("/api/me", &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProfiles returns every profile. Admin only.
func (c *Client) ListProfiles() ([]*auth.Profile, error) {
	var profiles []*auth.Profile
	if err := c.get("/api/profiles", &profiles); err != nil {
		return nil, err
	}
	return profiles, nil
}

// LeadQuery filters ListLeads and ExportLeads.
type LeadQuery struct {
	Statuses []string
	Assignee string // profile id or "unassigned"
	Source   string
	Search   string
	From     string // YYYY-MM-DD
	To       string
	Sort     string
	Desc     bool
	Page     int
	PageSize int
}

func (q LeadQuery) values() url.Values {
	v := url.Values{}
	if len(q.Statuses) > 0 {
		v.Set("status", strings.Join(q.Statuses, ","))
	}
	set := map[string]string{
		"assignee": q.Assignee, "source": q.Source, "q": q.Search,
		"from": q.From, "to": q.To, "sort": q.Sort,
	}
	for k, val := range set {
		if val != "" {
			v.Set(k, val)
		}
	}
	if q.Desc {
		v.Set("desc", "true")
	}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.PageSize > 0 {
		v.Set("page_size", strconv.Itoa(q.PageSize))
	}
	return v
}

func withQuery(path string, v url.Values) string {
	if len(v) == 0 {
		return path
	}
	return path + "?" + v.Encode()
}

// ListLeads returns one page of leads.
func (c *Client) ListLeads(q LeadQuery) (*lead.Page, error) {
	var page lead.Page
	if err := c.get(withQuery("/api/leads", q.values()), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// GetLead returns a lead.
func (c *Client) GetLead(id int64) (*lead.Lead, error) {
	var l lead.Lead
	if err := c.get(fmt.Sprintf("/api/leads/%d", id), &l); err != nil {
		return nil, err
	}
	return &l, nil
}

// CreateLead adds a lead.
func (c *Client) CreateLead(in lead.Input) (*lead.Lead, error) {
	var l lead.Lead
	if err := c.post("/api/leads", in, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

// UpdateLead applies a partial update.
func (c *Client) UpdateLead(id int64, p lead.Patch) (*lead.Lead, error) {
	var l lead.Lead
	if err := c.send(http.MethodPatch, fmt.Sprintf("/api/leads/%d", id), p, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

// DeleteLead moves a lead to the trash.
func (c *Client) DeleteLead(id int64) error {
	return c.doDelete(fmt.Sprintf("/api/leads/%d", id))
}

// MoveLead changes a lead's status.
func (c *Client) MoveLead(id int64, status string) (*lead.Lead, error) {
	var l lead.Lead
	if err := c.post(fmt.Sprintf("/api/leads/%d/status", id), map[string]string{"status": status}, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

// AssignLead sets the assignee; nil unassigns.
func (c *Client) AssignLead(id int64, assignee *int64) (*lead.Lead, error) {
	var l lead.Lead
	body := map[string]*int64{"assignee_id": assignee}
	if err := c.post(fmt.Sprintf("/api/leads/%d/assign", id), body, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

// Distribute spreads leads over assignees round-robin, starting at offset.
func (c *Client) Distribute(ids, assignees []int64, offset int) ([]lead.Assignment, error) {
	body := map[string]interface{}{"action": "distribute", "ids": ids, "assignees": assignees, "offset": offset}
	var resp struct {
		Assignments []lead.Assignment `json:"assignments"`
	}
	if err := c.post("/api/leads/bulk", body, &resp); err != nil {
		return nil, err
	}
	return resp.Assignments, nil
}

// LeadStats returns dashboard counters.
func (c *Client) LeadStats() (*lead.Stats, error) {
	var st lead.Stats
	if err := c.get("/api/leads/stats", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// LeadHistory returns a lead's audit trail, oldest first.
func (c *Client) LeadHistory(id int64) ([]*history.Event, error) {
	var events []*history.Event
	if err := c.get(fmt.Sprintf("/api/leads/%d/history", id), &events); err != nil {
		return nil, err
	}
	return events, nil
}

// ExportLeads streams the CSV export into w.
func (c *Client) ExportLeads(q LeadQuery, w io.Writer) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+withQuery("/api/leads/export.csv", q.values()), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	return c.stream(req, w)
}

// ImportLeads uploads a CSV file. assignTo, when set, becomes the default
// assignee.
func (c *Client) ImportLeads(r io.Reader, assignTo *int64) (*lead.ImportResult, error) {
	v := url.Values{}
	if assignTo != nil {
		v.Set("assign_to", strconv.FormatInt(*assignTo, 10))
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+withQuery("/api/leads/import", v), r)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "text/csv")

	var res lead.ImportResult
	if err := c.do(req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ListComments returns comments on a lead.
func (c *Client) ListComments(leadID int64) ([]*comment.Comment, error) {
	var comments []*comment.Comment
	if err := c.get(fmt.Sprintf("/api/leads/%d/comments", leadID), &comments); err != nil {
		return nil, err
	}
	return comments, nil
}

// AddComment adds a comment to a lead.
func (c *Client) AddComment(leadID int64, body string) (*comment.Comment, error) {
	var comm comment.Comment
	if err := c.post(fmt.Sprintf("/api/leads/%d/comments", leadID), map[string]string{"body": body}, &comm); err != nil {
		return nil, err
	}
	return &comm, nil
}

// ListTickets returns visible tickets, optionally filtered by status.
func (c *Client) ListTickets(status string) ([]*ticket.Ticket, error) {
	v := url.Values{}
	if status != "" {
		v.Set("status", status)
	}
	var tickets []*ticket.Ticket
	if err := c.get(withQuery("/api/tickets", v), &tickets); err != nil {
		return nil, err
	}
	return tickets, nil
}

// GetTicket returns a ticket with its thread.
func (c *Client) GetTicket(id int64) (*ticket.Ticket, error) {
	var t ticket.Ticket
	if err := c.get(fmt.Sprintf("/api/tickets/%d", id), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// OpenTicket creates a ticket.
func (c *Client) OpenTicket(in ticket.Input) (*ticket.Ticket, error) {
	var t ticket.Ticket
	if err := c.post("/api/tickets", in, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// ReplyTicket adds a comment to a ticket.
func (c *Client) ReplyTicket(id int64, body string) (*ticket.Comment, error) {
	var tc ticket.Comment
	if err := c.post(fmt.Sprintf("/api/tickets/%d/comments", id), map[string]string{"body": body}, &tc); err != nil {
		return nil, err
	}
	return &tc, nil
}

// SetTicketStatus moves a ticket through the workflow.
func (c *Client) SetTicketStatus(id int64, status string) (*ticket.Ticket, error) {
	var t ticket.Ticket
	if err := c.post(fmt.Sprintf("/api/tickets/%d/status", id), map[string]string{"status": status}, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// ActiveBanners returns the banners currently shown to the caller.
func (c *Client) ActiveBanners() ([]*banner.Banner, error) {
	var banners []*banner.Banner
	if err := c.get("/api/banners", &banners); err != nil {
		return nil, err
	}
	return banners, nil
}

// CreateBanner publishes a banner. Admin only.
func (c *Client) CreateBanner(in banner.Input) (*banner.Banner, error) {
	var b banner.Banner
	if err := c.post("/api/banners", in, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// get performs a GET request and decodes the response.
func (c *Client) get(path string, result interface{}) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	return c.do(req, result)
}

// post performs a POST request with a JSON body and decodes the response.
func (c *Client) post(path string, body interface{}, result interface{}) error {
	return c.send(http.MethodPost, path, body, result)
}

func (c *Client) send(method, path string, body interface{}, result interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, result)
}

// doDelete performs a DELETE request.
func (c *Client) doDelete(path string) error {
	req, err := http.NewRequest(http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	return c.do(req, nil)
}

// do executes an HTTP request with auth header and handles errors.
func (c *Client) do(req *http.Request, result interface{}) error {
	resp, err := c.roundTrip(req)
	if err != nil {
		return err
	}
	defer closeBody(resp)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return apiError(resp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}

// stream copies a successful response body into w.
func (c *Client) stream(req *http.Request, w io.Writer) error {
	resp, err := c.roundTrip(req)
	if err != nil {
		return err
	}
	defer closeBody(resp)

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return apiError(resp.StatusCode, body)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	return nil
}

func (c *Client) roundTrip(req *http.Request) (*http.Response, error) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

func apiError(status int, body []byte) error {
	var errResp struct {
		Error  string            `json:"error"`
		Fields map[string]string `json:"fields"`
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		return &APIError{Status: status, Message: errResp.Error, Fields: errResp.Fields}
	}
	return &APIError{Status: status, Message: "server error: " + http.StatusText(status)}
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		fmt.Printf("warning: closing response body: %v\n", err)
	}
}

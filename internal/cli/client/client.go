package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/agorad-dev/agorad/internal/access"
	"github.com/agorad-dev/agorad/internal/cli/auth"
)

// ErrUnauthorized is returned when the server rejects the stored token
var ErrUnauthorized = errors.New("session invalid or expired. Please run 'agora login' again")

// ErrProfileMissing is returned when resolution completed but no profile
// record exists for the account
var ErrProfileMissing = errors.New("no profile found for this account")

// Client represents an HTTP client for the Agora API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new API client
func New(serverURL string) *Client {
	return &Client{
		baseURL: serverURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetHTTPClient sets a custom HTTP client
func (c *Client) SetHTTPClient(httpClient *http.Client) {
	c.httpClient = httpClient
}

// LoginRequest represents the login request body
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UserDetail mirrors the account shape returned by the server
type UserDetail struct {
	ID      string          `json:"id"`
	Email   string          `json:"email"`
	Profile *access.Profile `json:"profile,omitempty"`
}

// LoginResponse represents the login response
type LoginResponse struct {
	Token string     `json:"token"`
	User  UserDetail `json:"user"`
}

// Login authenticates the user and returns a JWT token
func (c *Client) Login(email, password string) (*LoginResponse, error) {
	reqBody := LoginRequest{
		Email:    email,
		Password: password,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.httpClient.Post(
		fmt.Sprintf("%s/api/auth/login", c.baseURL),
		"application/json",
		bytes.NewBuffer(jsonData),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("login failed (status %d): %s", resp.StatusCode, string(body))
	}

	var loginResp LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &loginResp, nil
}

// MeResponse is the resolved standing of the authenticated account
type MeResponse struct {
	UserID       string              `json:"user_id"`
	Email        string              `json:"email"`
	Profile      *access.Profile     `json:"profile"`
	Resolution   string              `json:"resolution"`
	Capabilities access.Capabilities `json:"capabilities"`
}

// Me returns the caller's resolved profile and capabilities
func (c *Client) Me(serverURL string) (*MeResponse, error) {
	var me MeResponse
	if err := c.get(serverURL, "/api/auth/me", &me); err != nil {
		return nil, err
	}
	if me.Profile == nil && me.Resolution == "not_found" {
		return &me, ErrProfileMissing
	}
	return &me, nil
}

// UsersResponse wraps the user list
type UsersResponse struct {
	Users []UserDetail `json:"users"`
	Count int          `json:"count"`
}

// ListUsers returns all accounts, optionally filtered by approval status
func (c *Client) ListUsers(serverURL, status string) ([]UserDetail, error) {
	path := "/api/admin/users"
	if status != "" {
		path = fmt.Sprintf("%s?status=%s", path, status)
	}

	var usersResp UsersResponse
	if err := c.get(serverURL, path, &usersResp); err != nil {
		return nil, err
	}
	return usersResp.Users, nil
}

// ProfileResponse wraps a single profile returned by moderation endpoints
type ProfileResponse struct {
	Profile *access.Profile `json:"profile"`
}

// ApproveUser approves a pending account
func (c *Client) ApproveUser(serverURL, userID string) (*access.Profile, error) {
	var resp ProfileResponse
	if err := c.post(serverURL, fmt.Sprintf("/api/admin/users/%s/approve", userID), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Profile, nil
}

// RejectUser rejects an account
func (c *Client) RejectUser(serverURL, userID string) (*access.Profile, error) {
	var resp ProfileResponse
	if err := c.post(serverURL, fmt.Sprintf("/api/admin/users/%s/reject", userID), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Profile, nil
}

// SetRoleRequest changes an account's role
type SetRoleRequest struct {
	Role string `json:"role"`
}

// SetUserRole changes an account's role
func (c *Client) SetUserRole(serverURL, userID, role string) (*access.Profile, error) {
	var resp ProfileResponse
	err := c.do(serverURL, http.MethodPatch, fmt.Sprintf("/api/admin/users/%s/role", userID),
		SetRoleRequest{Role: role}, &resp, http.StatusOK)
	if err != nil {
		return nil, err
	}
	return resp.Profile, nil
}

// Section mirrors the server's section shape
type Section struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
	Position    int    `json:"position"`
}

// SectionsResponse wraps the section list
type SectionsResponse struct {
	Sections []Section `json:"sections"`
	Count    int       `json:"count"`
}

// ListSections returns all forum sections
func (c *Client) ListSections(serverURL string) ([]Section, error) {
	var resp SectionsResponse
	if err := c.get(serverURL, "/api/sections", &resp); err != nil {
		return nil, err
	}
	return resp.Sections, nil
}

// CreateSectionRequest creates a forum section
type CreateSectionRequest struct {
	Title       string `json:"title"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
	Position    int    `json:"position"`
}

// CreateSection creates a forum section
func (c *Client) CreateSection(serverURL string, req CreateSectionRequest) (*Section, error) {
	var section Section
	if err := c.do(serverURL, http.MethodPost, "/api/sections", req, &section, http.StatusCreated); err != nil {
		return nil, err
	}
	return &section, nil
}

// get performs an authenticated GET request
func (c *Client) get(serverURL, path string, out interface{}) error {
	return c.do(serverURL, http.MethodGet, path, nil, out, http.StatusOK)
}

// post performs an authenticated POST request expecting 200
func (c *Client) post(serverURL, path string, body, out interface{}) error {
	return c.do(serverURL, http.MethodPost, path, body, out, http.StatusOK)
}

// do performs an authenticated request and decodes the response
func (c *Client) do(serverURL, method, path string, body, out interface{}, wantStatus int) error {
	token, err := auth.LoadToken(serverURL)
	if err != nil {
		return err
	}

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequest(method, fmt.Sprintf("%s%s", c.baseURL, path), reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode != wantStatus {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("request failed (status %d): %s", resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

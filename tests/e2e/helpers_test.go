//go:build e2e
// +build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var userCounter atomic.Int64

// uniqueUsername returns a username that has not been registered in this run
func uniqueUsername(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, userCounter.Add(1))
}

// RegisterResponse mirrors the register endpoint's body
type RegisterResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// LoginResponse mirrors the login endpoint's body
type LoginResponse struct {
	Success   bool             `json:"success"`
	Token     string           `json:"token"`
	CSRFToken string           `json:"csrf_token"`
	User      RegisterResponse `json:"user"`
}

// MessagePage mirrors the paged message listing body
type MessagePage struct {
	Page       int       `json:"page"`
	TotalPages int       `json:"total_pages"`
	Messages   []Message `json:"messages"`
}

// Message mirrors a serialized message on either surface
type Message struct {
	ID      int64   `json:"id"`
	Lat     float64 `json:"lat"`
	Long    float64 `json:"long"`
	Date    string  `json:"date"`
	Message string  `json:"message"`
	Votes   int     `json:"votes"`
	Seen    int     `json:"seen"`
}

// TestClient wraps http.Client with session and CSRF token handling
type TestClient struct {
	*http.Client
	t            *testing.T
	sessionToken string
	csrfToken    string
	userID       string
	username     string
	password     string
}

// NewTestClient creates a new test client
func NewTestClient(t *testing.T) *TestClient {
	return &TestClient{
		Client: &http.Client{Timeout: 30 * time.Second},
		t:      t,
	}
}

// NewLoggedInClient registers a fresh account and logs it in
func NewLoggedInClient(t *testing.T, prefix string) *TestClient {
	t.Helper()
	tc := NewTestClient(t)
	username := uniqueUsername(prefix)

	if _, err := tc.RegisterUser(username, username+"@example.com", "password123"); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if _, err := tc.LoginUser(username, "password123"); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	return tc
}

// PostJSON posts a JSON body with session cookie and CSRF token attached
func (tc *TestClient) PostJSON(path string, body any) (*http.Response, error) {
	return tc.doJSON(http.MethodPost, path, body)
}

// Get performs an authenticated GET
func (tc *TestClient) Get(path string) (*http.Response, error) {
	return tc.doJSON(http.MethodGet, path, nil)
}

// Delete performs an authenticated DELETE
func (tc *TestClient) Delete(path string) (*http.Response, error) {
	return tc.doJSON(http.MethodDelete, path, nil)
}

func (tc *TestClient) doJSON(method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tc.sessionToken != "" {
		req.AddCookie(&http.Cookie{Name: "session_id", Value: tc.sessionToken})
	}
	if tc.csrfToken != "" {
		req.Header.Set("X-CSRF-Token", tc.csrfToken)
	}
	return tc.Do(req)
}

// RegisterUser registers a new user
func (tc *TestClient) RegisterUser(username, email, password string) (*RegisterResponse, error) {
	resp, err := tc.PostJSON("/api/v1/auth/register", map[string]string{
		"username": username,
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("register failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var result RegisterResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode register response: %w", err)
	}

	tc.userID = result.ID
	tc.username = result.Username
	tc.password = password
	return &result, nil
}

// LoginUser logs in and stores the session and CSRF tokens
func (tc *TestClient) LoginUser(username, password string) (*LoginResponse, error) {
	resp, err := tc.PostJSON("/api/v1/auth/login", map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("login failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var result LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode login response: %w", err)
	}

	tc.sessionToken = result.Token
	tc.csrfToken = result.CSRFToken
	tc.userID = result.User.ID
	tc.username = result.User.Username
	return &result, nil
}

// Logout invalidates the current session
func (tc *TestClient) Logout() error {
	resp, err := tc.PostJSON("/api/v1/auth/logout", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("logout failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	tc.sessionToken = ""
	tc.csrfToken = ""
	return nil
}

// ServerFrame is a frame pushed by the server over the websocket
type ServerFrame struct {
	Category string          `json:"category"`
	Data     json.RawMessage `json:"data"`
}

// dialRaw opens an unbound websocket connection to the test server
func dialRaw() (*websocket.Conn, *http.Response, error) {
	return websocket.DefaultDialer.Dial(wsURL, nil)
}

// DropSession is a bound websocket session for a test client
type DropSession struct {
	t    *testing.T
	conn *websocket.Conn
}

// DialSession opens a websocket connection and binds it at (lat, long)
func (tc *TestClient) DialSession(t *testing.T, lat, long float64) *DropSession {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	s := &DropSession{t: t, conn: conn}
	s.send(map[string]any{"lat": lat, "long": long, "token": tc.sessionToken})

	frame := s.ReadFrame()
	if frame.Category != "token" {
		t.Fatalf("expected token frame after bind, got %q: %s", frame.Category, frame.Data)
	}
	return s
}

func (s *DropSession) send(v any) {
	s.t.Helper()
	if err := s.conn.WriteJSON(v); err != nil {
		s.t.Fatalf("websocket write failed: %v", err)
	}
}

// Post sends a post request frame
func (s *DropSession) Post(text string) {
	s.send(map[string]any{"category": 0, "data": text})
}

// ChangeCell rebinds the session to new coordinates
func (s *DropSession) ChangeCell(lat, long float64) {
	s.send(map[string]any{"category": 1, "data": map[string]any{"lat": lat, "long": long}})
}

// Retrieve sends a retrieval request frame for the given category and page
func (s *DropSession) Retrieve(category, page int) {
	s.send(map[string]any{"category": category, "page": page})
}

// RetrieveRange sends a range retrieval request frame
func (s *DropSession) RetrieveRange(width float64, page int) {
	s.send(map[string]any{"category": 5, "data": width, "page": page})
}

// Vote sends an upvote (category 7) or downvote (category 8) frame
func (s *DropSession) Vote(category int, id int64) {
	s.send(map[string]any{"category": category, "data": fmt.Sprintf("%d", id)})
}

// Close sends the close frame
func (s *DropSession) Close() {
	s.send(map[string]any{"category": 9})
}

// ReadFrame reads the next server frame, failing the test after a timeout
func (s *DropSession) ReadFrame() ServerFrame {
	s.t.Helper()

	s.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var frame ServerFrame
	if err := s.conn.ReadJSON(&frame); err != nil {
		s.t.Fatalf("websocket read failed: %v", err)
	}
	return frame
}

// ExpectFrame reads the next frame and asserts its category
func (s *DropSession) ExpectFrame(category string) ServerFrame {
	s.t.Helper()

	frame := s.ReadFrame()
	if frame.Category != category {
		s.t.Fatalf("expected %q frame, got %q: %s", category, frame.Category, frame.Data)
	}
	return frame
}

// ExpectNoFrame asserts nothing arrives within the window
func (s *DropSession) ExpectNoFrame(window time.Duration) {
	s.t.Helper()

	s.conn.SetReadDeadline(time.Now().Add(window))
	var frame ServerFrame
	if err := s.conn.ReadJSON(&frame); err == nil {
		s.t.Fatalf("expected no frame, got %q: %s", frame.Category, frame.Data)
	}
}

// decodeMessage unmarshals frame data into a Message
func decodeMessage(t *testing.T, data json.RawMessage) Message {
	t.Helper()
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("failed to decode message payload: %v", err)
	}
	return msg
}

// decodePage unmarshals frame data into a MessagePage
func decodePage(t *testing.T, data json.RawMessage) MessagePage {
	t.Helper()
	var page MessagePage
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("failed to decode page payload: %v", err)
	}
	return page
}

package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"geodrop/internal/domain"
	"geodrop/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func authedHandler(t *testing.T, wantUserID string) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := GetUserID(r.Context())
		require.True(t, ok, "user id missing from context")
		assert.Equal(t, wantUserID, userID)

		_, ok = GetSession(r.Context())
		assert.True(t, ok, "session missing from context")
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuth_ValidCookieSession(t *testing.T) {
	sessionRepo := testutil.NewMockSessionRepository()
	session := testutil.NewTestSession("user-1")
	sessionRepo.Sessions[session.Token] = session

	handler := Auth(sessionRepo)(authedHandler(t, "user-1"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/messages/mine", nil)
	req.AddCookie(&http.Cookie{Name: "session_id", Value: session.Token})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuth_BearerToken(t *testing.T) {
	sessionRepo := testutil.NewMockSessionRepository()
	session := testutil.NewTestSession("user-1")
	sessionRepo.Sessions[session.Token] = session

	handler := Auth(sessionRepo)(authedHandler(t, "user-1"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/messages/mine", nil)
	req.Header.Set("Authorization", "Bearer "+session.Token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuth_NoCredentials(t *testing.T) {
	sessionRepo := testutil.NewMockSessionRepository()

	handler := Auth(sessionRepo)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/messages/mine", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuth_UnknownToken(t *testing.T) {
	sessionRepo := testutil.NewMockSessionRepository()

	handler := Auth(sessionRepo)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/messages/mine", nil)
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "no-such-token"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuth_ExpiredSession(t *testing.T) {
	sessionRepo := testutil.NewMockSessionRepository()
	session := testutil.NewTestSession("user-1")
	session.ExpiresAt = time.Now().Add(-time.Hour)
	sessionRepo.Sessions[session.Token] = session

	handler := Auth(sessionRepo)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/messages/mine", nil)
	req.AddCookie(&http.Cookie{Name: "session_id", Value: session.Token})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetUserID(t *testing.T) {
	ctx := WithUserID(context.Background(), "user-7")
	userID, ok := GetUserID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "user-7", userID)

	_, ok = GetUserID(context.Background())
	assert.False(t, ok)
}

func TestGetSession(t *testing.T) {
	session := &domain.Session{Token: "tok", UserID: "user-7"}
	ctx := WithSession(context.Background(), session)

	got, ok := GetSession(ctx)
	assert.True(t, ok)
	assert.Equal(t, session, got)

	_, ok = GetSession(context.Background())
	assert.False(t, ok)
}

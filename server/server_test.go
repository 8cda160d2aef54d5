package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"komfy-library/library"
)

func newTestServer(t *testing.T) (*gin.Engine, *library.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := library.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	mgr := library.NewManager(db, nil, log)
	t.Cleanup(func() { mgr.Close() })

	srv := New(mgr, log, []byte("test-secret"), "http://test.local")
	return srv.Router(), mgr
}

func doJSON(t *testing.T, router *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func loginAs(t *testing.T, router *gin.Engine, userID, password string) string {
	t.Helper()
	w := doJSON(t, router, http.MethodPost, "/api/login", "", gin.H{
		"user_id": userID, "password": password,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func seedAccounts(t *testing.T, mgr *library.Manager) {
	t.Helper()
	_, err := mgr.AddUser("admin", "Admin", "admin@test.local", "adminpass", library.RoleAdmin)
	require.NoError(t, err)
	_, err = mgr.RegisterUser("alice", "Alice", "alice@test.local", "alicepass")
	require.NoError(t, err)
}

func TestLogin(t *testing.T) {
	router, mgr := newTestServer(t)
	seedAccounts(t, mgr)

	loginAs(t, router, "alice", "alicepass")

	w := doJSON(t, router, http.MethodPost, "/api/login", "", gin.H{
		"user_id": "alice", "password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/login", "", gin.H{"user_id": "alice"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthRequired(t *testing.T) {
	router, mgr := newTestServer(t)
	seedAccounts(t, mgr)

	w := doJSON(t, router, http.MethodGet, "/api/books", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/books", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminOnlyRoutes(t *testing.T) {
	router, mgr := newTestServer(t)
	seedAccounts(t, mgr)

	member := loginAs(t, router, "alice", "alicepass")
	admin := loginAs(t, router, "admin", "adminpass")

	book := gin.H{"title": "Dune", "code": "DUN-001", "author": "Frank Herbert", "quantity": 2}

	w := doJSON(t, router, http.MethodPost, "/api/admin/books", member, book)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/admin/books", admin, book)
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestBorrowAndReturnOverHTTP(t *testing.T) {
	router, mgr := newTestServer(t)
	seedAccounts(t, mgr)

	admin := loginAs(t, router, "admin", "adminpass")
	member := loginAs(t, router, "alice", "alicepass")

	w := doJSON(t, router, http.MethodPost, "/api/admin/books", admin, gin.H{
		"title": "Dune", "code": "DUN-001", "author": "Frank Herbert", "quantity": 1,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var book library.Book
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &book))

	w = doJSON(t, router, http.MethodPost, "/api/borrowings", member, gin.H{"book_id": book.ID})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var borrowing library.Borrowing
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &borrowing))
	assert.Equal(t, library.BorrowingActive, borrowing.Status)

	// Last copy is out.
	w = doJSON(t, router, http.MethodPost, "/api/borrowings", member, gin.H{"book_id": book.ID})
	assert.Equal(t, http.StatusConflict, w.Code)

	// A stranger cannot return it.
	_, err := mgr.RegisterUser("eve", "Eve", "eve@test.local", "evepass")
	require.NoError(t, err)
	eve := loginAs(t, router, "eve", "evepass")
	w = doJSON(t, router, http.MethodPost, "/api/borrowings/1/return", eve, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/borrowings/1/return", member, nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Double return is a conflict.
	w = doJSON(t, router, http.MethodPost, "/api/borrowings/1/return", member, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCancelOverHTTP(t *testing.T) {
	router, mgr := newTestServer(t)
	seedAccounts(t, mgr)

	admin := loginAs(t, router, "admin", "adminpass")
	member := loginAs(t, router, "alice", "alicepass")

	w := doJSON(t, router, http.MethodPost, "/api/admin/books", admin, gin.H{
		"title": "Dune", "code": "DUN-001", "quantity": 1,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/borrowings", member, gin.H{"book_id": 1})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/borrowings/1/cancel", member, nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, router, http.MethodPost, "/api/borrowings/1/cancel", member, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestNotFoundMapping(t *testing.T) {
	router, mgr := newTestServer(t)
	seedAccounts(t, mgr)
	member := loginAs(t, router, "alice", "alicepass")

	w := doJSON(t, router, http.MethodGet, "/api/books/999", member, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/books/abc", member, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegisterAndProfile(t *testing.T) {
	router, mgr := newTestServer(t)
	seedAccounts(t, mgr)

	w := doJSON(t, router, http.MethodPost, "/api/register", "", gin.H{
		"user_id": "carol", "name": "Carol", "email": "carol@test.local", "password": "carolpass",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// Duplicate registration conflicts.
	w = doJSON(t, router, http.MethodPost, "/api/register", "", gin.H{
		"user_id": "carol", "name": "Carol", "email": "carol2@test.local", "password": "carolpass",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	carol := loginAs(t, router, "carol", "carolpass")
	w = doJSON(t, router, http.MethodPut, "/api/profile", carol, gin.H{
		"name": "Carol B", "email": "carolb@test.local",
	})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	u, err := mgr.GetUser("carol")
	require.NoError(t, err)
	assert.Equal(t, "Carol B", u.Name)
}

func TestNotificationsOverHTTP(t *testing.T) {
	router, mgr := newTestServer(t)
	seedAccounts(t, mgr)

	admin := loginAs(t, router, "admin", "adminpass")
	member := loginAs(t, router, "alice", "alicepass")

	w := doJSON(t, router, http.MethodPost, "/api/admin/notifications", admin, gin.H{
		"user_id": "alice", "message": "Welcome to Komfy Library",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(t, router, http.MethodGet, "/api/notifications/unread-count", member, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var count struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &count))
	assert.Equal(t, 1, count.Count)

	w = doJSON(t, router, http.MethodPost, "/api/notifications/read-all", member, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/notifications/unread-count", member, nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &count))
	assert.Equal(t, 0, count.Count)
}

func TestPasswordResetOverHTTP(t *testing.T) {
	router, mgr := newTestServer(t)
	seedAccounts(t, mgr)

	// Mint the token directly; no SMTP relay in tests.
	token, err := mgr.GenerateResetToken("alice@test.local")
	require.NoError(t, err)

	w := doJSON(t, router, http.MethodGet, "/api/password/validate?token="+token, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var valid struct {
		Valid bool `json:"valid"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &valid))
	assert.True(t, valid.Valid)

	w = doJSON(t, router, http.MethodPost, "/api/password/reset", "", gin.H{
		"token": token, "new_password": "brandnewpass",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	loginAs(t, router, "alice", "brandnewpass")

	// The consumed token no longer validates.
	w = doJSON(t, router, http.MethodPost, "/api/password/reset", "", gin.H{
		"token": token, "new_password": "anotherpass",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mirelle-dev/authgate-api/internal/models"
	"github.com/mirelle-dev/authgate-api/internal/service"
)

func newUserHandler(t *testing.T) *UserHandler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	users := &memUserStore{users: map[string]models.User{
		"u1": {ID: "u1", Email: "a@example.com", Username: "a", Role: models.RoleUser},
		"u2": {ID: "u2", Email: "b@example.com", Username: "b", Role: models.RoleAdmin},
	}}
	return NewUserHandler(service.NewUserService(users, zap.NewNop()))
}

func TestUserHandlerList(t *testing.T) {
	h := newUserHandler(t)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/users?page=1&page_size=10", nil)

	h.List(c)
	require.Equal(t, http.StatusOK, w.Code)

	var envelope struct {
		Data userListResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Len(t, envelope.Data.Users, 2)
	assert.Equal(t, 2, envelope.Data.Total)
	assert.Equal(t, 1, envelope.Data.Page)
	assert.Equal(t, 10, envelope.Data.PageSize)

	// Password hashes never leave the service layer.
	assert.NotContains(t, w.Body.String(), "password_hash")
}

func TestUserHandlerGet(t *testing.T) {
	h := newUserHandler(t)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/users/u1", nil)
	c.Params = gin.Params{{Key: "id", Value: "u1"}}

	h.Get(c)
	require.Equal(t, http.StatusOK, w.Code)

	var envelope struct {
		Data models.UserInfo `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, "a@example.com", envelope.Data.Email)
}

func TestUserHandlerGetNotFound(t *testing.T) {
	h := newUserHandler(t)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/users/missing", nil)
	c.Params = gin.Params{{Key: "id", Value: "missing"}}

	h.Get(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

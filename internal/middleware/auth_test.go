package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/grade-portal/internal/models"
	appErrors "github.com/noah-isme/grade-portal/pkg/errors"
)

type stubTokens map[string]*models.JWTClaims

func (s stubTokens) ValidateToken(token string) (*models.JWTClaims, error) {
	if claims, ok := s[token]; ok {
		return claims, nil
	}
	return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
}

func newAuthRouter(auth gin.HandlerFunc, roles ...models.UserRole) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/protected", auth, RequireRoles(roles...), func(c *gin.Context) {
		claims := c.MustGet(ContextUserKey).(*models.JWTClaims)
		c.String(http.StatusOK, claims.UserID)
	})
	return r
}

func TestJWTAndRoles(t *testing.T) {
	tokens := stubTokens{
		"admin":   {UserID: "ADM-1", Role: models.RoleAdmin},
		"student": {UserID: "SID-1", Role: models.RoleStudent},
	}
	router := newAuthRouter(JWT(tokens), models.RoleAdmin)

	cases := []struct {
		name   string
		header string
		url    string
		status int
	}{
		{"missing header", "", "/protected", http.StatusUnauthorized},
		{"malformed header", "Token admin", "/protected", http.StatusUnauthorized},
		{"unknown token", "Bearer nope", "/protected", http.StatusUnauthorized},
		{"wrong role", "Bearer student", "/protected", http.StatusForbidden},
		{"query token ignored", "", "/protected?access_token=admin", http.StatusUnauthorized},
		{"admin", "Bearer admin", "/protected", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.url, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tc.status, w.Code)
		})
	}
}

func TestWebsocketJWTAcceptsQueryToken(t *testing.T) {
	tokens := stubTokens{"student": {UserID: "SID-1", Role: models.RoleStudent}}
	router := newAuthRouter(WebsocketJWT(tokens), models.RoleStudent, models.RoleParent)

	req := httptest.NewRequest(http.MethodGet, "/protected?access_token=student", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "SID-1", w.Body.String())
}

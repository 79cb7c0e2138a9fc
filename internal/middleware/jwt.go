package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/grade-portal/internal/models"
	appErrors "github.com/noah-isme/grade-portal/pkg/errors"
	"github.com/noah-isme/grade-portal/pkg/response"
)

// ContextUserKey is the gin context key storing JWT claims.
const ContextUserKey = "currentUser"

// QueryTokenParam carries the access token on websocket handshakes, where browsers cannot set headers.
const QueryTokenParam = "access_token"

type tokenValidator interface {
	ValidateToken(token string) (*models.JWTClaims, error)
}

// JWT protects routes by requiring a valid bearer token.
func JWT(tokens tokenValidator) gin.HandlerFunc {
	return authenticate(tokens, false)
}

// WebsocketJWT accepts the bearer header or the access_token query parameter.
func WebsocketJWT(tokens tokenValidator) gin.HandlerFunc {
	return authenticate(tokens, true)
}

func authenticate(tokens tokenValidator, allowQuery bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := bearerToken(c, allowQuery)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		claims, err := tokens.ValidateToken(raw)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextUserKey, claims)
		c.Next()
	}
}

func bearerToken(c *gin.Context, allowQuery bool) (string, error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		if allowQuery {
			if token := c.Query(QueryTokenParam); token != "" {
				return token, nil
			}
		}
		return "", appErrors.ErrUnauthorized
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header")
	}
	return strings.TrimSpace(parts[1]), nil
}

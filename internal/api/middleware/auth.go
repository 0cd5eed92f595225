package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/koladefaj/document-intelligence-backend/internal/model"
	"github.com/koladefaj/document-intelligence-backend/internal/pkg/response"
	"github.com/koladefaj/document-intelligence-backend/internal/service"
)

const (
	UserKey = "currentUser"
)

// Authenticator resolves an access token to a user.
type Authenticator interface {
	Authenticate(token string) (*model.User, error)
}

// Auth requires a Bearer access token. Unknown or invalid tokens get 401,
// disabled accounts get 403.
func Auth(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := BearerToken(c.GetHeader("Authorization"))
		if !ok {
			response.AuthError(c, "")
			c.Abort()
			return
		}

		user, err := auth.Authenticate(token)
		if err != nil {
			if errors.Is(err, service.ErrInvalidToken) {
				response.AuthError(c, "")
			} else {
				response.ServerError(c, "")
			}
			c.Abort()
			return
		}
		if !user.IsActive {
			response.Abort(c, response.CodePermissionDenied, "inactive user")
			return
		}

		c.Set(UserKey, user)
		c.Next()
	}
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// GetUser returns the user set by Auth.
func GetUser(c *gin.Context) (*model.User, bool) {
	v, exists := c.Get(UserKey)
	if !exists {
		return nil, false
	}
	user, ok := v.(*model.User)
	return user, ok
}

// GetUserID returns the id of the user set by Auth.
func GetUserID(c *gin.Context) (string, bool) {
	user, ok := GetUser(c)
	if !ok {
		return "", false
	}
	return user.ID, true
}

package rpc

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/voiceci/voiceci/pkg/config"
	"github.com/voiceci/voiceci/pkg/store"
)

type ownerContextKey struct{}

// Authenticator resolves a bearer token to the (tenant, key) pair every
// RPC and REST request carries (§4.8: "the auth filter resolves it to a
// (tenant, key) pair and attaches both to the request context").
type Authenticator struct {
	keys map[string]config.APIKeyConfig
}

func NewAuthenticator(keys map[string]config.APIKeyConfig) *Authenticator {
	return &Authenticator{keys: keys}
}

// Resolve validates a raw "Bearer <token>" header value.
func (a *Authenticator) Resolve(header string) (store.Owner, error) {
	token := strings.TrimPrefix(header, "Bearer ")
	if token == "" || token == header {
		return store.Owner{}, NewError(KindAuth, "missing or malformed bearer token")
	}
	key, ok := a.keys[token]
	if !ok {
		return store.Owner{}, NewError(KindAuth, "unknown api key")
	}
	return store.Owner{TenantID: key.TenantID, KeyID: key.KeyID}, nil
}

// Middleware is the gin auth filter applied to every RPC/REST route.
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		owner, err := a.Resolve(c.GetHeader("Authorization"))
		if err != nil {
			w := toWire(err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": w})
			return
		}
		ctx := context.WithValue(c.Request.Context(), ownerContextKey{}, owner)
		c.Request = c.Request.WithContext(ctx)
		c.Set("owner", owner)
		c.Next()
	}
}

// OwnerFromContext retrieves the authenticated owner attached by Middleware.
func OwnerFromContext(ctx context.Context) (store.Owner, bool) {
	owner, ok := ctx.Value(ownerContextKey{}).(store.Owner)
	return owner, ok
}

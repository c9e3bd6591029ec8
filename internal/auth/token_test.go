package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestTokenVerifierRoundTrip(t *testing.T) {
	v, err := NewTokenVerifier("secret", "stayledger")
	require.NoError(t, err)

	token, err := v.Issue(Actor{UserID: snowflake.ID(42), Role: RoleHost}, time.Hour)
	require.NoError(t, err)

	actor, err := v.Verify(token)
	require.NoError(t, err)
	require.Equal(t, snowflake.ID(42), actor.UserID)
	require.Equal(t, RoleHost, actor.Role)
	require.Equal(t, "user:42", actor.Subject())
}

func TestTokenVerifierRejectsBadTokens(t *testing.T) {
	v, err := NewTokenVerifier("secret", "stayledger")
	require.NoError(t, err)

	other, err := NewTokenVerifier("other", "stayledger")
	require.NoError(t, err)
	forged, err := other.Issue(Actor{UserID: 1, Role: RoleAdmin}, time.Hour)
	require.NoError(t, err)

	expired, err := v.Issue(Actor{UserID: 1}, -time.Minute)
	require.NoError(t, err)

	noExp := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "1", Issuer: "stayledger"},
	})
	noExpToken, err := noExp.SignedString([]byte("secret"))
	require.NoError(t, err)

	for name, raw := range map[string]string{
		"forged":  forged,
		"expired": expired,
		"no_exp":  noExpToken,
		"empty":   "",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(raw)
			require.True(t, errors.Is(err, ErrUnauthenticated), "got %v", err)
		})
	}

	_, err = NewTokenVerifier(" ", "")
	require.ErrorIs(t, err, ErrMissingSecret)
}

func TestMiddlewareStoresActor(t *testing.T) {
	gin.SetMode(gin.TestMode)
	v, err := NewTokenVerifier("secret", "")
	require.NoError(t, err)
	token, err := v.Issue(Actor{UserID: 7, Role: RoleGuest}, time.Hour)
	require.NoError(t, err)

	r := gin.New()
	r.Use(Middleware(v, func(c *gin.Context, err error) {
		c.AbortWithStatus(http.StatusUnauthorized)
	}))
	r.GET("/me", func(c *gin.Context) {
		actor, ok := ActorFromContext(c.Request.Context())
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, actor.UserID.String())
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "7", w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

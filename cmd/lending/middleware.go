package main

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"library-lending/pkg/apperr"
	"library-lending/pkg/session"
)

const sessionKey = "session"

// JWTAuth turns the bearer token into a Session on the gin context.
func JWTAuth(issuer *session.Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		sess, err := issuer.Parse(strings.TrimPrefix(h, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(sessionKey, sess)
		c.Request = c.Request.WithContext(session.NewContext(c.Request.Context(), sess))
		c.Next()
	}
}

func RequireLibrarian() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !sessionOf(c).IsLibrarian() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "librarian role required"})
			return
		}
		c.Next()
	}
}

func sessionOf(c *gin.Context) session.Session {
	v, _ := c.Get(sessionKey)
	sess, _ := v.(session.Session)
	return sess
}

func respondError(c *gin.Context, err error) {
	body := gin.H{"error": err.Error()}
	if r := apperr.ReasonOf(err); r != "" {
		body["reason"] = r
	}
	c.JSON(apperr.HTTPStatus(err), body)
}

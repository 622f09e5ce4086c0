package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/invoicer/internal/auditcontext"
)

const (
	HeaderActorID   = "X-Actor-Id"
	HeaderActorRole = "X-Actor-Role"

	checkoutActorID = "checkout"
)

// ActorContext takes the acting user from headers set by the fronting
// identity proxy. Requests without an actor id are rejected.
func (s *Server) ActorContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		actorID := strings.TrimSpace(c.GetHeader(HeaderActorID))
		if actorID == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		role := strings.ToLower(strings.TrimSpace(c.GetHeader(HeaderActorRole)))

		ctx := auditcontext.WithActorRole(c.Request.Context(), auditcontext.ActorTypeUser, actorID, role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (s *Server) authorize(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.authzSvc == nil {
			AbortWithError(c, ErrForbidden)
			return
		}
		if err := s.authzSvc.Authorize(c.Request.Context(), object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

// withCheckoutActor marks payment confirmations arriving on the public
// return URL as system work.
func withCheckoutActor(c *gin.Context) {
	ctx := auditcontext.WithActor(c.Request.Context(), auditcontext.ActorTypeSystem, checkoutActorID)
	c.Request = c.Request.WithContext(ctx)
}

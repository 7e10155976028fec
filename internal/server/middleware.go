package server

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/vervex/internal/authorization"
	memberdomain "github.com/smallbiznis/vervex/internal/member/domain"
	obscontext "github.com/smallbiznis/vervex/internal/observability/context"
)

const (
	contextActorKey  = "actor"
	contextMemberKey = "member"
)

// AuthRequired resolves the bearer token to an active member and stores it
// on the request.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := c.Request.Context()
		identityID, err := s.identity.VerifyIdentityToken(ctx, token)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		m, err := s.memberSvc.GetByIdentity(ctx, identityID)
		if err != nil {
			if errors.Is(err, memberdomain.ErrNotFound) {
				err = ErrUnauthorized
			}
			AbortWithError(c, err)
			return
		}
		if !m.Active() {
			AbortWithError(c, authorization.ErrForbidden)
			return
		}

		actor := authorization.Actor{ID: m.ID, Role: m.Role}
		c.Set(contextActorKey, actor)
		c.Set(contextMemberKey, m)
		c.Request = c.Request.WithContext(obscontext.WithActor(ctx, string(m.Role), m.ID.String()))
		c.Next()
	}
}

func bearerToken(header string) string {
	scheme, value, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(value)
}

func actorFrom(c *gin.Context) (authorization.Actor, bool) {
	v, ok := c.Get(contextActorKey)
	if !ok {
		return authorization.Actor{}, false
	}
	actor, ok := v.(authorization.Actor)
	return actor, ok
}

// requireActor aborts the request when no member was resolved.
func requireActor(c *gin.Context) (authorization.Actor, bool) {
	actor, ok := actorFrom(c)
	if !ok || actor.ID == 0 {
		AbortWithError(c, ErrUnauthorized)
		return authorization.Actor{}, false
	}
	return actor, true
}

package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	invitationdomain "github.com/smallbiznis/vervex/internal/invitation/domain"
)

type declineInvitationRequest struct {
	Token string `json:"token"`
}

func (s *Server) CreateInvitation(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	var req invitationdomain.InviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.invitationSvc.Invite(c.Request.Context(), actor, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ListMyInvitations(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	query, ok := bindListQuery(c)
	if !ok {
		return
	}

	resp, err := s.invitationSvc.ListMine(c.Request.Context(), actor, query.page())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) AcceptInvitation(c *gin.Context) {
	var req invitationdomain.AcceptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	m, err := s.invitationSvc.Accept(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": m})
}

func (s *Server) DeclineInvitation(c *gin.Context) {
	var req declineInvitationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.invitationSvc.Decline(c.Request.Context(), req.Token)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

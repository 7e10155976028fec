package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/vervex/internal/audit/domain"
	"github.com/smallbiznis/vervex/internal/authorization"
	memberdomain "github.com/smallbiznis/vervex/internal/member/domain"
	registrationdomain "github.com/smallbiznis/vervex/internal/registration/domain"
)

type changeRoleRequest struct {
	Role string `json:"role"`
}

type setStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) ListUsers(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	query, ok := bindListQuery(c)
	if !ok {
		return
	}

	resp, err := s.memberSvc.List(c.Request.Context(), actor, memberdomain.ListRequest{
		Pagination: query.page(),
		Role:       query.Role,
		Status:     query.Status,
		ReferrerID: query.ReferrerID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CreateUser(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	var req registrationdomain.CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.registrationSvc.CreateUser(c.Request.Context(), actor, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) DeleteUser(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	resp, err := s.registrationSvc.DeleteUser(c.Request.Context(), actor, strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ChangeUserRole(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	var req changeRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.memberSvc.ChangeRole(c.Request.Context(), actor, memberdomain.ChangeRoleRequest{
		ID:   strings.TrimSpace(c.Param("id")),
		Role: req.Role,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) SetUserStatus(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	var req setStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.memberSvc.SetStatus(c.Request.Context(), actor, memberdomain.SetStatusRequest{
		ID:     strings.TrimSpace(c.Param("id")),
		Status: req.Status,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ResendVerification(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	id, err := memberdomain.ParseID(strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.notifier.ResendVerification(c.Request.Context(), actor, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListAuditLogs(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	query, ok := bindListQuery(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if err := s.authzSvc.Authorize(ctx, actor, authorization.ObjectAuditLog, authorization.ActionAuditLogView); err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.auditSvc.List(ctx, auditdomain.ListRequest{
		Pagination: query.page(),
		Action:     query.Action,
		TargetID:   query.TargetID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

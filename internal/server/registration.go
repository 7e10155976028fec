package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	registrationdomain "github.com/smallbiznis/vervex/internal/registration/domain"
)

// RegisterFromCode turns an issued activation code into a member on behalf
// of the signed-in inviter or cashier.
func (s *Server) RegisterFromCode(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	var req registrationdomain.RedeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.registrationSvc.RegisterFromCode(c.Request.Context(), actor, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

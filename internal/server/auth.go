package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	identitydomain "github.com/smallbiznis/vervex/internal/identity/domain"
	memberdomain "github.com/smallbiznis/vervex/internal/member/domain"
	"github.com/smallbiznis/vervex/internal/role"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	identitydomain.Token
	Member memberdomain.Member `json:"member"`
}

func (s *Server) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	ctx := c.Request.Context()
	token, err := s.identity.Authenticate(ctx, req.Email, req.Password)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	// An identity without a member is a leftover of a failed registration.
	m, err := s.memberSvc.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, memberdomain.ErrNotFound) {
			err = identitydomain.ErrInvalidCredentials
		}
		AbortWithError(c, err)
		return
	}
	if !m.Active() {
		AbortWithError(c, memberdomain.ErrInactive)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": loginResponse{Token: token, Member: m}})
}

func (s *Server) VerifyEmail(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		AbortWithError(c, invalidRequestError())
		return
	}

	m, err := s.notifier.ConfirmVerification(c.Request.Context(), token)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": m})
}

func (s *Server) Me(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	m, err := s.memberSvc.Get(c.Request.Context(), actor.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": m})
}

func (s *Server) ListMyTransactions(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	query, ok := bindListQuery(c)
	if !ok {
		return
	}

	resp, err := s.ledgerSvc.ListByUser(c.Request.Context(), actor.ID, query.page())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListMyDownline(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	query, ok := bindListQuery(c)
	if !ok {
		return
	}

	resp, err := s.memberSvc.ListDownline(c.Request.Context(), actor.ID, query.page())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type pricingEntry struct {
	Role       string `json:"role"`
	Price      int64  `json:"price"`
	Commission int64  `json:"commission"`
}

// GetPricing lists the roles that can be bought with a code request.
func (s *Server) GetPricing(c *gin.Context) {
	table := s.pricing.Current()

	entries := make([]pricingEntry, 0, len(table.Prices))
	for _, r := range role.All() {
		price, ok := table.PriceFor(r)
		if !ok {
			continue
		}
		entries = append(entries, pricingEntry{
			Role:       string(r),
			Price:      int64(price),
			Commission: int64(table.CommissionFor(r)),
		})
	}

	c.JSON(http.StatusOK, gin.H{"data": entries})
}

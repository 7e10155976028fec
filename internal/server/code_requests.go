package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gosimple/slug"
	coderequestdomain "github.com/smallbiznis/vervex/internal/coderequest/domain"
	"github.com/smallbiznis/vervex/internal/providers/pdf"
	"github.com/smallbiznis/vervex/pkg/errs"
	"go.uber.org/zap"
)

var errVoucherUnavailable = errs.New(errs.KindFailedPrecondition, "voucher_unavailable")

type createCodeRequestRequest struct {
	Role       string                       `json:"role"`
	InviteData coderequestdomain.InviteData `json:"invite_data"`
}

type attachReceiptRequest struct {
	ReceiptURL string `json:"receipt_url"`
}

type generateCodeRequest struct {
	Code string `json:"code"`
}

type rejectCodeRequestRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) CreateCodeRequest(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	var req createCodeRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.codeRequestSvc.Create(c.Request.Context(), actor, coderequestdomain.CreateRequest{
		Role:   req.Role,
		Invite: req.InviteData,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ListMyCodeRequests(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	query, ok := bindListQuery(c)
	if !ok {
		return
	}

	resp, err := s.codeRequestSvc.ListMine(c.Request.Context(), actor, coderequestdomain.ListRequest{
		Pagination: query.page(),
		Status:     query.Status,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetCodeRequest(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	resp, err := s.codeRequestSvc.Get(c.Request.Context(), actor, strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) AttachReceipt(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	var req attachReceiptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.codeRequestSvc.AttachReceipt(c.Request.Context(), actor, coderequestdomain.AttachReceiptRequest{
		ID:         strings.TrimSpace(c.Param("id")),
		ReceiptURL: req.ReceiptURL,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CancelCodeRequest(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	resp, err := s.codeRequestSvc.Cancel(c.Request.Context(), actor, strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// DownloadVoucher renders the issued code of a request as a printable PDF.
func (s *Server) DownloadVoucher(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	cr, err := s.codeRequestSvc.Get(ctx, actor, strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if cr.Code() == "" || cr.Status != coderequestdomain.StatusCodeGenerated {
		AbortWithError(c, errVoucherUnavailable)
		return
	}

	inviterName := ""
	if inviter, err := s.memberSvc.Get(ctx, cr.InviterID); err == nil {
		inviterName = inviter.DisplayName
	} else {
		s.log.Warn("voucher inviter lookup failed", zap.String("code_request_id", cr.ID.String()), zap.Error(err))
	}

	data, err := s.pdf.Voucher(ctx, pdf.VoucherData{
		Code:        cr.Code(),
		Role:        string(cr.Role),
		Price:       int64(cr.Price),
		InviterName: inviterName,
		InviteeName: cr.Invite.Name,
		IssuedAt:    derefTime(cr.CodeGeneratedAt, cr.UpdatedAt),
		RedeemURL:   strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/register?code=" + cr.Code(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	filename := "voucher-" + cr.ID.String() + ".pdf"
	if name := slug.Make(cr.Invite.Name); name != "" {
		filename = "voucher-" + name + "-" + cr.ID.String() + ".pdf"
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "application/pdf", data)
}

func (s *Server) ListCodeRequestQueue(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	query, ok := bindListQuery(c)
	if !ok {
		return
	}

	resp, err := s.codeRequestSvc.ListByStatus(c.Request.Context(), actor, coderequestdomain.ListRequest{
		Pagination: query.page(),
		Status:     query.Status,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) SuggestCode(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	code, err := s.codeRequestSvc.SuggestCode(c.Request.Context(), actor, strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"code": code}})
}

func (s *Server) GenerateCode(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	var req generateCodeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	resp, err := s.codeRequestSvc.GenerateCode(c.Request.Context(), actor, coderequestdomain.GenerateCodeRequest{
		ID:   strings.TrimSpace(c.Param("id")),
		Code: req.Code,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) RejectCodeRequest(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	var req rejectCodeRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.codeRequestSvc.Reject(c.Request.Context(), actor, coderequestdomain.RejectRequest{
		ID:     strings.TrimSpace(c.Param("id")),
		Reason: req.Reason,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func derefTime(t *time.Time, fallback time.Time) time.Time {
	if t == nil {
		return fallback
	}
	return *t
}

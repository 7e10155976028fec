package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/vervex/pkg/db/pagination"
)

type listQuery struct {
	PageToken  string `form:"page_token"`
	PageSize   int    `form:"page_size"`
	Status     string `form:"status"`
	Role       string `form:"role"`
	ReferrerID string `form:"referrer_id"`
	Action     string `form:"action"`
	TargetID   string `form:"target_id"`
}

func bindListQuery(c *gin.Context) (listQuery, bool) {
	var query listQuery
	if err := c.ShouldBindQuery(&query); err != nil || query.PageSize < 0 {
		AbortWithError(c, invalidRequestError())
		return listQuery{}, false
	}
	query.PageToken = strings.TrimSpace(query.PageToken)
	query.Status = strings.TrimSpace(query.Status)
	query.Role = strings.TrimSpace(query.Role)
	query.ReferrerID = strings.TrimSpace(query.ReferrerID)
	query.Action = strings.TrimSpace(query.Action)
	query.TargetID = strings.TrimSpace(query.TargetID)
	return query, true
}

func (q listQuery) page() pagination.Pagination {
	return pagination.Pagination{PageToken: q.PageToken, PageSize: q.PageSize}
}

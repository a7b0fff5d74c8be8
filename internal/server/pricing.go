package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	memberdomain "github.com/smallbiznis/previsora/internal/member/domain"
	pricingdomain "github.com/smallbiznis/previsora/internal/pricing/domain"
	"github.com/smallbiznis/previsora/internal/pricing/recompute"
)

func (s *Server) GetPricingRules(c *gin.Context) {
	rules := s.pricingRules.Get(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"data": rules})
}

func (s *Server) UpdatePricingRules(c *gin.Context) {
	var rules pricingdomain.Rules
	if err := c.ShouldBindJSON(&rules); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	updated, err := s.pricingRules.Update(c.Request.Context(), rules)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": updated})
}

func (s *Server) RecomputeGroup(c *gin.Context) {
	groupID, err := memberdomain.ParseGroupID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_group_id", "invalid group id"))
		return
	}

	summary, err := s.recomputeSvc.RecomputeGroup(c.Request.Context(), groupID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": summary})
}

// RecomputeAllGroups runs the batch repricer. With ?zero_quota=true only the
// groups stuck at a zero quota are touched.
func (s *Server) RecomputeAllGroups(c *gin.Context) {
	zeroOnly, _ := strconv.ParseBool(c.Query("zero_quota"))

	var (
		summary *recompute.BatchSummary
		err     error
	)
	if zeroOnly {
		summary, err = s.recomputeSvc.RecomputeZeroQuota(c.Request.Context(), nil)
	} else {
		summary, err = s.recomputeSvc.RecomputeAll(c.Request.Context(), nil)
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": summary})
}

package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/uni-reg-api/internal/service"
	appErrors "github.com/noah-isme/uni-reg-api/pkg/errors"
	"github.com/noah-isme/uni-reg-api/pkg/response"
)

// FeeHandler exposes fee claim submission and the admin decision route.
type FeeHandler struct {
	fees *service.FeeService
}

// NewFeeHandler constructs FeeHandler.
func NewFeeHandler(fees *service.FeeService) *FeeHandler {
	return &FeeHandler{fees: fees}
}

// Submit godoc
// @Summary Submit a fee payment claim
// @Tags Fees
// @Accept json
// @Produce json
// @Param payload body service.SubmitFeeRequest true "Fee claim payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /fees [post]
// @Security BearerAuth
func (h *FeeHandler) Submit(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.SubmitFeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	fee, err := h.fees.SubmitFee(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, "fee claim submitted", fee)
}

// Status godoc
// @Summary Latest fee claim for one semester
// @Tags Fees
// @Produce json
// @Param semester query int true "Semester"
// @Success 200 {object} response.Envelope
// @Router /fees [get]
// @Security BearerAuth
func (h *FeeHandler) Status(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	semester, err := strconv.Atoi(c.Query("semester"))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "semester query parameter is required"))
		return
	}
	fee, err := h.fees.Status(c.Request.Context(), claims.UserID, semester)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", fee)
}

// Decide godoc
// @Summary Approve or reject a fee claim
// @Tags Fees
// @Accept json
// @Produce json
// @Param id path string true "Transaction ID"
// @Param payload body service.FeeDecisionRequest true "Decision payload"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /fees/{id}/decision [put]
// @Security BearerAuth
func (h *FeeHandler) Decide(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.FeeDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	fee, err := h.fees.RecordDecision(c.Request.Context(), claims.UserID, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "fee decision recorded", fee)
}

// Audit godoc
// @Summary Decision trail for one fee transaction
// @Tags Fees
// @Produce json
// @Param id path string true "Transaction ID"
// @Success 200 {object} response.Envelope
// @Router /fees/{id}/audit [get]
// @Security BearerAuth
func (h *FeeHandler) Audit(c *gin.Context) {
	approvals, err := h.fees.Audit(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", approvals)
}

// Package api is the pipeline's ops HTTP surface: health, metrics, campaign
// launch and vendor delivery receipts.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"crmflow/internal/campaign"
	"crmflow/internal/logger"
	"crmflow/internal/segment"
	apperrors "crmflow/pkg/errors"
	"crmflow/pkg/health"
	"crmflow/pkg/models"
)

type CampaignService interface {
	Launch(ctx context.Context, req campaign.LaunchRequest) (campaign.LaunchResult, error)
	Preview(ctx context.Context, rule segment.Rule) (campaign.Preview, error)
	Report(ctx context.Context, campaignID string) (campaign.Report, error)
}

type StatusPublisher interface {
	PublishStatus(ctx context.Context, entryID string, status models.CommunicationStatus, reason string) (string, error)
}

type PreviewRequest struct {
	SegmentRules *segment.Rule `json:"segmentRules"`
}

type DeliveryReceipt struct {
	ID          string                     `json:"_id"`
	Status      models.CommunicationStatus `json:"status"`
	ErrorReason string                     `json:"errorReason,omitempty"`
}

type BaseHandler struct {
	Logger logger.Logger
}

func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	status := apperrors.ToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.Logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	} else {
		h.Logger.WarnwCtx(c.Request.Context(), "Request rejected", "error", err, "path", c.Request.URL.Path)
	}
	c.JSON(status, apperrors.ToErrorResponse(err))
}

func (h *BaseHandler) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, apperrors.ToErrorResponse(apperrors.ErrValidation.WithCause(err)))
}

type Handler struct {
	BaseHandler
	campaigns CampaignService
	receipts  StatusPublisher
	health    *health.CheckerRegistry
}

func NewHandler(campaigns CampaignService, receipts StatusPublisher, checks *health.CheckerRegistry, log logger.Logger) *Handler {
	if checks == nil {
		checks = health.NewCheckerRegistry()
	}
	return &Handler{
		BaseHandler: BaseHandler{Logger: log},
		campaigns:   campaigns,
		receipts:    receipts,
		health:      checks,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)

	v1 := router.Group("/api/v1")
	{
		campaigns := v1.Group("/campaigns")
		{
			campaigns.POST("", h.LaunchCampaign)
			campaigns.POST("/preview", h.PreviewAudience)
			campaigns.GET("/:id/stats", h.CampaignStats)
		}

		v1.POST("/delivery-receipts", h.DeliveryReceipt)
	}
}

func (h *Handler) Health(c *gin.Context) {
	result := h.health.Check(c.Request.Context())
	status := http.StatusOK
	if result.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, result)
}

// LaunchCampaign godoc
// @Summary      Create a campaign and start delivery
// @Tags         campaigns
// @Accept       json
// @Produce      json
// @Param        campaign  body      campaign.LaunchRequest  true  "Campaign"
// @Success      201       {object}  campaign.LaunchResult
// @Failure      400       {object}  map[string]interface{}
// @Failure      500       {object}  map[string]interface{}
// @Router       /campaigns [post]
func (h *Handler) LaunchCampaign(c *gin.Context) {
	var req campaign.LaunchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	res, err := h.campaigns.Launch(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":      "Campaign created and delivery started",
		"campaignId":   res.CampaignID,
		"audienceSize": res.AudienceSize,
	})
}

// PreviewAudience godoc
// @Summary      Count and sample the audience of a segment rule
// @Tags         campaigns
// @Accept       json
// @Produce      json
// @Param        preview  body      PreviewRequest  true  "Segment rules"
// @Success      200      {object}  campaign.Preview
// @Failure      400      {object}  map[string]interface{}
// @Router       /campaigns/preview [post]
func (h *Handler) PreviewAudience(c *gin.Context) {
	var req PreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	if req.SegmentRules == nil {
		c.JSON(http.StatusBadRequest, apperrors.ToErrorResponse(
			apperrors.ErrValidation.WithDetail("message", "segmentRules is required")))
		return
	}

	preview, err := h.campaigns.Preview(c.Request.Context(), *req.SegmentRules)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, preview)
}

// CampaignStats godoc
// @Summary      Campaign status and delivery counts
// @Tags         campaigns
// @Produce      json
// @Param        id   path      string  true  "Campaign ID"
// @Success      200  {object}  campaign.Report
// @Failure      404  {object}  map[string]interface{}
// @Router       /campaigns/{id}/stats [get]
func (h *Handler) CampaignStats(c *gin.Context) {
	report, err := h.campaigns.Report(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// DeliveryReceipt accepts a vendor callback and forwards it to the
// communication stream as a status update.
// @Summary      Accept a vendor delivery receipt
// @Tags         delivery
// @Accept       json
// @Produce      json
// @Param        receipt  body      DeliveryReceipt  true  "Receipt"
// @Success      202      {object}  map[string]string
// @Failure      400      {object}  map[string]interface{}
// @Failure      503      {object}  map[string]interface{}
// @Router       /delivery-receipts [post]
func (h *Handler) DeliveryReceipt(c *gin.Context) {
	var receipt DeliveryReceipt
	if err := c.ShouldBindJSON(&receipt); err != nil {
		h.badRequest(c, err)
		return
	}
	if receipt.ID == "" {
		c.JSON(http.StatusBadRequest, apperrors.ToErrorResponse(
			apperrors.ErrValidation.WithDetail("message", "_id is required")))
		return
	}
	if !receipt.Status.Terminal() {
		c.JSON(http.StatusBadRequest, apperrors.ToErrorResponse(
			apperrors.ErrValidation.WithDetail("message", "status must be SENT or FAILED")))
		return
	}

	id, err := h.receipts.PublishStatus(c.Request.Context(), receipt.ID, receipt.Status, receipt.ErrorReason)
	if err != nil {
		h.HandleError(c, apperrors.ErrServiceUnavailable.WithCause(err))
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"streamMessageId": id})
}

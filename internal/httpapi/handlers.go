package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/septivank/meter-reading-service/internal/apperr"
	"github.com/septivank/meter-reading-service/internal/db"
	"github.com/septivank/meter-reading-service/internal/service"
	"github.com/septivank/meter-reading-service/internal/validator"
)

// MeasurementService is the lifecycle the handlers expose
type MeasurementService interface {
	Submit(ctx context.Context, sub validator.Submission) (*service.SubmitResult, error)
	Confirm(ctx context.Context, req validator.ConfirmRequest) (*service.ConfirmResult, error)
	List(ctx context.Context, customerCode, measureType string) ([]db.Measure, error)
}

type inlineDataRequest struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type partRequest struct {
	Text       string             `json:"text,omitempty"`
	InlineData *inlineDataRequest `json:"inline_data,omitempty"`
	// camelCase spelling used by Gemini-style clients
	InlineDataCamel *struct {
		MimeType string `json:"mimeType"`
		Data     string `json:"data"`
	} `json:"inlineData,omitempty"`
}

type contentRequest struct {
	Parts []partRequest `json:"parts"`
}

// UploadRequest is the body of POST /upload
type UploadRequest struct {
	Contents        []contentRequest `json:"contents,omitempty"`
	Image           string           `json:"image,omitempty"`
	CustomerCode    string           `json:"customer_code"`
	MeasureDatetime string           `json:"measure_datetime,omitempty"`
	MeasureType     string           `json:"measure_type"`
}

// UploadResponse is the body of a successful upload
type UploadResponse struct {
	ImageURL     string  `json:"image_url"`
	MeasureValue float64 `json:"measure_value"`
	MeasureUUID  string  `json:"measure_uuid"`
}

// ConfirmData is the payload of a successful confirmation
type ConfirmData struct {
	MeasureUUID      string    `json:"measure_uuid"`
	PreviousValue    float64   `json:"previous_value"`
	ConfirmedValue   float64   `json:"confirmed_value"`
	ConfirmationDate time.Time `json:"confirmation_date"`
}

// ConfirmResponse is the body of a successful confirmation
type ConfirmResponse struct {
	Success bool        `json:"success"`
	Data    ConfirmData `json:"data"`
}

// MeasureItem is one entry of a customer listing
type MeasureItem struct {
	MeasureUUID     string    `json:"measure_uuid"`
	MeasureDatetime time.Time `json:"measure_datetime"`
	MeasureType     string    `json:"measure_type"`
	MeasureValue    float64   `json:"measure_value"`
	HasConfirmed    bool      `json:"has_confirmed"`
	ConfirmedValue  *float64  `json:"confirmed_value,omitempty"`
	ImageURL        string    `json:"image_url"`
}

// ListResponse is the body of a customer listing
type ListResponse struct {
	CustomerCode string        `json:"customer_code"`
	Measures     []MeasureItem `json:"measures"`
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// Handler serves the measurement endpoints
type Handler struct {
	svc    MeasurementService
	logger *zap.Logger
}

// NewHandler creates a new handler
func NewHandler(svc MeasurementService, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Upload handles POST /upload
func (h *Handler) Upload(c *gin.Context) {
	var req UploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, h.logger, bindError(err, apperr.KindImageTooLarge))
		return
	}

	result, err := h.svc.Submit(c.Request.Context(), req.toSubmission())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, UploadResponse{
		ImageURL:     result.ImageURL,
		MeasureValue: result.MeasureValue,
		MeasureUUID:  result.MeasureUUID.String(),
	})
}

// Confirm handles PATCH /confirm
func (h *Handler) Confirm(c *gin.Context) {
	var req validator.ConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, h.logger, bindError(err, apperr.KindInvalidRequest))
		return
	}

	result, err := h.svc.Confirm(c.Request.Context(), req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, ConfirmResponse{
		Success: true,
		Data: ConfirmData{
			MeasureUUID:      result.MeasureUUID.String(),
			PreviousValue:    result.PreviousValue,
			ConfirmedValue:   result.ConfirmedValue,
			ConfirmationDate: result.ConfirmationDate,
		},
	})
}

// List handles GET /customers/:customer_code/measures
func (h *Handler) List(c *gin.Context) {
	customerCode := c.Param("customer_code")

	measures, err := h.svc.List(c.Request.Context(), customerCode, c.Query("measure_type"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	items := make([]MeasureItem, 0, len(measures))
	for _, m := range measures {
		items = append(items, MeasureItem{
			MeasureUUID:     m.UUID.String(),
			MeasureDatetime: m.MeasureDatetime,
			MeasureType:     string(m.MeasureType),
			MeasureValue:    m.InitialValue,
			HasConfirmed:    m.IsConfirmed,
			ConfirmedValue:  m.ConfirmedValue,
			ImageURL:        m.ImageURL,
		})
	}

	c.JSON(http.StatusOK, ListResponse{CustomerCode: customerCode, Measures: items})
}

// Health handles GET /health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "UP",
		Message:   "Meter reading service operational",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (r UploadRequest) toSubmission() validator.Submission {
	sub := validator.Submission{
		Image:           r.Image,
		CustomerCode:    r.CustomerCode,
		MeasureDatetime: r.MeasureDatetime,
		MeasureType:     r.MeasureType,
	}

	for _, content := range r.Contents {
		var parts []validator.Part
		for _, p := range content.Parts {
			part := validator.Part{Text: p.Text}
			switch {
			case p.InlineData != nil:
				part.InlineData = &validator.InlineData{MimeType: p.InlineData.MimeType, Data: p.InlineData.Data}
			case p.InlineDataCamel != nil:
				part.InlineData = &validator.InlineData{MimeType: p.InlineDataCamel.MimeType, Data: p.InlineDataCamel.Data}
			}
			parts = append(parts, part)
		}
		sub.Contents = append(sub.Contents, validator.Content{Parts: parts})
	}

	return sub
}

// bindError classifies a body decoding failure. An oversized body maps to tooLarge.
func bindError(err error, tooLarge apperr.Kind) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return apperr.Wrap(tooLarge, err, "request body exceeds %d bytes", maxErr.Limit)
	}
	return apperr.Wrap(apperr.KindInvalidRequest, err, "request body is not valid JSON for this endpoint")
}

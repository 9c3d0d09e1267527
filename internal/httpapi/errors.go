package httpapi

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/septivank/meter-reading-service/internal/apperr"
	"github.com/septivank/meter-reading-service/internal/logging"
)

const genericErrorDescription = "An unexpected error occurred, please try again later"

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	ErrorCode        string   `json:"error_code"`
	ErrorDescription string   `json:"error_description"`
	MeasureUUID      string   `json:"measure_uuid,omitempty"`
	Fields           []string `json:"fields,omitempty"`
}

// writeError maps err to its status and stable error code and aborts the chain.
// Server-side failures are logged in full and answered with a generic message.
func writeError(c *gin.Context, fallback *zap.Logger, err error) {
	appErr, ok := apperr.As(err)
	if !ok {
		appErr = apperr.Wrap(apperr.KindInternal, err, "unexpected error")
	}

	kind := appErr.Kind
	resp := ErrorResponse{
		ErrorCode:        kind.Code(),
		ErrorDescription: appErr.Message,
		MeasureUUID:      appErr.MeasureUUID,
		Fields:           appErr.Fields,
	}

	if kind.HTTPStatus() >= 500 && kind != apperr.KindProviderUnavailable {
		logging.FromContext(c.Request.Context(), fallback).Error("request failed",
			zap.String("error_code", kind.Code()),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
		resp.ErrorDescription = genericErrorDescription
	}

	c.AbortWithStatusJSON(kind.HTTPStatus(), resp)
}

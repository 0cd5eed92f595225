package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/koladefaj/document-intelligence-backend/internal/pkg/response"
	"github.com/koladefaj/document-intelligence-backend/internal/service"
)

// handleError maps service errors to the response envelope. Anything not
// recognised is recorded on the context and answered with a generic 500.
func handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrFileTooLarge):
		response.Error(c, response.CodeFileTooLarge, err.Error())
	case errors.Is(err, service.ErrUnsupportedType):
		response.Error(c, response.CodeUnsupportedType, err.Error())
	case errors.Is(err, service.ErrContentMismatch):
		response.Error(c, response.CodeContentMismatch, err.Error())
	case errors.Is(err, service.ErrEmptyFile),
		errors.Is(err, service.ErrEmailTaken),
		errors.Is(err, service.ErrPasswordTooLong):
		response.ParamError(c, err.Error())
	case errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, service.ErrInvalidToken):
		response.AuthError(c, err.Error())
	case errors.Is(err, service.ErrUserDisabled):
		response.PermissionError(c, "inactive user")
	case errors.Is(err, service.ErrNotOwner):
		response.PermissionError(c, err.Error())
	case errors.Is(err, service.ErrDocumentNotFound),
		errors.Is(err, service.ErrTaskNotFound):
		response.NotFoundError(c, err.Error())
	case errors.Is(err, service.ErrDocumentBusy),
		errors.Is(err, service.ErrDocumentFinished):
		response.ConflictError(c, err.Error())
	case errors.Is(err, service.ErrStorageUnavailable),
		errors.Is(err, service.ErrQueueUnavailable):
		c.Error(err)
		response.Error(c, response.CodeUnavailable, "")
	default:
		c.Error(err)
		response.ServerError(c, "")
	}
}

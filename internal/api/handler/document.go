package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/koladefaj/document-intelligence-backend/internal/api/middleware"
	"github.com/koladefaj/document-intelligence-backend/internal/model/dto"
	"github.com/koladefaj/document-intelligence-backend/internal/pkg/response"
	"github.com/koladefaj/document-intelligence-backend/internal/service"
)

// multipartOverhead is the room left for boundaries and part headers on top
// of the file size cap.
const multipartOverhead = 64 * 1024

type DocumentHandler struct {
	uploadService   *service.UploadService
	documentService *service.DocumentService
	maxSize         int64
}

func NewDocumentHandler(uploadService *service.UploadService, documentService *service.DocumentService, maxSize int64) *DocumentHandler {
	return &DocumentHandler{
		uploadService:   uploadService,
		documentService: documentService,
		maxSize:         maxSize,
	}
}

// Upload accepts one multipart file under the "file" field.
// POST /api/v1/documents/upload
func (h *DocumentHandler) Upload(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	limit := h.maxSize + multipartOverhead
	if c.Request.ContentLength > limit {
		response.Error(c, response.CodeFileTooLarge, "")
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(c, response.CodeFileTooLarge, "")
			return
		}
		response.ParamError(c, "file is required")
		return
	}
	defer file.Close()

	if header.Size > h.maxSize {
		response.Error(c, response.CodeFileTooLarge, "")
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, h.maxSize+1))
	if err != nil {
		response.ParamError(c, "could not read file")
		return
	}

	resp, err := h.uploadService.Upload(c.Request.Context(), &service.UploadInput{
		OwnerID:     userID,
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	})
	if err != nil {
		handleError(c, err)
		return
	}

	response.Created(c, resp)
}

// Get returns one document with its analysis.
// GET /api/v1/documents/:id
func (h *DocumentHandler) Get(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	resp, err := h.documentService.Get(userID, c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, resp)
}

// List pages through the caller's documents, newest first.
// GET /api/v1/documents/
func (h *DocumentHandler) List(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	var query dto.DocumentListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	items, total, err := h.documentService.List(userID, query.Page, query.PageSize)
	if err != nil {
		handleError(c, err)
		return
	}

	response.SuccessPage(c, total, query.Page, query.PageSize, items)
}

// Retry enqueues a new job for a document whose job never ran.
// POST /api/v1/documents/:id/retry
func (h *DocumentHandler) Retry(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	resp, err := h.documentService.Retry(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, resp)
}

package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Business codes carried in the envelope next to the HTTP status.
const (
	CodeSuccess          = 0
	CodeParamError       = 1000
	CodeAuthFailed       = 1001
	CodePermissionDenied = 1002
	CodeResourceNotFound = 1003
	CodeConflict         = 1004
	CodeFileTooLarge     = 1005
	CodeUnsupportedType  = 1006
	CodeContentMismatch  = 1007
	CodeTooManyRequests  = 1008
	CodeServerError      = 5000
	CodeUnavailable      = 5003
)

var codeMessages = map[int]string{
	CodeSuccess:          "success",
	CodeParamError:       "invalid request",
	CodeAuthFailed:       "could not validate credentials",
	CodePermissionDenied: "permission denied",
	CodeResourceNotFound: "resource not found",
	CodeConflict:         "conflict",
	CodeFileTooLarge:     "file too large",
	CodeUnsupportedType:  "unsupported file type",
	CodeContentMismatch:  "file extension does not match content",
	CodeTooManyRequests:  "too many requests",
	CodeServerError:      "internal server error",
	CodeUnavailable:      "service unavailable",
}

var codeStatus = map[int]int{
	CodeParamError:       http.StatusBadRequest,
	CodeAuthFailed:       http.StatusUnauthorized,
	CodePermissionDenied: http.StatusForbidden,
	CodeResourceNotFound: http.StatusNotFound,
	CodeConflict:         http.StatusConflict,
	CodeFileTooLarge:     http.StatusRequestEntityTooLarge,
	CodeUnsupportedType:  http.StatusUnsupportedMediaType,
	CodeContentMismatch:  http.StatusBadRequest,
	CodeTooManyRequests:  http.StatusTooManyRequests,
	CodeServerError:      http.StatusInternalServerError,
	CodeUnavailable:      http.StatusServiceUnavailable,
}

// Response is the envelope for every JSON body.
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

type PageData struct {
	Total    int64       `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
	Items    interface{} `json:"items"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code:    CodeSuccess,
		Message: "created",
		Data:    data,
	})
}

func SuccessPage(c *gin.Context, total int64, page, pageSize int, items interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data: PageData{
			Total:    total,
			Page:     page,
			PageSize: pageSize,
			Items:    items,
		},
	})
}

// Error writes an error envelope with the HTTP status mapped from code.
func Error(c *gin.Context, code int, message string) {
	if message == "" {
		message = codeMessages[code]
	}
	status, ok := codeStatus[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	c.JSON(status, Response{
		Code:    code,
		Message: message,
		Data:    nil,
	})
}

// Abort is Error followed by c.Abort, for middleware.
func Abort(c *gin.Context, code int, message string) {
	Error(c, code, message)
	c.Abort()
}

func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

func AuthError(c *gin.Context, message string) {
	c.Header("WWW-Authenticate", "Bearer")
	Error(c, CodeAuthFailed, message)
}

func PermissionError(c *gin.Context, message string) {
	Error(c, CodePermissionDenied, message)
}

func NotFoundError(c *gin.Context, message string) {
	Error(c, CodeResourceNotFound, message)
}

func ConflictError(c *gin.Context, message string) {
	Error(c, CodeConflict, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}

package utils

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GenericError is the fixed "error" field of every failure envelope.
const GenericError = "An error occurred."

// JSONResponse defines the uniform structure for successful API responses.
// Data is always a list, even for single-record lookups.
type JSONResponse struct {
	Data    interface{} `json:"data"`
	Code    int         `json:"code"`
	Message string      `json:"message"`
}

// ErrorResponse defines the uniform structure for failed API responses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Respond writes a JSON response with the given status code, mirrored in the body.
func Respond(ctx *gin.Context, status int, message string, data interface{}) {
	ctx.JSON(status, JSONResponse{
		Data:    data,
		Code:    status,
		Message: message,
	})
}

// Success returns a standard success response.
func Success(ctx *gin.Context, message string, data interface{}) {
	Respond(ctx, http.StatusOK, message, data)
}

// Error returns a standard error response.
func Error(ctx *gin.Context, status int, message string) {
	ctx.JSON(status, ErrorResponse{
		Error:   GenericError,
		Code:    status,
		Message: message,
	})
}

// NotFound reports a lookup that found nothing. The miss is a domain result,
// not a transport failure: HTTP 200 with code 404 in the error envelope.
func NotFound(ctx *gin.Context, message string) {
	ctx.JSON(http.StatusOK, ErrorResponse{
		Error:   GenericError,
		Code:    http.StatusNotFound,
		Message: message,
	})
}

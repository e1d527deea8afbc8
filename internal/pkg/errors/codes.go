package errors

import (
	"fmt"
	"net/http"
)

// Code represents an error code with HTTP status and message
type Code struct {
	Code    int    // Business error code
	Status  int    // HTTP status code
	Message string // Error message
}

// Error codes for different modules
const (
	Success = 0

	// Common errors (1000-1999)
	ErrInternalServer  = 1000
	ErrInvalidParams   = 1001
	ErrNotFound        = 1002
	ErrConflict        = 1005
	ErrTooManyRequests = 1006
	ErrBadRequest      = 1007
	ErrServiceUnavail  = 1008
	ErrRequestTimeout  = 1009

	// Content ingestion errors (6000-6999)
	ErrContentUnsupportedFormat = 6000
	ErrContentMalformed         = 6001
	ErrContentTooLarge          = 6002
	ErrContentEmpty             = 6003
	ErrContentIngestionFailed   = 6004
	ErrContentStorageFailed     = 6005
	ErrContentRenderFailed      = 6006
	ErrContentPersistFailed     = 6007
	ErrContentUploadNotFound    = 6008
	ErrContentBookNotFound      = 6009
	ErrContentFormatMismatch    = 6010
)

var codeMap = map[int]Code{
	Success: {Success, http.StatusOK, "Success"},

	ErrInternalServer:  {ErrInternalServer, http.StatusInternalServerError, "Internal server error"},
	ErrInvalidParams:   {ErrInvalidParams, http.StatusBadRequest, "Invalid parameters"},
	ErrNotFound:        {ErrNotFound, http.StatusNotFound, "Resource not found"},
	ErrConflict:        {ErrConflict, http.StatusConflict, "Resource conflict"},
	ErrTooManyRequests: {ErrTooManyRequests, http.StatusTooManyRequests, "Too many requests"},
	ErrBadRequest:      {ErrBadRequest, http.StatusBadRequest, "Bad request"},
	ErrServiceUnavail:  {ErrServiceUnavail, http.StatusServiceUnavailable, "Service unavailable"},
	ErrRequestTimeout:  {ErrRequestTimeout, http.StatusGatewayTimeout, "Request timed out"},

	ErrContentUnsupportedFormat: {ErrContentUnsupportedFormat, http.StatusUnsupportedMediaType, "Unsupported document format"},
	ErrContentMalformed:         {ErrContentMalformed, http.StatusUnprocessableEntity, "Malformed document"},
	ErrContentTooLarge:          {ErrContentTooLarge, http.StatusRequestEntityTooLarge, "Document exceeds size limit"},
	ErrContentEmpty:             {ErrContentEmpty, http.StatusBadRequest, "Document is empty"},
	ErrContentIngestionFailed:   {ErrContentIngestionFailed, http.StatusUnprocessableEntity, "Too many document images could not be processed"},
	ErrContentStorageFailed:     {ErrContentStorageFailed, http.StatusBadGateway, "Content storage unavailable"},
	ErrContentRenderFailed:      {ErrContentRenderFailed, http.StatusInternalServerError, "Failed to render document"},
	ErrContentPersistFailed:     {ErrContentPersistFailed, http.StatusInternalServerError, "Failed to save document"},
	ErrContentUploadNotFound:    {ErrContentUploadNotFound, http.StatusNotFound, "Upload not found"},
	ErrContentBookNotFound:      {ErrContentBookNotFound, http.StatusNotFound, "Book not found"},
	ErrContentFormatMismatch:    {ErrContentFormatMismatch, http.StatusConflict, "Document format differs from the original upload"},
}

// GetCode returns the Code for a given error code
func GetCode(code int) Code {
	if c, ok := codeMap[code]; ok {
		return c
	}
	return codeMap[ErrInternalServer]
}

// GetHTTPStatus returns HTTP status for a given error code
func GetHTTPStatus(code int) int {
	return GetCode(code).Status
}

// GetMessage returns the message for a given error code
func GetMessage(code int) string {
	return GetCode(code).Message
}

// IsClientError checks if the code represents a client error (4xx)
func IsClientError(code int) bool {
	status := GetHTTPStatus(code)
	return status >= 400 && status < 500
}

// FormatError formats an error message with code
func FormatError(code int, details ...string) string {
	msg := GetMessage(code)
	if len(details) > 0 && details[0] != "" {
		return fmt.Sprintf("%s: %s", msg, details[0])
	}
	return msg
}

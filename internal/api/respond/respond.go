// Package respond formats the asset server's JSON responses, success and
// error alike.
package respond

import (
	"net/http"

	"github.com/wb-go/wbf/ginext"
)

// Error codes, returned verbatim in the "error" field of a failure
// response.
const (
	ErrPayloadTooLarge    = "error.payload_too_large"
	ErrBadRequest         = "error.bad_request"
	ErrNotFound           = "error.not_found"
	ErrMethodNotAllowed   = "error.method_not_allowed"
	ErrMissingFilename    = "error.missing_filename"
	ErrUnauthorized       = "error.unauthorized"
	ErrInvalidImage       = "error.invalid_image"
	ErrProcessingTimedOut = "error.processing_timed_out"
	ErrInternal           = "error.internal"
)

type errorBody struct {
	Error string `json:"error"`
}

// Fail writes a JSON error body with the given status and error code.
func Fail(c *ginext.Context, status int, code string) {
	c.JSON(status, errorBody{Error: code})
}

// DimensionSpec mirrors the wire shape of one entry in "original" or
// "variants".
type DimensionSpec struct {
	Width   uint     `json:"width"`
	Height  uint     `json:"height"`
	Formats []string `json:"formats"`
}

// UploadResult is the 200 response body for a successful upload.
type UploadResult struct {
	Hash     string          `json:"hash"`
	Filename string          `json:"filename"`
	Original DimensionSpec   `json:"original"`
	Variants []DimensionSpec `json:"variants"`
	IsNew    bool            `json:"is_new"`
}

// OK writes a 200 response carrying result.
func OK(c *ginext.Context, result UploadResult) {
	c.JSON(http.StatusOK, result)
}

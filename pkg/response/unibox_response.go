// Package response provides API response envelope utilities.
package response

import (
	"github.com/gofiber/fiber/v2"
)

// =============================================================================
// Standard API Response
// =============================================================================

// Response is the standard API response structure.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
}

// ErrorInfo contains error details.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Service string `json:"service,omitempty"`
}

// Meta contains pagination and other metadata.
type Meta struct {
	Count   int    `json:"count,omitempty"`
	Limit   int    `json:"limit,omitempty"`
	Offset  int    `json:"offset,omitempty"`
	Service string `json:"service,omitempty"`
}

// =============================================================================
// Response Builders
// =============================================================================

// OK returns a successful response.
func OK(c *fiber.Ctx, data interface{}) error {
	return c.JSON(Response{
		Success: true,
		Data:    data,
	})
}

// OKWithMeta returns a successful response with metadata.
func OKWithMeta(c *fiber.Ctx, data interface{}, meta *Meta) error {
	return c.JSON(Response{
		Success: true,
		Data:    data,
		Meta:    meta,
	})
}

// Created returns a 201 created response.
func Created(c *fiber.Ctx, data interface{}) error {
	return c.Status(201).JSON(Response{
		Success: true,
		Data:    data,
	})
}

// NoContent returns a 204 no content response.
func NoContent(c *fiber.Ctx) error {
	return c.SendStatus(204)
}

// Error returns an error response.
func Error(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(Response{
		Success: false,
		Error: &ErrorInfo{
			Code:    code,
			Message: message,
		},
	})
}

// BadRequest returns a 400 bad request response.
func BadRequest(c *fiber.Ctx, message string) error {
	return Error(c, 400, "BAD_REQUEST", message)
}

// Unauthorized returns a 401 unauthorized response.
func Unauthorized(c *fiber.Ctx, message string) error {
	return Error(c, 401, "UNAUTHORIZED", message)
}

// NotFound returns a 404 not found response.
func NotFound(c *fiber.Ctx, message string) error {
	return Error(c, 404, "NOT_FOUND", message)
}

// InternalError returns a 500 internal server error response.
func InternalError(c *fiber.Ctx, message string) error {
	return Error(c, 500, "INTERNAL_ERROR", message)
}

// =============================================================================
// Fetch Query Helper
// =============================================================================

// FetchParams are the list query parameters accepted by the email endpoints.
type FetchParams struct {
	Limit              int
	LimitSet           bool
	Offset             int
	Filter             string
	FolderID           string
	IncludeAttachments bool
}

// GetFetchParams extracts email fetch parameters from the request. A limit
// of 0 passed explicitly is preserved (it means "return nothing"), which is
// why presence is tracked separately from the value. "folder" is accepted as
// a shorthand alias for "folderId".
func GetFetchParams(c *fiber.Ctx, maxLimit int) *FetchParams {
	p := &FetchParams{
		Filter:             c.Query("filter"),
		FolderID:           c.Query("folderId", c.Query("folder")),
		IncludeAttachments: c.QueryBool("includeAttachments", false),
	}

	if raw := c.Query("limit"); raw != "" {
		p.LimitSet = true
		p.Limit = c.QueryInt("limit", 0)
		if p.Limit < 0 {
			p.Limit = 0
		}
		if p.Limit > maxLimit {
			p.Limit = maxLimit
		}
	}

	p.Offset = c.QueryInt("offset", 0)
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

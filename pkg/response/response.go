// Package response writes the JSON envelope every HTTP endpoint answers with.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Body is the envelope: {"success": bool, "data": ..., "error": "..."}.
type Body struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// OK sends 200 with data.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Body{Success: true, Data: data})
}

// Created sends 201 with the created resource.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Body{Success: true, Data: data})
}

// NoContent sends 204 with no body.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Fail sends a failed envelope with status. data carries optional detail, such as the
// per-dependency state of a failed health check.
func Fail(c *gin.Context, status int, err string, data interface{}) {
	c.JSON(status, Body{Success: false, Data: data, Error: err})
}

// BadRequest sends 400: malformed input or a rejected validation.
func BadRequest(c *gin.Context, err string) {
	Fail(c, http.StatusBadRequest, err, nil)
}

// Unauthorized sends 401.
func Unauthorized(c *gin.Context, err string) {
	Fail(c, http.StatusUnauthorized, err, nil)
}

// Forbidden sends 403.
func Forbidden(c *gin.Context, err string) {
	Fail(c, http.StatusForbidden, err, nil)
}

// NotFound sends 404.
func NotFound(c *gin.Context, err string) {
	Fail(c, http.StatusNotFound, err, nil)
}

// Conflict sends 409: the question is in the wrong status or was changed concurrently.
func Conflict(c *gin.Context, err string) {
	Fail(c, http.StatusConflict, err, nil)
}

// Internal sends 500. The cause is logged, never returned.
func Internal(c *gin.Context, err string) {
	Fail(c, http.StatusInternalServerError, err, nil)
}

// Package response holds the success envelope shared by the JSON handlers.
// Errors use apperr.Body through the HTTP error handler.
package response

import "github.com/labstack/echo/v4"

type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
}

// JSON writes {"success": true, "data": data}.
func JSON(c echo.Context, status int, data interface{}) error {
	return c.JSON(status, Envelope{Success: true, Data: data})
}

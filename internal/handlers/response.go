package handlers

import (
  "errors"
  "net/http"
  "github.com/gin-gonic/gin"
  "github.com/shinyadventure/coverletter-backend/internal/platform/httpx"
)

type APIError struct {
  Message     string	`json:"message"`
  Code	      string	`json:"code,omitempty"`
}

type ErrorEnvelope struct {
  Error	      APIError	`json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
  msg := "unknown error"
  if err != nil {
    msg = err.Error()
  }
  c.JSON(status, ErrorEnvelope{
    Error: APIError{
      Message: msg,
      Code:    code,
    },
  })
}

// RespondServiceError picks the status from the error when it carries one
// (validation 422, not found 404), otherwise responds 500.
func RespondServiceError(c *gin.Context, code string, err error) {
  status := http.StatusInternalServerError
  var coder httpx.HTTPStatusCoder
  if errors.As(err, &coder) {
    status = coder.HTTPStatusCode()
  }
  RespondError(c, status, code, err)
}

func RespondOK(c *gin.Context, payload any) {
  c.JSON(http.StatusOK, payload)
}

package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/contactkeval/iv-surface/internal/chain"
	"github.com/contactkeval/iv-surface/internal/data"
	"github.com/contactkeval/iv-surface/internal/engine"
	"github.com/contactkeval/iv-surface/internal/logger"
	"github.com/contactkeval/iv-surface/internal/pricing"
	"github.com/contactkeval/iv-surface/internal/realized"
	"github.com/contactkeval/iv-surface/internal/store"
	"github.com/contactkeval/iv-surface/internal/surface"
)

// success writes the standard envelope {"code":0,"msg":"success","data":...}.
func success(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{
		"code": 0,
		"msg":  "success",
		"data": data,
	})
}

// fail writes an error envelope with the status mapped from err.
func fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Errorf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	failWithStatus(c, status, err.Error())
}

func failWithStatus(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"code": status,
		"msg":  msg,
	})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, pricing.ErrInvalidInput),
		errors.Is(err, chain.ErrInvalidRange),
		errors.Is(err, chain.ErrInvalidFilter),
		errors.Is(err, surface.ErrInvalidGrid):
		return http.StatusBadRequest
	case errors.Is(err, pricing.ErrNoConvergence),
		errors.Is(err, surface.ErrEmptySurface),
		errors.Is(err, surface.ErrDegenerateSurface),
		errors.Is(err, engine.ErrNoEligibleData),
		errors.Is(err, realized.ErrInsufficientData):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrNotFound), errors.Is(err, data.ErrNoData):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrNoStore):
		return http.StatusNotImplemented
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

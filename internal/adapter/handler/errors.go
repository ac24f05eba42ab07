package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rl1809/custody-ledger/internal/core/domain"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

type errorClass struct {
	sentinel error
	http     int
	grpc     codes.Code
	code     string
}

var errorClasses = []errorClass{
	{domain.ErrValidation, http.StatusBadRequest, codes.InvalidArgument, "validation"},
	{domain.ErrInsufficientQuantity, http.StatusUnprocessableEntity, codes.FailedPrecondition, "insufficient_quantity"},
	{domain.ErrSerialState, http.StatusConflict, codes.FailedPrecondition, "serial_state"},
	{domain.ErrConflict, http.StatusConflict, codes.Aborted, "conflict"},
	{domain.ErrNotFound, http.StatusNotFound, codes.NotFound, "not_found"},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, codes.DeadlineExceeded, "timeout"},
	{context.Canceled, 499, codes.Canceled, "canceled"},
}

func classify(err error) (errorClass, bool) {
	for _, c := range errorClasses {
		if errors.Is(err, c.sentinel) {
			return c, true
		}
	}
	return errorClass{http: http.StatusInternalServerError, grpc: codes.Internal, code: "internal"}, false
}

// respondError writes the error envelope. Unclassified errors are logged by
// the caller and reach the client only as "internal error".
func respondError(c *gin.Context, err error) {
	class, known := classify(err)
	msg := "internal error"
	if known {
		msg = err.Error()
	}
	c.AbortWithStatusJSON(class.http, ErrorEnvelope{Error: APIError{Message: msg, Code: class.code}})
}

func grpcError(err error) error {
	class, known := classify(err)
	if !known {
		return status.Error(codes.Internal, "internal error")
	}
	return status.Error(class.grpc, err.Error())
}

package httputil

import (
	"errors"

	"github.com/gofiber/fiber/v3"

	"github.com/aio-zber/tms-server/internal/apierror"
)

// Envelope is the canonical response body shape for every handler: success carries data, failure
// carries error detail. The explicit success field lets clients branch without inspecting status
// codes that proxies or load balancers may rewrite.
type Envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

// ErrorBody holds structured error detail returned to the client.
type ErrorBody struct {
	Code    apierror.Kind     `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Success sends a 200 JSON response with the given data.
func Success(c fiber.Ctx, data any) error {
	return c.JSON(Envelope{Success: true, Data: data})
}

// SuccessStatus sends a JSON response with a custom status code.
func SuccessStatus(c fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(Envelope{Success: true, Data: data})
}

// ErrorHandler is installed as the Fiber app's global error handler. It maps an *apierror.Error to
// its taxonomy-defined status code and a structured body; a *fiber.Error is mapped to the kind
// matching its status code, and any other error falls through to 500 (a classified error is
// never downgraded to a bare 500).
func ErrorHandler(c fiber.Ctx, err error) error {
	var apiErr *apierror.Error
	if ae, ok := apierror.As(err); ok {
		apiErr = ae
	} else {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			apiErr = apierror.Wrap(kindForFiberStatus(fe.Code), err, fe.Message)
		} else {
			apiErr = apierror.ServerError(err, "unexpected error")
		}
	}

	return c.Status(apierror.HTTPStatus(apiErr.Kind)).JSON(Envelope{
		Success: false,
		Error: &ErrorBody{
			Code:    apiErr.Kind,
			Message: apiErr.Message,
			Fields:  apiErr.Fields,
		},
	})
}

func kindForFiberStatus(status int) apierror.Kind {
	switch status {
	case fiber.StatusUnauthorized:
		return apierror.KindTokenRejected
	case fiber.StatusForbidden:
		return apierror.KindPermissionDenied
	case fiber.StatusNotFound:
		return apierror.KindNotFound
	case fiber.StatusBadRequest:
		return apierror.KindValidationError
	case fiber.StatusTooManyRequests:
		return apierror.KindRateLimited
	case fiber.StatusConflict:
		return apierror.KindConflict
	case fiber.StatusServiceUnavailable:
		return apierror.KindUpstreamUnavailable
	default:
		return apierror.KindServerError
	}
}

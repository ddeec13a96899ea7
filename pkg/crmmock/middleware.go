package crmmock

import (
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/crm"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	TraceID   string `json:"trace_id,omitempty"`
}

// errorHandler answers with the status code carried by the error: httperror values from the store,
// echo errors from routing, 500 otherwise.
func errorHandler(logger ectologger.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		ctx := c.Request().Context()

		code, message := http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
		var echoErr *echo.HTTPError
		switch {
		case httperror.IsHTTPError(err):
			code = httperror.GetStatusCode(err)
			message = httperror.ToHTTPError(err).Error()
		case errors.As(err, &echoErr):
			code = echoErr.Code
			if msg, ok := echoErr.Message.(string); ok {
				message = msg
			}
		}

		if code >= http.StatusInternalServerError {
			logger.WithContext(ctx).WithError(err).Error("mock store request failed")
		}

		_ = c.JSON(code, ErrorResponse{
			Message:   message,
			RequestID: c.Response().Header().Get(echo.HeaderXRequestID),
			TraceID:   tracing.TraceID(ctx),
		})
	}
}

// accessLog assigns a request id (keeping the caller's when present) and logs each request with
// its outcome once the handler and error handler have run.
func accessLog(logger ectologger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req, res := c.Request(), c.Response()

			id := req.Header.Get(echo.HeaderXRequestID)
			if id == "" {
				id = uuid.NewString()
			}
			res.Header().Set(echo.HeaderXRequestID, id)

			start := time.Now()
			if err := next(c); err != nil {
				c.Error(err)
			}

			logger.WithContext(req.Context()).WithFields(map[string]any{
				"request_id": id,
				"method":     req.Method,
				"route":      c.Path(),
				"status":     res.Status,
				"duration":   time.Since(start).String(),
			}).Debugf("%s %s", req.Method, req.URL.Path)
			return nil
		}
	}
}

// apiKey rejects requests whose x-api-key header does not match key. An empty key disables the check.
func apiKey(key string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if key != "" && c.Request().Header.Get(crm.APIKeyHeader) != key {
				return httperror.NewHTTPError(http.StatusUnauthorized, "invalid api key")
			}
			return next(c)
		}
	}
}

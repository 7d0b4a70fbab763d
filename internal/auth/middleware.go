package auth

import (
	"bytes"
	"errors"
	"io"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/TobiSchelling/feedrank/internal/apperrors"
)

// MaxBodyBytes bounds the body read for signature checks.
const MaxBodyBytes = 1 << 20

// Middleware rejects requests that fail v.Verify with an unauthorized
// error. The body is restored for the next handler. onReject, if set, is
// called with the failure reason.
func Middleware(v *Verifier, skipper middleware.Skipper, onReject func(reason string)) echo.MiddlewareFunc {
	if skipper == nil {
		skipper = middleware.DefaultSkipper
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skipper(c) {
				return next(c)
			}

			req := c.Request()
			body, err := io.ReadAll(io.LimitReader(req.Body, MaxBodyBytes+1))
			if err != nil {
				return apperrors.ValidationError("unreadable body")
			}
			if len(body) > MaxBodyBytes {
				return apperrors.ValidationError("body too large")
			}
			req.Body = io.NopCloser(bytes.NewReader(body))

			err = v.Verify(req.Header.Get(HeaderTimestamp), req.Header.Get(HeaderSignature), req.Header.Get(HeaderNonce), body)
			if err != nil {
				reason := Reason(err)
				if onReject != nil {
					onReject(reason)
				}
				return apperrors.UnauthorizedError("invalid signature").WithContext("reason", reason)
			}
			return next(c)
		}
	}
}

// Reason returns a short label for a verification error.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrMissingHeaders):
		return "missing_headers"
	case errors.Is(err, ErrBadTimestamp):
		return "bad_timestamp"
	case errors.Is(err, ErrClockSkew):
		return "clock_skew"
	case errors.Is(err, ErrMissingNonce):
		return "missing_nonce"
	case errors.Is(err, ErrReplay):
		return "replay"
	default:
		return "bad_signature"
	}
}

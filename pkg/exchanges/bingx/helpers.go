package bingx

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"signal-core/pkg/exchanges/common"
)

// codeNoPosition is returned when closing a position that no longer exists.
const codeNoPosition = 101205

func sign(data, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// APIError carries everything known about a failed exchange call.
type APIError struct {
	Method     string
	Path       string
	Params     string
	HTTPStatus int
	Code       int
	Msg        string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bingx swap %s %s status=%d code=%d msg=%q params=%s body=%s",
		e.Method, e.Path, e.HTTPStatus, e.Code, e.Msg, e.Params, e.Body)
}

// Is lets errors.Is(err, common.ErrNoPosition) match the venue's
// "no position to close" response.
func (e *APIError) Is(target error) bool {
	return target == common.ErrNoPosition && e.noPosition()
}

func (e *APIError) noPosition() bool {
	if e.Code == codeNoPosition {
		return true
	}
	return strings.Contains(strings.ToLower(e.Msg), "no position")
}

// IsNoPosition reports whether err means there was nothing to close.
func IsNoPosition(err error) bool {
	return errors.Is(err, common.ErrNoPosition)
}

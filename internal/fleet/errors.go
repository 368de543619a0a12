package fleet

import (
	"net/http"

	"github.com/xolohq/xolo/internal/xoloerr"
)

// Transport and HTTP-status failures from the Fleet client surface as one
// of these three kinds, or as InvalidData for any other 4xx, wrapping the
// taxonomy in internal/xoloerr — mirrors
// internal/catalog/errors.go.

func unavailablef(format string, args ...interface{}) error {
	return xoloerr.Unavailablef("fleet: "+format, args...)
}

func conflictf(format string, args ...interface{}) error {
	return xoloerr.AlreadyExistsf("fleet: "+format, args...)
}

func notFoundf(format string, args ...interface{}) error {
	return xoloerr.NotFoundf("fleet: "+format, args...)
}

func classifyStatus(status int, body string) error {
	switch {
	case status == http.StatusNotFound:
		return notFoundf("%s", body)
	case status == http.StatusConflict:
		return conflictf("%s", body)
	case status >= 500 || status == http.StatusTooManyRequests:
		return unavailablef("upstream returned %d: %s", status, body)
	case status >= 400:
		return xoloerr.InvalidDataf("fleet rejected request (%d): %s", status, body)
	default:
		return nil
	}
}

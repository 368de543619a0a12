package catalog

import (
	"fmt"
	"net/http"

	"github.com/xolohq/xolo/internal/xoloerr"
)

// Transport and HTTP-status failures from the Catalog client surface as one
// of these three kinds, or as InvalidData for any other 4xx, wrapping the
// taxonomy in internal/xoloerr.

func unavailablef(format string, args ...interface{}) error {
	return xoloerr.Unavailablef("catalog: "+format, args...)
}

func conflictf(format string, args ...interface{}) error {
	return xoloerr.New(xoloerr.AlreadyExists, fmt.Sprintf("catalog: "+format, args...))
}

func notFoundf(format string, args ...interface{}) error {
	return xoloerr.NotFoundf("catalog: "+format, args...)
}

// classifyStatus maps an HTTP response status from the Catalog service onto
// Xolo's error taxonomy.
func classifyStatus(status int, body string) error {
	switch {
	case status == http.StatusNotFound:
		return notFoundf("%s", body)
	case status == http.StatusConflict:
		return conflictf("%s", body)
	case status >= 500 || status == http.StatusTooManyRequests:
		return unavailablef("upstream returned %d: %s", status, body)
	case status >= 400:
		return xoloerr.InvalidDataf("catalog rejected request (%d): %s", status, body)
	default:
		return nil
	}
}

package routes

import (
	"encoding/json"
	"net/http"

	"github.com/synaptica-ai/privacy-gateway/pkg/common/logger"
	"github.com/synaptica-ai/privacy-gateway/pkg/routing"
)

// StatusClientClosedRequest is reported when the caller went away mid-call.
const StatusClientClosedRequest = 499

func writeJSON(w http.ResponseWriter, data interface{}) {
	writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Log.WithError(err).Error("failed to write json response")
	}
}

func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func statusFor(err error) int {
	switch routing.KindOf(err) {
	case "":
		return http.StatusOK
	case routing.KindEmptyInput:
		return http.StatusBadRequest
	case routing.KindProviderNotConfigured:
		return http.StatusServiceUnavailable
	case routing.KindProviderFailure:
		return http.StatusBadGateway
	case routing.KindCancelled:
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

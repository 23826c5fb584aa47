package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/Clark-Hu/reel-ledger/internal/domain"
	"github.com/Clark-Hu/reel-ledger/internal/reconcile"
)

const maxRequestBody = 1 << 20 // 1 MiB

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	return nil
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			s.logger.WithError(err).Warn("failed to encode response")
		}
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, code, message string) {
	s.respondJSON(w, status, errorResponse{
		Code:    code,
		Message: message,
	})
}

func (s *Server) respondDecodeError(w http.ResponseWriter, err error) {
	var syntaxError *json.SyntaxError
	var typeError *json.UnmarshalTypeError
	var sizeError *http.MaxBytesError
	switch {
	case errors.As(err, &syntaxError):
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Malformed JSON payload")
	case errors.As(err, &typeError):
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", fmt.Sprintf("Invalid value for field %s", typeError.Field))
	case errors.As(err, &sizeError):
		s.respondError(w, http.StatusRequestEntityTooLarge, "VALIDATION_ERROR", "Request body too large")
	case errors.Is(err, io.EOF):
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Request body cannot be empty")
	default:
		s.respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Unable to parse request body")
	}
}

// statusFor maps a reason onto an HTTP status and envelope code.
func statusFor(reason domain.Reason) (int, string) {
	if reason == domain.ReasonNoIdentity {
		return http.StatusUnauthorized, "UNAUTHORIZED"
	}
	switch reconcile.KindOf(reason) {
	case reconcile.KindValidation:
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR"
	case reconcile.KindNotFound:
		return http.StatusNotFound, "NOT_FOUND"
	case reconcile.KindConnectivity:
		return http.StatusBadGateway, "UPSTREAM_UNAVAILABLE"
	default:
		return http.StatusConflict, "CONFLICT"
	}
}

// respondReason renders err in the error envelope. Errors that did not come from the
// reconcile layer are internal.
func (s *Server) respondReason(w http.ResponseWriter, err error) {
	var rerr *reconcile.Error
	if !errors.As(err, &rerr) {
		s.logger.WithError(err).Error("unhandled error")
		s.respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Something went wrong")
		return
	}
	status, code := statusFor(rerr.Reason)
	if status == http.StatusBadGateway {
		s.logger.WithError(err).WithField("reason", rerr.Reason).Warn("upstream failure")
	}
	s.respondJSON(w, status, errorResponse{
		Code:    code,
		Message: rerr.Message(),
		Reason:  string(rerr.Reason),
	})
}

func (s *Server) respondBadSubmitter(w http.ResponseWriter) {
	s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", SubmitterHeader+" must be a 0x-prefixed hex address")
}

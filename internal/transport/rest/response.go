package rest

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/heartmarshall/dictsync-backend/internal/domain"
)

// Version marker headers, set before any body is written.
const (
	headerVersion   = "X-Dictionary-Version"
	headerWordCount = "X-Dictionary-Word-Count"
	headerChecksum  = "X-Dictionary-Checksum"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

type errorResponse struct {
	Error  string       `json:"error"`
	Fields []fieldError `json:"fields,omitempty"`
}

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// statusFor maps a service error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyExists), errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrHistoryUnavailable):
		return http.StatusGone
	case errors.Is(err, domain.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

func (h *SyncHandler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.ErrorContext(r.Context(), "internal error",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, status, "internal server error")
		return
	}

	resp := errorResponse{Error: err.Error()}
	var vErr *domain.ValidationError
	if errors.As(err, &vErr) {
		resp.Error = "validation error"
		for _, fe := range vErr.Errors {
			resp.Fields = append(resp.Fields, fieldError{Field: fe.Field, Message: fe.Message})
		}
	}
	writeJSON(w, status, resp)
}

func setVersionHeaders(w http.ResponseWriter, v domain.DictionaryVersion) {
	w.Header().Set(headerVersion, strconv.FormatInt(v.Number, 10))
	w.Header().Set(headerWordCount, strconv.Itoa(v.WordCount))
	if v.Checksum != "" {
		w.Header().Set(headerChecksum, v.Checksum)
	}
}

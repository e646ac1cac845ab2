package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	fdd "ahu-fdd/internal/fdd/domain"
)

const timeLayout = time.RFC3339

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, fdd.ErrUnknownEquipment):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, fdd.ErrDuplicateEquipment):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, fdd.ErrUnknownSignal), errors.Is(err, fdd.ErrUnknownRule), errors.Is(err, errInvalidThreshold):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// parseOptionalTime returns the zero time when the key is absent.
func parseOptionalTime(r *http.Request, key string) (time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, errors.New(key + " must be RFC3339")
	}
	return parsed.UTC(), nil
}

func parseLimit(r *http.Request, fallback, max int) (int, error) {
	value := r.URL.Query().Get("limit")
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	if max > 0 && n > max {
		n = max
	}
	return n, nil
}

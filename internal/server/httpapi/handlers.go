// Package httpapi exposes the credential flows over HTTP. The handlers are
// deliberately thin: they decode JSON payloads, hand them to the dispatcher
// and translate the resulting errors to status codes. Authorization and
// diagnostic logging happen inside the dispatch chain, not here.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dkravtsov/authd/internal/common"
	"github.com/dkravtsov/authd/internal/server/dispatch"
	"github.com/dkravtsov/authd/internal/server/services"
)

type errorResponse struct {
	Error string `json:"error"`
}

type AuthHandler struct {
	dispatcher *dispatch.Dispatcher
}

func NewAuthHandler(d *dispatch.Dispatcher) *AuthHandler {
	return &AuthHandler{dispatcher: d}
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var params services.LoginParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeErrorStatus(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	h.dispatch(w, r, services.OpLogin, params)
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var params services.RefreshParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeErrorStatus(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	h.dispatch(w, r, services.OpRefresh, params)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var params services.LogoutParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeErrorStatus(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	h.dispatch(w, r, services.OpLogout, params)
}

func (h *AuthHandler) dispatch(w http.ResponseWriter, r *http.Request, op string, params any) {
	result, err := h.dispatcher.Dispatch(r.Context(), op, params)
	if err != nil {
		writeError(w, err)
		return
	}
	if result == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeErrorStatus(w, statusOf(err), err.Error())
}

func writeErrorStatus(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, common.ErrorBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrorUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, common.ErrorForbidden):
		return http.StatusForbidden
	case errors.Is(err, common.ErrorNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrorAlreadyExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

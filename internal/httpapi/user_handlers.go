package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/misaka10987/basileus/perm"
)

type createUserRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

type permissionsRequest struct {
	Permissions string `json:"permissions"`
}

type passwordRequest struct {
	Password string `json:"password"`
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !a.requireAdmin(w, r) {
			return
		}
		count, err := a.core.CountUsers(r.Context())
		if err != nil {
			handleCoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"count": count})
	case http.MethodPost:
		if !a.requireAdmin(w, r) {
			return
		}
		var req createUserRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.core.CreateUser(r.Context(), req.Name, req.Password); err != nil {
			handleCoreError(w, r, err)
			return
		}
		w.Header().Set("Location", fmt.Sprintf("/v1/users/%s", req.Name))
		writeJSON(w, http.StatusCreated, map[string]any{"name": req.Name})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleUserScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/users/")
	path = strings.Trim(path, "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	name := parts[0]
	switch {
	case len(parts) == 1:
		a.handleUser(w, r, name)
	case len(parts) == 2 && parts[1] == "permissions":
		a.handleUserPermissions(w, r, name)
	case len(parts) == 3 && parts[1] == "permissions":
		a.handleUserPermissionOp(w, r, name, parts[2])
	case len(parts) == 2 && parts[1] == "password":
		a.handleUserPassword(w, r, name)
	case len(parts) == 2 && parts[1] == "sessions":
		a.handleUserSessions(w, r, name)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleUser(w http.ResponseWriter, r *http.Request, name string) {
	switch r.Method {
	case http.MethodGet:
		if !a.requireSelfOrAdmin(w, r, name) {
			return
		}
		has, err := a.core.Users().HasPassword(r.Context(), name)
		if err != nil {
			handleCoreError(w, r, err)
			return
		}
		perms, err := a.core.Perms().Get(r.Context(), name)
		if err != nil {
			handleCoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"name":         name,
			"has_password": has,
			"permissions":  perms.String(),
		})
	case http.MethodDelete:
		if !a.requireAdmin(w, r) {
			return
		}
		if err := a.core.DeleteUser(r.Context(), name); err != nil {
			handleCoreError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

func (a *API) handleUserPermissions(w http.ResponseWriter, r *http.Request, name string) {
	switch r.Method {
	case http.MethodGet:
		if !a.requireSelfOrAdmin(w, r, name) {
			return
		}
		perms, err := a.core.Perms().Get(r.Context(), name)
		if err != nil {
			handleCoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"permissions": perms.String()})
	case http.MethodPut:
		if !a.requireAdmin(w, r) {
			return
		}
		var req permissionsRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.core.Perms().Set(r.Context(), name, perm.Parse(req.Permissions)); err != nil {
			handleCoreError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
	}
}

func (a *API) handleUserPermissionOp(w http.ResponseWriter, r *http.Request, name, op string) {
	switch op {
	case "give", "revoke":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		if !a.requireAdmin(w, r) {
			return
		}
		var req permissionsRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		var err error
		if op == "give" {
			err = a.core.Perms().Give(r.Context(), name, perm.Parse(req.Permissions))
		} else {
			err = a.core.Perms().Revoke(r.Context(), name, perm.Parse(req.Permissions))
		}
		if err != nil {
			handleCoreError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case "check":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		if !a.requireSelfOrAdmin(w, r, name) {
			return
		}
		required := perm.Parse(r.URL.Query().Get("require"))
		ok, err := a.core.Perms().Check(r.Context(), name, required)
		if err != nil {
			handleCoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": ok})
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleUserPassword(w http.ResponseWriter, r *http.Request, name string) {
	switch r.Method {
	case http.MethodPut:
		if !a.requireSelfOrAdmin(w, r, name) {
			return
		}
		var req passwordRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if req.Password == "" {
			writeError(w, r, http.StatusBadRequest, "password is required")
			return
		}
		if err := a.core.SetPassword(r.Context(), name, req.Password); err != nil {
			handleCoreError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		if !a.requireSelfOrAdmin(w, r, name) {
			return
		}
		if err := a.core.DeletePassword(r.Context(), name); err != nil {
			handleCoreError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodPut, http.MethodDelete)
	}
}

func (a *API) handleUserSessions(w http.ResponseWriter, r *http.Request, name string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if !a.requireSelfOrAdmin(w, r, name) {
		return
	}
	revoked := a.core.LogoutAll(r.Context(), name)
	writeJSON(w, http.StatusOK, map[string]any{"revoked": revoked})
}

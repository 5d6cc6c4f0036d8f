package httpapi

import (
	"net/http"

	"github.com/misaka10987/basileus/pkce"
)

type pkceAuthRequest struct {
	User                string `json:"user"`
	Password            string `json:"password"`
	CodeChallenge       string `json:"code_challenge"`
	CodeChallengeMethod string `json:"code_challenge_method"`
}

type pkceTokenRequest struct {
	Code         string `json:"code"`
	CodeVerifier string `json:"code_verifier"`
}

func (a *API) handlePKCEAuth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req pkceAuthRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.User == "" || req.CodeChallenge == "" {
		writeError(w, r, http.StatusBadRequest, "user and code_challenge are required")
		return
	}
	method := pkce.MethodS256
	if req.CodeChallengeMethod != "" {
		var err error
		method, err = pkce.ParseMethod(req.CodeChallengeMethod)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
	}

	code, err := a.core.PKCE().AuthRequest(r.Context(), req.User, req.Password, pkce.CodeChallenge{
		Method:    method,
		Challenge: req.CodeChallenge,
	})
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"code": code})
}

func (a *API) handlePKCEToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req pkceTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Code == "" || req.CodeVerifier == "" {
		writeError(w, r, http.StatusBadRequest, "code and code_verifier are required")
		return
	}

	token, err := a.core.PKCE().TokenRequest(r.Context(), req.Code, req.CodeVerifier)
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: token})
}

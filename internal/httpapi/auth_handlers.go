package httpapi

import (
	"net/http"
	"strings"
	"time"

	"tokendist.org/internal/audit"
)

type tokenRequest struct {
	Address string `json:"address"`
	// TTLSeconds overrides the issuer default when positive.
	TTLSeconds int64 `json:"ttl_seconds,omitempty"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	Address   string    `json:"address"`
	ExpiresAt time.Time `json:"expires_at"`
}

const maxTokenTTL = 24 * time.Hour

func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	address := strings.ToLower(strings.TrimSpace(req.Address))
	if address == "" {
		writeError(w, r, http.StatusBadRequest, "address is required")
		return
	}
	ttl := time.Duration(req.TTLSeconds) * time.Second
	if ttl < 0 || ttl > maxTokenTTL {
		writeError(w, r, http.StatusBadRequest, "ttl_seconds must be between 0 and 86400")
		return
	}

	token, expiresAt, err := a.issuer.GenerateToken(address, ttl)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	_ = audit.LogEvent(r.Context(), audit.EventTokenIssued, map[string]any{
		"address":    address,
		"expires_at": expiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		Address:   address,
		ExpiresAt: expiresAt,
	})
}

package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"tokendist.org/internal/audit"
	"tokendist.org/internal/sale"
)

type purchaseRequest struct {
	// Beneficiary defaults to the caller.
	Beneficiary string      `json:"beneficiary,omitempty"`
	Value       json.Number `json:"value"`
}

type paymentRequest struct {
	Value json.Number `json:"value"`
}

type limitRequest struct {
	Limit json.Number `json:"limit"`
}

func (a *API) saleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := a.sale.Status(r.Context())
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) purchase(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	var req purchaseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	value, err := parseAmount(req.Value, "value")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	beneficiary := strings.TrimSpace(req.Beneficiary)
	if beneficiary == "" {
		beneficiary = caller
	}

	p, err := a.sale.Purchase(r.Context(), caller, beneficiary, value)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	a.auditPurchase(r, p)
	writeJSON(w, http.StatusCreated, p)
}

// payment is a bare transfer into the sale: the caller buys for itself.
func (a *API) payment(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	var req paymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	value, err := parseAmount(req.Value, "value")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	p, err := a.sale.Receive(r.Context(), caller, value)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	a.auditPurchase(r, p)
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) auditPurchase(r *http.Request, p sale.Purchase) {
	_ = audit.LogEvent(r.Context(), audit.EventPurchase, map[string]any{
		"purchase_id": p.ID,
		"beneficiary": p.Beneficiary,
		"value":       p.Value.String(),
		"tokens":      p.Tokens.String(),
		"grant_ids":   p.GrantIDs,
	})
}

func (a *API) setLimit(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	var req limitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := parseAmount(req.Limit, "limit")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.sale.SetPurchaseLimit(r.Context(), caller, limit); err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventLimitChanged, map[string]any{"limit": limit.String()})
	writeJSON(w, http.StatusOK, map[string]any{"purchase_limit": limit})
}

func (a *API) withdrawTokens(w http.ResponseWriter, r *http.Request) {
	a.withdraw(w, r, a.sale.WithdrawTokens)
}

func (a *API) withdrawNative(w http.ResponseWriter, r *http.Request) {
	a.withdraw(w, r, a.sale.WithdrawNative)
}

func (a *API) withdraw(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, caller string) (sale.Withdrawal, error)) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	wd, err := fn(r.Context(), caller)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventWithdraw, map[string]any{
		"asset":          wd.Asset,
		"amount":         wd.Amount.String(),
		"transaction_id": wd.TransactionID,
	})
	writeJSON(w, http.StatusOK, wd)
}

func (a *API) contribution(w http.ResponseWriter, r *http.Request) {
	addr := strings.ToLower(strings.TrimSpace(r.PathValue("addr")))
	total, err := a.sale.Contribution(r.Context(), addr)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"beneficiary": addr,
		"contributed": total,
	})
}

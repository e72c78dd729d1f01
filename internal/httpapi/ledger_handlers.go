package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"tokendist.org/internal/ledger"
)

type listTransactionsResponse struct {
	Items     []ledger.Transaction `json:"items"`
	NextAfter uint64               `json:"next_after"`
	AsOf      time.Time            `json:"as_of"`
}

// getBalance returns one asset balance with ?asset=, or every balance of
// the account without it.
func (a *API) getBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := ledger.NormalizeAddress(r.PathValue("addr"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	asset := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("asset")))
	if asset == "" {
		acc, err := a.ledger.GetAccount(r.Context(), addr)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, acc)
		return
	}
	if len(asset) > 16 {
		writeError(w, r, http.StatusBadRequest, "asset code too long")
		return
	}

	mon, err := a.ledger.BalanceOf(r.Context(), addr, asset)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address": addr,
		"asset":   mon.Asset,
		"amount":  mon.Amount,
	})
}

func (a *API) listTransactions(w http.ResponseWriter, r *http.Request) {
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	afterParam := strings.TrimSpace(r.URL.Query().Get("after"))
	var after uint64
	if afterParam != "" {
		v, err := strconv.ParseUint(afterParam, 10, 64)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "after must be a non-negative integer")
			return
		}
		after = v
	}

	items, next, err := a.ledger.ListTransactions(r.Context(), limit, after)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if items == nil {
		items = []ledger.Transaction{}
	}

	writeJSON(w, http.StatusOK, listTransactionsResponse{
		Items:     items,
		NextAfter: next,
		AsOf:      a.clock.Now(),
	})
}

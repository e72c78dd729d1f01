package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"tokendist.org/internal/audit"
	"tokendist.org/internal/vesting"
)

type grantRequest struct {
	Beneficiary string      `json:"beneficiary"`
	Amount      json.Number `json:"amount"`
	Start       time.Time   `json:"start"`
	VestingDays uint32      `json:"vesting_days"`
}

type createGrantsRequest struct {
	Grants []grantRequest `json:"grants"`
}

type grantView struct {
	vesting.Grant
	End        time.Time       `json:"end"`
	Phase      vesting.Phase   `json:"phase"`
	Releasable decimal.Decimal `json:"releasable"`
	Claimable  decimal.Decimal `json:"claimable"`
	AsOf       time.Time       `json:"as_of"`
}

func viewOf(p vesting.Preview) grantView {
	return grantView{
		Grant:      p.Grant,
		End:        p.Grant.End(),
		Phase:      p.Phase,
		Releasable: p.Releasable,
		Claimable:  p.Claimable,
		AsOf:       p.At,
	}
}

func (a *API) createGrants(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	var req createGrantsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Grants) == 0 {
		writeError(w, r, http.StatusBadRequest, "grants must not be empty")
		return
	}
	if len(req.Grants) > 256 {
		writeError(w, r, http.StatusBadRequest, "at most 256 grants per request")
		return
	}

	reqs := make([]vesting.GrantRequest, 0, len(req.Grants))
	for _, g := range req.Grants {
		amt, err := parseAmount(g.Amount, "amount")
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if g.Start.IsZero() {
			writeError(w, r, http.StatusBadRequest, "start is required")
			return
		}
		reqs = append(reqs, vesting.GrantRequest{
			Beneficiary: g.Beneficiary,
			Amount:      amt,
			Start:       g.Start.UTC().Truncate(time.Second),
			VestingDays: g.VestingDays,
		})
	}

	ids, err := a.vault.CreateGrants(r.Context(), caller, reqs)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), audit.EventGrantCreated, map[string]any{
		"grant_ids": ids,
		"count":     len(ids),
	})
	if len(ids) == 1 {
		w.Header().Set("Location", "/v1/grants/"+strconv.FormatUint(ids[0], 10))
	}
	writeJSON(w, http.StatusCreated, map[string]any{"grant_ids": ids})
}

func (a *API) getGrant(w http.ResponseWriter, r *http.Request) {
	id, ok := grantID(w, r)
	if !ok {
		return
	}
	p, err := a.vault.Releasable(r.Context(), id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(p))
}

func (a *API) claimGrant(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	id, ok := grantID(w, r)
	if !ok {
		return
	}
	c, err := a.vault.Claim(r.Context(), caller, id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventClaim, map[string]any{
		"grant_id":       c.GrantID,
		"amount":         c.Amount.String(),
		"transaction_id": c.TransactionID,
	})
	writeJSON(w, http.StatusOK, c)
}

// listGrants returns every grant ever created for the beneficiary, fully
// claimed ones included, in creation order.
func (a *API) listGrants(w http.ResponseWriter, r *http.Request) {
	grants, err := a.vault.Grants(r.Context(), r.PathValue("addr"))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	now := a.clock.Now()
	views := make([]grantView, 0, len(grants))
	for _, g := range grants {
		views = append(views, viewOf(vesting.Preview{
			Grant:      g,
			Phase:      g.PhaseAt(now),
			Releasable: vesting.Releasable(g, now),
			Claimable:  vesting.Claimable(g, now),
			At:         now,
		}))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": views})
}

func (a *API) vaultInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"address":            a.vault.Address(),
		"asset":              a.vault.Asset(),
		"owner":              a.vault.Owner(),
		"authorized_creator": a.vault.AuthorizedCreator(),
	})
}

type creatorRequest struct {
	Creator string `json:"creator"`
}

func (a *API) changeCreator(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	var req creatorRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.vault.ChangeAuthorizedCreator(r.Context(), caller, req.Creator); err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventCreatorChanged, map[string]any{
		"creator": a.vault.AuthorizedCreator(),
	})
	writeJSON(w, http.StatusOK, map[string]any{"authorized_creator": a.vault.AuthorizedCreator()})
}

func grantID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "grant id must be a non-negative integer")
		return 0, false
	}
	return id, true
}

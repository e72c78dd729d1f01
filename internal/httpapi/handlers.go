package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tokendist.org/internal/auth"
	"tokendist.org/internal/clock"
	"tokendist.org/internal/ledger"
	"tokendist.org/internal/obs"
	"tokendist.org/internal/sale"
	"tokendist.org/internal/stream"
	"tokendist.org/internal/vesting"
)

const serviceName = "tokendist"

// ReadyProbe checks that the backing database answers.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Ledger is the read side of the asset ledger exposed over HTTP.
type Ledger interface {
	BalanceOf(ctx context.Context, addr, asset string) (ledger.Money, error)
	GetAccount(ctx context.Context, addr string) (ledger.Account, error)
	ListTransactions(ctx context.Context, limit int, afterSeq uint64) ([]ledger.Transaction, uint64, error)
}

// Vault is the vesting vault surface used by the grant routes.
type Vault interface {
	Address() string
	Asset() string
	Owner() string
	AuthorizedCreator() string
	ChangeAuthorizedCreator(ctx context.Context, caller, newCreator string) error
	CreateGrants(ctx context.Context, caller string, reqs []vesting.GrantRequest) ([]uint64, error)
	Claim(ctx context.Context, caller string, id uint64) (vesting.Claim, error)
	Releasable(ctx context.Context, id uint64) (vesting.Preview, error)
	Grants(ctx context.Context, beneficiary string) ([]vesting.Grant, error)
}

// Sale is the token sale surface used by the sale routes.
type Sale interface {
	Status(ctx context.Context) (sale.Status, error)
	Contribution(ctx context.Context, beneficiary string) (decimal.Decimal, error)
	Receive(ctx context.Context, sender string, value decimal.Decimal) (sale.Purchase, error)
	Purchase(ctx context.Context, sender, beneficiary string, value decimal.Decimal) (sale.Purchase, error)
	SetPurchaseLimit(ctx context.Context, caller string, limit decimal.Decimal) error
	WithdrawTokens(ctx context.Context, caller string) (sale.Withdrawal, error)
	WithdrawNative(ctx context.Context, caller string) (sale.Withdrawal, error)
}

// Deps wires the API to its services. Nil Vault or Sale disables the
// corresponding routes.
type Deps struct {
	Ready   ReadyProbe
	Version string
	Ledger  Ledger
	Vault   Vault
	Sale    Sale
	Stream  *stream.Stream
	Issuer  *auth.Issuer
	// Clock stamps views; it should be the clock the vault and sale read.
	Clock clock.Clock
	// IssueTokens exposes POST /v1/auth/token for development setups.
	IssueTokens   bool
	RateBurst     int
	RatePerSecond float64
}

// API is the HTTP layer.
type API struct {
	mux         *http.ServeMux
	readyProbe  ReadyProbe
	version     string
	ledger      Ledger
	vault       Vault
	sale        Sale
	stream      *stream.Stream
	issuer      *auth.Issuer
	issueTokens bool
	rateBurst   int
	ratePerSec  float64
	clock       clock.Clock
}

func New(d Deps) *API {
	a := &API{
		mux:         http.NewServeMux(),
		readyProbe:  d.Ready,
		version:     d.Version,
		ledger:      d.Ledger,
		vault:       d.Vault,
		sale:        d.Sale,
		stream:      d.Stream,
		issuer:      d.Issuer,
		issueTokens: d.IssueTokens,
		rateBurst:   d.RateBurst,
		ratePerSec:  d.RatePerSecond,
		clock:       d.Clock,
	}
	if a.clock == nil {
		a.clock = clock.System{}
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 50
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 25
	}

	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)
	a.mux.Handle("GET /metrics", obs.Handler())

	if a.issueTokens && a.issuer != nil {
		a.mux.HandleFunc("POST /v1/auth/token", a.handleAuthToken)
	}

	if a.ledger != nil {
		a.mux.HandleFunc("GET /v1/balances/{addr}", a.getBalance)
		a.mux.HandleFunc("GET /v1/ledger/transactions", a.listTransactions)
	}

	if a.vault != nil {
		a.mux.HandleFunc("POST /v1/grants", a.createGrants)
		a.mux.HandleFunc("GET /v1/grants/{id}", a.getGrant)
		a.mux.HandleFunc("POST /v1/grants/{id}/claim", a.claimGrant)
		a.mux.HandleFunc("GET /v1/beneficiaries/{addr}/grants", a.listGrants)
		a.mux.HandleFunc("GET /v1/vault", a.vaultInfo)
		a.mux.HandleFunc("PUT /v1/vault/creator", a.changeCreator)
	}

	if a.sale != nil {
		a.mux.HandleFunc("GET /v1/sale", a.saleStatus)
		a.mux.HandleFunc("POST /v1/sale/purchases", a.purchase)
		a.mux.HandleFunc("POST /v1/sale/payments", a.payment)
		a.mux.HandleFunc("PUT /v1/sale/limit", a.setLimit)
		a.mux.HandleFunc("POST /v1/sale/withdrawals/tokens", a.withdrawTokens)
		a.mux.HandleFunc("POST /v1/sale/withdrawals/native", a.withdrawNative)
		a.mux.HandleFunc("GET /v1/sale/contributions/{addr}", a.contribution)
	}

	a.mux.HandleFunc("GET /v1/events", a.Stream)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})

	return a
}

// Handler returns the mux wrapped in the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"name":    serviceName,
		"time":    a.clock.Now().Format(time.RFC3339),
		"version": a.version,
	}
	if a.vault != nil {
		info["vault"] = a.vault.Address()
		info["token_asset"] = a.vault.Asset()
	}
	writeJSON(w, http.StatusOK, info)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleDomainError maps service sentinels onto HTTP status codes.
func handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidAsset),
		errors.Is(err, ledger.ErrInvalidAddress),
		errors.Is(err, ledger.ErrEmptyBatch),
		errors.Is(err, vesting.ErrInvalidAmount),
		errors.Is(err, vesting.ErrInvalidBeneficiary),
		errors.Is(err, vesting.ErrEmptyBatch),
		errors.Is(err, sale.ErrZeroPayment),
		errors.Is(err, sale.ErrPaymentTooSmall),
		errors.Is(err, sale.ErrInvalidLimit),
		errors.Is(err, sale.ErrInvalidRecipient):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, vesting.ErrUnauthorized), errors.Is(err, sale.ErrUnauthorized):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, vesting.ErrGrantNotFound), errors.Is(err, ledger.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrInsufficientAllowance),
		errors.Is(err, vesting.ErrNothingToClaim),
		errors.Is(err, vesting.ErrClaimConflict),
		errors.Is(err, sale.ErrSaleClosed),
		errors.Is(err, sale.ErrSaleOpen),
		errors.Is(err, sale.ErrPurchaseLimit),
		errors.Is(err, sale.ErrSoldOut):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		obs.LogEvent("error", "request_failed", map[string]any{
			"request_id": RequestIDFromContext(r.Context()),
			"path":       r.URL.Path,
			"error":      err.Error(),
		})
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

// parseAmount accepts a JSON string or number holding a whole unit count.
func parseAmount(raw json.Number, field string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw.String())
	if s == "" {
		return decimal.Zero, errors.New(field + " is required")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.New(field + " must be a decimal integer")
	}
	return d, nil
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New("limit must be between 1 and 1000")
	}
	return val, nil
}

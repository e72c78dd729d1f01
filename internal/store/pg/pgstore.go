package pg

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"tokendist.org/internal/ids"
	"tokendist.org/internal/ledger"
)

// Open connects to Postgres through the pgx stdlib driver.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// LedgerStore is the Postgres asset ledger. Balances are NUMERIC(78,0).
type LedgerStore struct {
	db *sql.DB
}

var _ ledger.Service = (*LedgerStore)(nil)

func NewLedgerStore(db *sql.DB) *LedgerStore { return &LedgerStore{db: db} }

func (s *LedgerStore) DB() *sql.DB { return s.db }

func (s *LedgerStore) Mint(ctx context.Context, to string, amt ledger.Money) (ledger.Transaction, error) {
	if !ledger.ValidAmount(amt.Amount) {
		return ledger.Transaction{}, ledger.ErrInvalidAmount
	}
	asset := strings.ToUpper(strings.TrimSpace(amt.Asset))
	if asset == "" {
		return ledger.Transaction{}, ledger.ErrInvalidAsset
	}
	addr, err := ledger.NormalizeAddress(to)
	if err != nil {
		return ledger.Transaction{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Transaction{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into ledger_balances(address, asset, amount)
		values ($1,$2,$3)
		on conflict (address, asset) do update
		set amount = ledger_balances.amount + excluded.amount, updated_at = now()
	`, addr, asset, amt.Amount); err != nil {
		return ledger.Transaction{}, err
	}
	out, err := insertTx(ctx, tx, "", addr, asset, amt.Amount, "")
	if err != nil {
		return ledger.Transaction{}, err
	}
	if err := tx.Commit(); err != nil {
		return ledger.Transaction{}, err
	}
	return out, nil
}

func (s *LedgerStore) GetAccount(ctx context.Context, addr string) (ledger.Account, error) {
	addr, err := ledger.NormalizeAddress(addr)
	if err != nil {
		return ledger.Account{}, err
	}
	rows, err := s.db.QueryContext(ctx, `select asset, amount from ledger_balances where address=$1`, addr)
	if err != nil {
		return ledger.Account{}, err
	}
	defer rows.Close()

	bals := map[string]decimal.Decimal{}
	for rows.Next() {
		var a string
		var amt decimal.Decimal
		if err := rows.Scan(&a, &amt); err != nil {
			return ledger.Account{}, err
		}
		bals[a] = amt
	}
	if err := rows.Err(); err != nil {
		return ledger.Account{}, err
	}
	if len(bals) == 0 {
		return ledger.Account{}, ledger.ErrNotFound
	}
	return ledger.Account{Address: addr, Balances: bals}, nil
}

func (s *LedgerStore) BalanceOf(ctx context.Context, addr, asset string) (ledger.Money, error) {
	addr, err := ledger.NormalizeAddress(addr)
	if err != nil {
		return ledger.Money{}, err
	}
	asset = strings.ToUpper(strings.TrimSpace(asset))
	if asset == "" {
		return ledger.Money{}, ledger.ErrInvalidAsset
	}
	var amt decimal.Decimal
	err = s.db.QueryRowContext(ctx, `
		select coalesce((select amount from ledger_balances where address=$1 and asset=$2), 0)
	`, addr, asset).Scan(&amt)
	if err != nil {
		return ledger.Money{}, err
	}
	return ledger.Money{Asset: asset, Amount: amt}, nil
}

func (s *LedgerStore) Transfer(ctx context.Context, from, to string, amt ledger.Money, idemKey string) (ledger.Transaction, error) {
	txs, err := s.Apply(ctx, []ledger.Leg{{From: from, To: to, Money: amt}}, idemKey)
	if err != nil {
		return ledger.Transaction{}, err
	}
	return txs[0], nil
}

// Apply moves every leg inside one serializable transaction.
func (s *LedgerStore) Apply(ctx context.Context, legs []ledger.Leg, idemKey string) ([]ledger.Transaction, error) {
	if len(legs) == 0 {
		return nil, ledger.ErrEmptyBatch
	}
	norm := make([]ledger.Leg, len(legs))
	for i, l := range legs {
		v, err := ledger.NormalizeLeg(l)
		if err != nil {
			return nil, err
		}
		norm[i] = v
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	// Idempotency: return the recorded batch if idemKey was already used
	if idemKey != "" {
		prior, err := txsByKey(ctx, tx, idemKey)
		if err != nil {
			return nil, err
		}
		if len(prior) > 0 {
			return prior, nil
		}
	}

	out, err := applyLegs(ctx, tx, norm, idemKey)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *LedgerStore) Approve(ctx context.Context, owner, spender string, amt ledger.Money) error {
	owner, err := ledger.NormalizeAddress(owner)
	if err != nil {
		return err
	}
	spender, err = ledger.NormalizeAddress(spender)
	if err != nil {
		return err
	}
	asset := strings.ToUpper(strings.TrimSpace(amt.Asset))
	if asset == "" {
		return ledger.ErrInvalidAsset
	}
	if amt.Amount.IsNegative() || !amt.Amount.IsInteger() {
		return ledger.ErrInvalidAmount
	}
	_, err = s.db.ExecContext(ctx, `
		insert into ledger_allowances(owner, spender, asset, amount)
		values ($1,$2,$3,$4)
		on conflict (owner, spender, asset) do update set amount = excluded.amount
	`, owner, spender, asset, amt.Amount)
	return err
}

func (s *LedgerStore) Allowance(ctx context.Context, owner, spender, asset string) (ledger.Money, error) {
	owner, err := ledger.NormalizeAddress(owner)
	if err != nil {
		return ledger.Money{}, err
	}
	spender, err = ledger.NormalizeAddress(spender)
	if err != nil {
		return ledger.Money{}, err
	}
	asset = strings.ToUpper(strings.TrimSpace(asset))
	var amt decimal.Decimal
	if err := s.db.QueryRowContext(ctx, `
		select coalesce((select amount from ledger_allowances where owner=$1 and spender=$2 and asset=$3), 0)
	`, owner, spender, asset).Scan(&amt); err != nil {
		return ledger.Money{}, err
	}
	return ledger.Money{Asset: asset, Amount: amt}, nil
}

func (s *LedgerStore) TransferFrom(ctx context.Context, spender, from, to string, amt ledger.Money, idemKey string) (ledger.Transaction, error) {
	leg, err := ledger.NormalizeLeg(ledger.Leg{From: from, To: to, Money: amt})
	if err != nil {
		return ledger.Transaction{}, err
	}
	spender, err = ledger.NormalizeAddress(spender)
	if err != nil {
		return ledger.Transaction{}, err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return ledger.Transaction{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if idemKey != "" {
		prior, err := txsByKey(ctx, tx, idemKey)
		if err != nil {
			return ledger.Transaction{}, err
		}
		if len(prior) > 0 {
			return prior[0], nil
		}
	}

	var allowed decimal.Decimal
	err = tx.QueryRowContext(ctx, `
		select amount from ledger_allowances where owner=$1 and spender=$2 and asset=$3 for update
	`, leg.From, spender, leg.Money.Asset).Scan(&allowed)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && allowed.LessThan(leg.Money.Amount)) {
		return ledger.Transaction{}, ledger.ErrInsufficientAllowance
	}
	if err != nil {
		return ledger.Transaction{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		update ledger_allowances set amount = amount - $4 where owner=$1 and spender=$2 and asset=$3
	`, leg.From, spender, leg.Money.Asset, leg.Money.Amount); err != nil {
		return ledger.Transaction{}, err
	}

	out, err := applyLegs(ctx, tx, []ledger.Leg{leg}, idemKey)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if err := tx.Commit(); err != nil {
		return ledger.Transaction{}, err
	}
	return out[0], nil
}

func (s *LedgerStore) ListTransactions(ctx context.Context, limit int, afterSeq uint64) ([]ledger.Transaction, uint64, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, created_at, coalesce(from_address,''), to_address, asset, amount, sequence, coalesce(idempotency_key,'')
		from ledger_transactions
		where sequence > $1
		order by sequence asc
		limit $2
	`, afterSeq, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	res, err := scanTxs(rows)
	if err != nil {
		return nil, 0, err
	}
	var last uint64
	if len(res) > 0 {
		last = res[len(res)-1].Sequence
	}
	return res, last, nil
}

// --- helpers ---

type balanceKey struct{ address, asset string }

// applyLegs locks every touched balance row in a stable order, dry-runs the
// batch and then writes final balances and transaction rows.
func applyLegs(ctx context.Context, tx *sql.Tx, legs []ledger.Leg, idemKey string) ([]ledger.Transaction, error) {
	seen := map[balanceKey]bool{}
	var keys []balanceKey
	for _, l := range legs {
		for _, k := range []balanceKey{{l.From, l.Money.Asset}, {l.To, l.Money.Asset}} {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sorted(keys)

	bals := make(map[balanceKey]decimal.Decimal, len(keys))
	for _, k := range keys {
		if _, err := tx.ExecContext(ctx, `
			insert into ledger_balances(address, asset, amount)
			values ($1,$2,0) on conflict do nothing
		`, k.address, k.asset); err != nil {
			return nil, err
		}
		var amt decimal.Decimal
		if err := tx.QueryRowContext(ctx, `
			select amount from ledger_balances where address=$1 and asset=$2 for update
		`, k.address, k.asset).Scan(&amt); err != nil {
			return nil, err
		}
		bals[k] = amt
	}

	for _, l := range legs {
		fk, tk := balanceKey{l.From, l.Money.Asset}, balanceKey{l.To, l.Money.Asset}
		if bals[fk].LessThan(l.Money.Amount) {
			return nil, ledger.ErrInsufficientFunds
		}
		bals[fk] = bals[fk].Sub(l.Money.Amount)
		bals[tk] = bals[tk].Add(l.Money.Amount)
	}

	for _, k := range keys {
		if _, err := tx.ExecContext(ctx, `
			update ledger_balances set amount = $3, updated_at = now()
			where address=$1 and asset=$2
		`, k.address, k.asset, bals[k]); err != nil {
			return nil, err
		}
	}

	out := make([]ledger.Transaction, 0, len(legs))
	for _, l := range legs {
		t, err := insertTx(ctx, tx, l.From, l.To, l.Money.Asset, l.Money.Amount, idemKey)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func insertTx(ctx context.Context, tx *sql.Tx, from, to, asset string, amt decimal.Decimal, idemKey string) (ledger.Transaction, error) {
	t := ledger.Transaction{
		ID:             ids.WithPrefix("tx"),
		From:           from,
		To:             to,
		Asset:          asset,
		Amount:         amt,
		IdempotencyKey: idemKey,
	}
	if err := tx.QueryRowContext(ctx, `
		insert into ledger_transactions(id, from_address, to_address, asset, amount, idempotency_key)
		values ($1,nullif($2,''),$3,$4,$5,nullif($6,'')) returning sequence, created_at
	`, t.ID, from, to, asset, amt, idemKey).Scan(&t.Sequence, &t.CreatedAt); err != nil {
		return ledger.Transaction{}, err
	}
	t.CreatedAt = t.CreatedAt.UTC()
	return t, nil
}

func txsByKey(ctx context.Context, tx *sql.Tx, idemKey string) ([]ledger.Transaction, error) {
	rows, err := tx.QueryContext(ctx, `
		select id, created_at, coalesce(from_address,''), to_address, asset, amount, sequence, coalesce(idempotency_key,'')
		from ledger_transactions where idempotency_key=$1 order by sequence asc
	`, idemKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTxs(rows)
}

func scanTxs(rows *sql.Rows) ([]ledger.Transaction, error) {
	var res []ledger.Transaction
	for rows.Next() {
		var t ledger.Transaction
		if err := rows.Scan(&t.ID, &t.CreatedAt, &t.From, &t.To, &t.Asset, &t.Amount, &t.Sequence, &t.IdempotencyKey); err != nil {
			return nil, err
		}
		t.CreatedAt = t.CreatedAt.UTC()
		res = append(res, t)
	}
	return res, rows.Err()
}

func sorted(keys []balanceKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].address != keys[j].address {
			return keys[i].address < keys[j].address
		}
		return keys[i].asset < keys[j].asset
	})
}

package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"tokendist.org/internal/sale"
)

const purchaseLimitSetting = "purchase_limit"

// SaleStore keeps the purchase ledger and the mutable purchase limit.
type SaleStore struct {
	db *sql.DB
}

var _ sale.Store = (*SaleStore)(nil)

func NewSaleStore(db *sql.DB) *SaleStore { return &SaleStore{db: db} }

func (s *SaleStore) Contribution(ctx context.Context, beneficiary string) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := s.db.QueryRowContext(ctx, `select total from sale_contributions where beneficiary=$1`, beneficiary).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, nil
	}
	return total, err
}

func (s *SaleStore) SetContribution(ctx context.Context, beneficiary string, total decimal.Decimal) error {
	if total.IsZero() {
		_, err := s.db.ExecContext(ctx, `delete from sale_contributions where beneficiary=$1`, beneficiary)
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		insert into sale_contributions(beneficiary, total)
		values ($1,$2)
		on conflict (beneficiary) do update set total = excluded.total, updated_at = now()
	`, beneficiary, total)
	return err
}

func (s *SaleStore) Limit(ctx context.Context) (decimal.Decimal, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `select value from sale_settings where name=$1`, purchaseLimitSetting).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	limit, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("stored purchase limit %q: %w", raw, err)
	}
	return limit, true, nil
}

func (s *SaleStore) SaveLimit(ctx context.Context, limit decimal.Decimal) error {
	_, err := s.db.ExecContext(ctx, `
		insert into sale_settings(name, value)
		values ($1,$2)
		on conflict (name) do update set value = excluded.value, updated_at = now()
	`, purchaseLimitSetting, limit.String())
	return err
}

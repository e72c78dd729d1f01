package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"tokendist.org/internal/vesting"
)

// GrantStore keeps the vesting arena in the vesting_grants table.
type GrantStore struct {
	db *sql.DB
}

var _ vesting.Store = (*GrantStore)(nil)

func NewGrantStore(db *sql.DB) *GrantStore { return &GrantStore{db: db} }

// Append locks the table so concurrent writers cannot hand out the same id.
func (s *GrantStore) Append(ctx context.Context, grants []vesting.Grant) ([]uint64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `lock table vesting_grants in share row exclusive mode`); err != nil {
		return nil, err
	}
	var next uint64
	if err := tx.QueryRowContext(ctx, `select coalesce(max(id) + 1, 0) from vesting_grants`).Scan(&next); err != nil {
		return nil, err
	}

	out := make([]uint64, 0, len(grants))
	for _, g := range grants {
		if _, err := tx.ExecContext(ctx, `
			insert into vesting_grants(id, beneficiary, amount, start_at, vesting_days, total_claimed)
			values ($1,$2,$3,$4,$5,$6)
		`, next, g.Beneficiary, g.Amount, g.Start.UTC(), int64(g.VestingDays), g.TotalClaimed); err != nil {
			return nil, err
		}
		out = append(out, next)
		next++
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GrantStore) Get(ctx context.Context, id uint64) (vesting.Grant, error) {
	var (
		g     vesting.Grant
		start time.Time
		days  int64
	)
	err := s.db.QueryRowContext(ctx, `
		select id, beneficiary, amount, start_at, vesting_days, total_claimed
		from vesting_grants where id=$1
	`, id).Scan(&g.ID, &g.Beneficiary, &g.Amount, &start, &days, &g.TotalClaimed)
	if errors.Is(err, sql.ErrNoRows) {
		return vesting.Grant{}, vesting.ErrGrantNotFound
	}
	if err != nil {
		return vesting.Grant{}, err
	}
	g.Start = start.UTC()
	g.VestingDays = uint32(days)
	return g, nil
}

// SetClaimed only updates a row still holding prev, so two replicas claiming
// the same grant cannot both pay out.
func (s *GrantStore) SetClaimed(ctx context.Context, id uint64, prev, total decimal.Decimal) error {
	res, err := s.db.ExecContext(ctx, `update vesting_grants set total_claimed=$3 where id=$1 and total_claimed=$2`, id, prev, total)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, `select exists(select 1 from vesting_grants where id=$1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return vesting.ErrGrantNotFound
	}
	return vesting.ErrClaimConflict
}

func (s *GrantStore) IDsFor(ctx context.Context, beneficiary string) ([]uint64, error) {
	rows, err := s.db.QueryContext(ctx, `select id from vesting_grants where beneficiary=$1 order by id asc`, beneficiary)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []uint64{}
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

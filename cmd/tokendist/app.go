package main

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"tokendist.org/internal/auth"
	"tokendist.org/internal/clock"
	"tokendist.org/internal/config"
	"tokendist.org/internal/ledger"
	"tokendist.org/internal/migrate"
	"tokendist.org/internal/sale"
	"tokendist.org/internal/store/pg"
	"tokendist.org/internal/stream"
	"tokendist.org/internal/vesting"
)

// app holds the wired components behind both transports.
type app struct {
	cfg    config.Config
	db     *sql.DB
	ledger ledger.Service
	vault  *vesting.Vault
	sale   *sale.Sale
	stream *stream.Stream
	issuer *auth.Issuer
	clock  clock.Clock
}

func buildApp(ctx context.Context, cfg config.Config, c clock.Clock) (*app, error) {
	a := &app{cfg: cfg, clock: c, stream: stream.New()}

	var (
		grants   vesting.Store
		saleData sale.Store
	)
	if cfg.UsesPostgres() {
		db, err := pg.Open(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open db: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ping db: %w", err)
		}
		if _, err := migrate.NewManager(db).Up(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		a.db = db
		a.ledger = pg.NewLedgerStore(db)
		grants = pg.NewGrantStore(db)
		saleData = pg.NewSaleStore(db)
	} else {
		a.ledger = ledger.NewInMemory()
		grants = vesting.NewMemoryStore()
		saleData = sale.NewMemoryStore()
	}

	if err := seedLedger(ctx, a.ledger, cfg); err != nil {
		a.close()
		return nil, err
	}

	v, err := vesting.New(vesting.Config{
		Address: cfg.Vault.Address,
		Asset:   cfg.TokenAsset,
		Owner:   cfg.Vault.Owner,
	}, grants, a.ledger, c)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("vault: %w", err)
	}
	// The creator role is not persisted; hand it to the sale on every boot.
	if err := v.ChangeAuthorizedCreator(ctx, cfg.Vault.Owner, cfg.Sale.Address); err != nil {
		a.close()
		return nil, fmt.Errorf("vault creator: %w", err)
	}

	s, err := sale.New(ctx, sale.Config{
		Address:     cfg.Sale.Address,
		Owner:       cfg.Sale.Owner,
		TokenAsset:  cfg.TokenAsset,
		NativeAsset: cfg.NativeAsset,
		Params:      cfg.Sale.Params,
	}, saleData, a.ledger, v, c)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("sale: %w", err)
	}
	v.SetPublisher(a.stream)
	s.SetPublisher(a.stream)
	a.vault, a.sale = v, s

	iss, err := auth.NewIssuer(cfg.Auth.Secret, auth.WithTTL(cfg.Auth.TokenTTL), auth.WithClock(c.Now))
	if err != nil {
		a.close()
		return nil, fmt.Errorf("issuer: %w", err)
	}
	a.issuer = iss
	return a, nil
}

// seedLedger mints the sale allocation and native genesis balances, but only
// into a ledger that has never recorded a transaction.
func seedLedger(ctx context.Context, l ledger.Service, cfg config.Config) error {
	txs, _, err := l.ListTransactions(ctx, 1, 0)
	if err != nil {
		return fmt.Errorf("inspect ledger: %w", err)
	}
	if len(txs) > 0 {
		return nil
	}
	if cfg.Sale.Allocation.IsPositive() {
		if _, err := l.Mint(ctx, cfg.Sale.Address, ledger.Money{Asset: cfg.TokenAsset, Amount: cfg.Sale.Allocation}); err != nil {
			return fmt.Errorf("mint allocation: %w", err)
		}
	}
	addrs := make([]string, 0, len(cfg.Genesis))
	for addr := range cfg.Genesis {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	for _, addr := range addrs {
		if _, err := l.Mint(ctx, addr, ledger.Money{Asset: cfg.NativeAsset, Amount: cfg.Genesis[addr]}); err != nil {
			return fmt.Errorf("mint genesis %s: %w", addr, err)
		}
	}
	return nil
}

func (a *app) close() {
	if a.db != nil {
		_ = a.db.Close()
	}
}

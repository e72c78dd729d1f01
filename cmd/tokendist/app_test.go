package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"tokendist.org/internal/clock"
	"tokendist.org/internal/config"
	"tokendist.org/internal/ledger"
)

var bootTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	t.Setenv("TOKENDIST_AUTH_SECRET", "app-secret")
	t.Setenv("TOKENDIST_SALE_ALLOCATION", "1000000")
	t.Setenv("TOKENDIST_SALE_PURCHASE_LIMIT", "50")
	cfg, err := config.Load("", bootTime)
	require.NoError(t, err)
	cfg.Genesis = map[string]decimal.Decimal{"buyer": decimal.NewFromInt(20)}
	return cfg
}

func TestBuildAppWiresSaleToVault(t *testing.T) {
	ctx := context.Background()
	c := clock.NewManual(bootTime)
	a, err := buildApp(ctx, testConfig(t), c)
	require.NoError(t, err)
	defer a.close()

	require.Equal(t, "sale", a.vault.AuthorizedCreator())

	bal, err := a.ledger.BalanceOf(ctx, "sale", "TOKEN")
	require.NoError(t, err)
	require.Equal(t, "1000000", bal.Amount.String())
	bal, err = a.ledger.BalanceOf(ctx, "buyer", "WEI")
	require.NoError(t, err)
	require.Equal(t, "20", bal.Amount.String())

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	events := a.stream.Subscribe(sctx)
	p, err := a.sale.Purchase(ctx, "buyer", "buyer", decimal.NewFromInt(5))
	require.NoError(t, err)
	require.Equal(t, "1000", p.Tokens.String())
	require.Len(t, p.GrantIDs, 2)

	select {
	case evt := <-events:
		require.Equal(t, "grant_created", evt.Kind)
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}

	token, _, err := a.issuer.GenerateToken("Buyer", 0)
	require.NoError(t, err)
	claims, err := a.issuer.ParseAndValidate(token)
	require.NoError(t, err)
	require.Equal(t, "buyer", claims.Address())
}

func TestSeedLedgerSkipsUsedLedger(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewInMemory()
	_, err := l.Mint(ctx, "someone", ledger.NewMoney("WEI", 1))
	require.NoError(t, err)

	require.NoError(t, seedLedger(ctx, l, testConfig(t)))

	bal, err := l.BalanceOf(ctx, "sale", "TOKEN")
	require.NoError(t, err)
	require.True(t, bal.Amount.IsZero())
}

func TestPrintStatus(t *testing.T) {
	ctx := context.Background()
	a, err := buildApp(ctx, testConfig(t), clock.NewManual(bootTime.Add(time.Hour)))
	require.NoError(t, err)
	defer a.close()

	st, err := a.sale.Status(ctx)
	require.NoError(t, err)

	var buf bytes.Buffer
	printStatus(&buf, st)
	out := buf.String()
	require.Contains(t, out, "open")
	require.Contains(t, out, "1,000,000 TOKEN")
	require.Contains(t, out, "10% over 30 days, 90% over 60 more days")
	require.True(t, strings.Contains(out, "50 WEI per beneficiary"), out)
}

func TestDialTarget(t *testing.T) {
	require.Equal(t, "localhost:9090", dialTarget(":9090"))
	require.Equal(t, "rpc.internal:9090", dialTarget("rpc.internal:9090"))
}

// Command smoke-sale buys from a running tokendist over gRPC, checks that the
// purchase shows up as grants and in the sale balances, and claims the first
// grant with a claimable amount.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"

	"tokendist.org/internal/auth"
	"tokendist.org/internal/clock"
	"tokendist.org/internal/config"
	"tokendist.org/internal/rpc/remote"
	"tokendist.org/internal/sale"
	"tokendist.org/internal/vesting"
)

func main() {
	log.SetFlags(0)

	cfg, err := config.Load(os.Getenv("TOKENDIST_CONFIG"), clock.System{}.Now())
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	addr := os.Getenv("TOKENDIST_GRPC_TARGET")
	if addr == "" {
		addr = "localhost:9090"
	}
	buyer := os.Getenv("TOKENDIST_SMOKE_BUYER")
	if buyer == "" {
		buyer = "buyer"
	}

	iss, err := auth.NewIssuer(cfg.Auth.Secret)
	if err != nil {
		log.Fatalf("issuer: %v", err)
	}
	token, _, err := iss.GenerateToken(buyer, time.Minute)
	if err != nil {
		log.Fatalf("token: %v", err)
	}
	client, err := remote.Dial(addr, nil, remote.WithToken(token))
	if err != nil {
		log.Fatalf("dial tokendist at %s: %v", addr, err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Health(ctx); err != nil {
		log.Fatalf("health: %v", err)
	}
	before, err := client.Sale(ctx)
	if err != nil {
		log.Fatalf("sale status: %v", err)
	}
	if !before.Open {
		log.Fatalf("sale %s is not open", before.Address)
	}
	existing, err := client.ListGrants(ctx, "")
	if err != nil {
		log.Fatalf("list grants: %v", err)
	}

	value := decimal.NewFromInt(1)
	p, err := client.Purchase(ctx, "", value)
	switch {
	case errors.Is(err, sale.ErrPurchaseLimit):
		log.Fatalf("purchase: %s has no headroom under the limit of %s", buyer, before.Params.PurchaseLimit)
	case err != nil:
		log.Fatalf("purchase: %v", err)
	}

	after, err := client.Sale(ctx)
	if err != nil {
		log.Fatalf("sale status: %v", err)
	}
	grants, err := client.ListGrants(ctx, "")
	if err != nil {
		log.Fatalf("list grants: %v", err)
	}

	if want := len(existing) + len(p.GrantIDs); len(grants) != want {
		log.Fatalf("expected %d grants for %s, found %d", want, buyer, len(grants))
	}
	if !after.NativeBalance.Sub(before.NativeBalance).Equal(value) {
		log.Fatalf("native balance moved by %s, expected %s", after.NativeBalance.Sub(before.NativeBalance), value)
	}
	if !before.TokensLeft.Sub(after.TokensLeft).Equal(p.Tokens) {
		log.Fatalf("allocation moved by %s, expected %s", before.TokensLeft.Sub(after.TokensLeft), p.Tokens)
	}

	claimed := "no grant claimable yet"
	for _, g := range grants {
		if !g.Claimable.IsPositive() {
			continue
		}
		c, err := client.Claim(ctx, g.ID)
		if err != nil {
			log.Fatalf("claim grant %d: %v", g.ID, err)
		}
		if c.Amount.LessThan(g.Claimable) {
			log.Fatalf("claim grant %d released %s, preview said at least %s", g.ID, c.Amount, g.Claimable)
		}
		if _, err := client.Claim(ctx, g.ID); err != nil && !errors.Is(err, vesting.ErrNothingToClaim) {
			log.Fatalf("repeat claim grant %d: %v", g.ID, err)
		}
		claimed = fmt.Sprintf("claimed %s %s from grant %d", humanize.BigComma(c.Amount.BigInt()), after.TokenAsset, g.ID)
		break
	}

	fmt.Printf("✅ sale smoke test passed: %s bought %s %s in %d grants, %s; %s %s left\n",
		buyer,
		humanize.BigComma(p.Tokens.BigInt()), after.TokenAsset,
		len(p.GrantIDs),
		claimed,
		humanize.BigComma(after.TokensLeft.BigInt()), after.TokenAsset)
}

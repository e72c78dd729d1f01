package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
)

func TestTransferSuccessAndBalance(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	if _, err := s.Mint(ctx, "alice", NewMoney("TOKEN", 1000)); err != nil {
		t.Fatal(err)
	}

	_, err := s.Transfer(ctx, "alice", "bob", NewMoney("TOKEN", 600), "k1")
	if err != nil {
		t.Fatal(err)
	}
	ba, _ := s.BalanceOf(ctx, "alice", "TOKEN")
	bb, _ := s.BalanceOf(ctx, "bob", "TOKEN")

	if ba.Amount.IntPart() != 400 || bb.Amount.IntPart() != 600 {
		t.Fatalf("unexpected balances: a=%s b=%s", ba.Amount, bb.Amount)
	}
}

func TestInsufficientFunds(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	_, _ = s.Mint(ctx, "alice", NewMoney("TOKEN", 100))

	if _, err := s.Transfer(ctx, "alice", "bob", NewMoney("TOKEN", 200), "k2"); err != ErrInsufficientFunds {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestRejectsFractionalAmounts(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	_, _ = s.Mint(ctx, "alice", NewMoney("TOKEN", 100))

	half := Money{Asset: "TOKEN", Amount: decimal.RequireFromString("0.5")}
	if _, err := s.Transfer(ctx, "alice", "bob", half, ""); err != ErrInvalidAmount {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestIdempotency(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	_, _ = s.Mint(ctx, "alice", NewMoney("TOKEN", 1000))

	tx1, err := s.Transfer(ctx, "alice", "bob", NewMoney("TOKEN", 100), "same-key")
	if err != nil {
		t.Fatal(err)
	}
	tx2, err := s.Transfer(ctx, "alice", "bob", NewMoney("TOKEN", 100), "same-key")
	if err != nil {
		t.Fatal(err)
	}
	if tx1.ID != tx2.ID || tx1.Sequence != tx2.Sequence {
		t.Fatalf("idempotency violated: %#v != %#v", tx1, tx2)
	}
	bb, _ := s.BalanceOf(ctx, "bob", "TOKEN")
	if bb.Amount.IntPart() != 100 {
		t.Fatalf("replay moved funds twice: %s", bb.Amount)
	}
}

func TestApplyIsAllOrNothing(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	_, _ = s.Mint(ctx, "sale", NewMoney("TOKEN", 100))
	_, _ = s.Mint(ctx, "buyer", NewMoney("WEI", 5))

	legs := []Leg{
		{From: "buyer", To: "sale", Money: NewMoney("WEI", 5)},
		{From: "sale", To: "vault", Money: NewMoney("TOKEN", 60)},
		{From: "sale", To: "buyer", Money: NewMoney("TOKEN", 60)}, // overdraws sale
	}
	if _, err := s.Apply(ctx, legs, ""); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	for _, c := range []struct {
		addr, asset string
		want        int64
	}{
		{"buyer", "WEI", 5},
		{"sale", "TOKEN", 100},
		{"vault", "TOKEN", 0},
	} {
		got, _ := s.BalanceOf(ctx, c.addr, c.asset)
		if got.Amount.IntPart() != c.want {
			t.Fatalf("%s %s = %s, want %d", c.addr, c.asset, got.Amount, c.want)
		}
	}

	txs, err := s.Apply(ctx, legs[:2], "batch-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(txs) != 2 || txs[1].Sequence != txs[0].Sequence+1 {
		t.Fatalf("unexpected batch result: %#v", txs)
	}
}

func TestTransferFromConsumesAllowance(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	_, _ = s.Mint(ctx, "owner", NewMoney("TOKEN", 500))

	if _, err := s.TransferFrom(ctx, "sale", "owner", "sale", NewMoney("TOKEN", 10), ""); err != ErrInsufficientAllowance {
		t.Fatalf("expected ErrInsufficientAllowance, got %v", err)
	}
	if err := s.Approve(ctx, "owner", "sale", NewMoney("TOKEN", 300)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.TransferFrom(ctx, "sale", "owner", "sale", NewMoney("TOKEN", 200), ""); err != nil {
		t.Fatal(err)
	}
	left, _ := s.Allowance(ctx, "owner", "sale", "TOKEN")
	if left.Amount.IntPart() != 100 {
		t.Fatalf("unexpected allowance: %s", left.Amount)
	}
}

func TestConcurrentTransfers(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	_, _ = s.Mint(ctx, "alice", NewMoney("TOKEN", 10000))

	var wg sync.WaitGroup
	N := 50
	for i := 0; i < N; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = s.Transfer(ctx, "alice", "bob", NewMoney("TOKEN", 100), "")
		}(i)
	}
	wg.Wait()

	ba, _ := s.BalanceOf(ctx, "alice", "TOKEN")
	bb, _ := s.BalanceOf(ctx, "bob", "TOKEN")
	if ba.Amount.Add(bb.Amount).IntPart() != 10000 {
		t.Fatalf("conservation violated: a+b=%s", ba.Amount.Add(bb.Amount))
	}
}

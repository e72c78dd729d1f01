package rpc

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"tokendist.org/internal/auth"
	"tokendist.org/internal/ledger"
	"tokendist.org/internal/sale"
	"tokendist.org/internal/vesting"
)

type failingReadiness struct{}

func (failingReadiness) Check(context.Context) error { return errors.New("db down") }

func TestHealthReportsUnavailable(t *testing.T) {
	srv := NewServer(nil, nil, failingReadiness{}, "test", nil)
	_, err := srv.Health(context.Background(), nil)
	if status.Code(err) != codes.Unavailable {
		t.Fatalf("expected Unavailable, got %v", err)
	}

	srv = NewServer(nil, nil, nil, "test", nil)
	out, err := srv.Health(context.Background(), nil)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if out.GetFields()["status"].GetStringValue() != "ok" {
		t.Fatalf("unexpected health: %v", out)
	}
}

func TestGRPCErrorCodes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want codes.Code
	}{
		{vesting.ErrInvalidAmount, codes.InvalidArgument},
		{fmt.Errorf("purchase: %w", sale.ErrZeroPayment), codes.InvalidArgument},
		{vesting.ErrUnauthorized, codes.PermissionDenied},
		{sale.ErrUnauthorized, codes.PermissionDenied},
		{vesting.ErrGrantNotFound, codes.NotFound},
		{sale.ErrSaleClosed, codes.FailedPrecondition},
		{fmt.Errorf("pay claim: %w", ledger.ErrInsufficientFunds), codes.FailedPrecondition},
		{status.Error(codes.Unauthenticated, "nope"), codes.Unauthenticated},
		{errors.New("boom"), codes.Internal},
	}
	for _, tc := range cases {
		got := grpcError(tc.err)
		if status.Code(got) != tc.want {
			t.Fatalf("grpcError(%v) = %v, want %v", tc.err, status.Code(got), tc.want)
		}
	}
	if st, _ := status.FromError(grpcError(errors.New("secret detail"))); st.Message() != "internal error" {
		t.Fatalf("internal errors must not leak: %q", st.Message())
	}
}

func TestFieldParsing(t *testing.T) {
	req, err := structpb.NewStruct(map[string]any{"id": "7", "value": 3.0, "beneficiary": "  Bob "})
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	id, err := grantIDField(req)
	if err != nil || id != 7 {
		t.Fatalf("grantIDField = %d, %v", id, err)
	}
	v, err := amountField(req, "value")
	if err != nil || v.String() != "3" {
		t.Fatalf("amountField = %s, %v", v, err)
	}
	if got := stringField(req, "beneficiary"); got != "Bob" {
		t.Fatalf("stringField = %q", got)
	}

	bad, _ := structpb.NewStruct(map[string]any{"id": -1.0, "value": true})
	if _, err := grantIDField(bad); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
	if _, err := amountField(bad, "value"); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
	if _, err := amountField(bad, "missing"); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestBearerAuthInterceptor(t *testing.T) {
	iss, err := auth.NewIssuer("interceptor-secret")
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	intercept := BearerAuth(iss)

	var seen string
	handler := func(ctx context.Context, req any) (any, error) {
		seen, _ = auth.CallerFromContext(ctx)
		return "ok", nil
	}
	private := &grpc.UnaryServerInfo{FullMethod: "/" + ServiceName + "/Claim"}
	public := &grpc.UnaryServerInfo{FullMethod: "/" + ServiceName + "/Info"}

	if _, err := intercept(context.Background(), nil, public, handler); err != nil {
		t.Fatalf("public method rejected: %v", err)
	}

	_, err = intercept(context.Background(), nil, private, handler)
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}

	bad := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer junk"))
	if _, err := intercept(bad, nil, private, handler); status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}

	token, _, err := iss.GenerateToken("Carol", time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	good := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer "+token))
	if _, err := intercept(good, nil, private, handler); err != nil {
		t.Fatalf("valid token rejected: %v", err)
	}
	if seen != "carol" {
		t.Fatalf("unexpected caller %q", seen)
	}
}

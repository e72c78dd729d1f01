// Package rpc serves the distribution API over gRPC. Messages are
// google.protobuf.Struct values carrying the same JSON shapes as the HTTP API.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"tokendist.org/internal/auth"
	"tokendist.org/internal/clock"
	"tokendist.org/internal/ledger"
	"tokendist.org/internal/obs"
	"tokendist.org/internal/sale"
	"tokendist.org/internal/vesting"
)

const (
	ServiceName = "tokendist.v1.Distribution"
	serviceTag  = "tokendist"
)

// Readiness reports whether backing stores are reachable.
type Readiness interface {
	Check(ctx context.Context) error
}

// Vault is the vault surface exposed over gRPC.
type Vault interface {
	Releasable(ctx context.Context, id uint64) (vesting.Preview, error)
	Grants(ctx context.Context, beneficiary string) ([]vesting.Grant, error)
	Claim(ctx context.Context, caller string, id uint64) (vesting.Claim, error)
}

// Sale is the sale surface exposed over gRPC.
type Sale interface {
	Status(ctx context.Context) (sale.Status, error)
	Purchase(ctx context.Context, sender, beneficiary string, value decimal.Decimal) (sale.Purchase, error)
}

// DistributionServer is the service implemented by Server.
type DistributionServer interface {
	Info(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Health(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetGrant(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListGrants(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Claim(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Purchase(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Sale(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// Server implements DistributionServer on top of the vault and sale.
type Server struct {
	vault     Vault
	sale      Sale
	readiness Readiness
	version   string
	clock     clock.Clock
}

var _ DistributionServer = (*Server)(nil)

func NewServer(v Vault, s Sale, r Readiness, version string, c clock.Clock) *Server {
	if c == nil {
		c = clock.System{}
	}
	return &Server{vault: v, sale: s, readiness: r, version: version, clock: c}
}

func (s *Server) Info(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return toStruct(map[string]any{
		"name":    serviceTag,
		"version": s.version,
		"time":    s.clock.Now().Format(time.RFC3339),
	})
}

// Health evaluates readiness; failure is reported as Unavailable.
func (s *Server) Health(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if s.readiness != nil {
		if err := s.readiness.Check(ctx); err != nil {
			obs.SetReady(false)
			return nil, status.Errorf(codes.Unavailable, "not ready: %v", err)
		}
	}
	obs.SetReady(true)
	return toStruct(map[string]any{
		"status":  "ok",
		"service": serviceTag,
		"version": s.version,
	})
}

func (s *Server) GetGrant(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := grantIDField(req)
	if err != nil {
		return nil, err
	}
	p, err := s.vault.Releasable(ctx, id)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(previewView(p))
}

func (s *Server) ListGrants(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ben := stringField(req, "beneficiary")
	if ben == "" {
		ben, _ = auth.CallerFromContext(ctx)
	}
	grants, err := s.vault.Grants(ctx, ben)
	if err != nil {
		return nil, grpcError(err)
	}
	now := s.clock.Now()
	items := make([]any, 0, len(grants))
	for _, g := range grants {
		items = append(items, previewView(vesting.Preview{
			Grant:      g,
			Phase:      g.PhaseAt(now),
			Releasable: vesting.Releasable(g, now),
			Claimable:  vesting.Claimable(g, now),
			At:         now,
		}))
	}
	return toStruct(map[string]any{"items": items})
}

func (s *Server) Claim(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	caller, ok := auth.CallerFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}
	id, err := grantIDField(req)
	if err != nil {
		return nil, err
	}
	c, err := s.vault.Claim(ctx, caller, id)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(c)
}

func (s *Server) Purchase(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	caller, ok := auth.CallerFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}
	value, err := amountField(req, "value")
	if err != nil {
		return nil, err
	}
	ben := stringField(req, "beneficiary")
	if ben == "" {
		ben = caller
	}
	p, err := s.sale.Purchase(ctx, caller, ben, value)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(p)
}

func (s *Server) Sale(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	st, err := s.sale.Status(ctx)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(st)
}

func previewView(p vesting.Preview) map[string]any {
	return map[string]any{
		"id":            p.Grant.ID,
		"beneficiary":   p.Grant.Beneficiary,
		"amount":        p.Grant.Amount,
		"start":         p.Grant.Start,
		"vesting_days":  p.Grant.VestingDays,
		"total_claimed": p.Grant.TotalClaimed,
		"end":           p.Grant.End(),
		"phase":         p.Phase,
		"releasable":    p.Releasable,
		"claimable":     p.Claimable,
		"as_of":         p.At,
	}
}

// toStruct round-trips v through JSON so decimals and times keep the same
// string encoding as the HTTP API.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

func stringField(req *structpb.Struct, key string) string {
	if req == nil {
		return ""
	}
	v, ok := req.GetFields()[key]
	if !ok {
		return ""
	}
	return strings.TrimSpace(v.GetStringValue())
}

// amountField accepts a decimal string or an integral number.
func amountField(req *structpb.Struct, key string) (decimal.Decimal, error) {
	if req == nil {
		return decimal.Zero, status.Errorf(codes.InvalidArgument, "%s is required", key)
	}
	v, ok := req.GetFields()[key]
	if !ok {
		return decimal.Zero, status.Errorf(codes.InvalidArgument, "%s is required", key)
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		d, err := decimal.NewFromString(strings.TrimSpace(k.StringValue))
		if err != nil {
			return decimal.Zero, status.Errorf(codes.InvalidArgument, "%s must be a decimal integer", key)
		}
		return d, nil
	case *structpb.Value_NumberValue:
		if math.IsNaN(k.NumberValue) || math.IsInf(k.NumberValue, 0) {
			return decimal.Zero, status.Errorf(codes.InvalidArgument, "%s must be finite", key)
		}
		return decimal.NewFromFloat(k.NumberValue), nil
	}
	return decimal.Zero, status.Errorf(codes.InvalidArgument, "%s must be a string or number", key)
}

func grantIDField(req *structpb.Struct) (uint64, error) {
	if req == nil {
		return 0, status.Error(codes.InvalidArgument, "id is required")
	}
	v, ok := req.GetFields()["id"]
	if !ok {
		return 0, status.Error(codes.InvalidArgument, "id is required")
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		if k.NumberValue < 0 || k.NumberValue != math.Trunc(k.NumberValue) || k.NumberValue > 1<<53 {
			return 0, status.Error(codes.InvalidArgument, "id must be a non-negative integer")
		}
		return uint64(k.NumberValue), nil
	case *structpb.Value_StringValue:
		id, err := strconv.ParseUint(strings.TrimSpace(k.StringValue), 10, 64)
		if err != nil {
			return 0, status.Error(codes.InvalidArgument, "id must be a non-negative integer")
		}
		return id, nil
	}
	return 0, status.Error(codes.InvalidArgument, "id must be a non-negative integer")
}

// grpcError maps domain sentinels onto status codes. The message keeps the
// sentinel text so clients can map it back.
func grpcError(err error) error {
	if err == nil {
		return nil
	}
	if st, ok := status.FromError(err); ok {
		return st.Err()
	}
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidAsset),
		errors.Is(err, ledger.ErrInvalidAddress),
		errors.Is(err, vesting.ErrInvalidAmount),
		errors.Is(err, vesting.ErrInvalidBeneficiary),
		errors.Is(err, vesting.ErrEmptyBatch),
		errors.Is(err, sale.ErrZeroPayment),
		errors.Is(err, sale.ErrPaymentTooSmall),
		errors.Is(err, sale.ErrInvalidLimit),
		errors.Is(err, sale.ErrInvalidRecipient):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, vesting.ErrUnauthorized), errors.Is(err, sale.ErrUnauthorized):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, vesting.ErrGrantNotFound), errors.Is(err, ledger.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, vesting.ErrNothingToClaim),
		errors.Is(err, vesting.ErrClaimConflict),
		errors.Is(err, sale.ErrSaleClosed),
		errors.Is(err, sale.ErrSaleOpen),
		errors.Is(err, sale.ErrPurchaseLimit),
		errors.Is(err, sale.ErrSoldOut):
		return status.Error(codes.FailedPrecondition, err.Error())
	}
	obs.LogEvent("error", "rpc_failed", map[string]any{"error": err.Error()})
	return status.Error(codes.Internal, "internal error")
}

// Register attaches srv to s.
func Register(s *grpc.Server, srv DistributionServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func unaryHandler(method string, call func(DistributionServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(DistributionServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: fmt.Sprintf("/%s/%s", ServiceName, method),
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(DistributionServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes tokendist.v1.Distribution.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DistributionServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("Info", DistributionServer.Info),
		unaryHandler("Health", DistributionServer.Health),
		unaryHandler("GetGrant", DistributionServer.GetGrant),
		unaryHandler("ListGrants", DistributionServer.ListGrants),
		unaryHandler("Claim", DistributionServer.Claim),
		unaryHandler("Purchase", DistributionServer.Purchase),
		unaryHandler("Sale", DistributionServer.Sale),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tokendist/v1/distribution.proto",
}

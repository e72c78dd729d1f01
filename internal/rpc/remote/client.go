// Package remote is a typed client for the tokendist.v1.Distribution gRPC
// service.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"tokendist.org/internal/auth"
	"tokendist.org/internal/ledger"
	"tokendist.org/internal/rpc"
	"tokendist.org/internal/sale"
	"tokendist.org/internal/vesting"
)

var (
	ErrUnauthenticated = errors.New("remote: unauthenticated")
	ErrUnavailable     = errors.New("remote: service unavailable")
)

// GrantView is a grant together with its vesting position at AsOf.
type GrantView struct {
	vesting.Grant
	End        time.Time       `json:"end"`
	Phase      vesting.Phase   `json:"phase"`
	Releasable decimal.Decimal `json:"releasable"`
	Claimable  decimal.Decimal `json:"claimable"`
	AsOf       time.Time       `json:"as_of"`
}

// Client wraps a connection to the distribution service.
type Client struct {
	conn  *grpc.ClientConn
	token string
}

// Option configures a Client.
type Option func(*Client)

// WithToken sends token as the bearer credential on every call.
func WithToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

// Dial creates a new client. Without dial options the transport is insecure.
func Dial(target string, opts []grpc.DialOption, copts ...Option) (*Client, error) {
	if len(opts) == 0 {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	c := &Client{conn: conn}
	for _, o := range copts {
		o(c)
	}
	return c, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) Info(ctx context.Context) (map[string]any, error) {
	out, err := c.invoke(ctx, "Info", nil)
	if err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

func (c *Client) Health(ctx context.Context) error {
	_, err := c.invoke(ctx, "Health", nil)
	return err
}

func (c *Client) GetGrant(ctx context.Context, id uint64) (GrantView, error) {
	var v GrantView
	err := c.call(ctx, "GetGrant", map[string]any{"id": fmt.Sprint(id)}, &v)
	return v, err
}

// ListGrants lists beneficiary's grants; empty means the caller's own.
func (c *Client) ListGrants(ctx context.Context, beneficiary string) ([]GrantView, error) {
	var resp struct {
		Items []GrantView `json:"items"`
	}
	req := map[string]any{}
	if beneficiary != "" {
		req["beneficiary"] = beneficiary
	}
	if err := c.call(ctx, "ListGrants", req, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (c *Client) Claim(ctx context.Context, id uint64) (vesting.Claim, error) {
	var out vesting.Claim
	err := c.call(ctx, "Claim", map[string]any{"id": fmt.Sprint(id)}, &out)
	return out, err
}

// Purchase pays value native units; an empty beneficiary buys for the caller.
func (c *Client) Purchase(ctx context.Context, beneficiary string, value decimal.Decimal) (sale.Purchase, error) {
	req := map[string]any{"value": value.String()}
	if beneficiary != "" {
		req["beneficiary"] = beneficiary
	}
	var out sale.Purchase
	err := c.call(ctx, "Purchase", req, &out)
	return out, err
}

func (c *Client) Sale(ctx context.Context) (sale.Status, error) {
	var out sale.Status
	err := c.call(ctx, "Sale", nil, &out)
	return out, err
}

func (c *Client) call(ctx context.Context, method string, req map[string]any, dst any) error {
	out, err := c.invoke(ctx, method, req)
	if err != nil {
		return err
	}
	raw, err := out.MarshalJSON()
	if err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	return nil
}

func (c *Client) invoke(ctx context.Context, method string, req map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", method, err)
	}
	out := new(structpb.Struct)
	err = c.conn.Invoke(c.outgoing(ctx), "/"+rpc.ServiceName+"/"+method, in, out)
	if err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

// outgoing attaches the client token, or the token of the inbound request
// when the client has none.
func (c *Client) outgoing(ctx context.Context) context.Context {
	token := c.token
	if token == "" {
		token, _ = auth.TokenFromContext(ctx)
	}
	if token == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
}

// known lists the sentinels the server reports in status messages. More
// specific messages come first since matching is by substring.
var known = []error{
	vesting.ErrUnauthorized,
	vesting.ErrInvalidAmount,
	vesting.ErrInvalidBeneficiary,
	vesting.ErrNothingToClaim,
	vesting.ErrClaimConflict,
	vesting.ErrGrantNotFound,
	vesting.ErrEmptyBatch,
	sale.ErrUnauthorized,
	sale.ErrSaleClosed,
	sale.ErrZeroPayment,
	sale.ErrPurchaseLimit,
	sale.ErrSaleOpen,
	sale.ErrPaymentTooSmall,
	sale.ErrSoldOut,
	sale.ErrInvalidLimit,
	sale.ErrInvalidRecipient,
	ledger.ErrInsufficientFunds,
	ledger.ErrInvalidAmount,
	ledger.ErrInvalidAsset,
	ledger.ErrInvalidAddress,
	ledger.ErrNotFound,
}

// mapError turns a status error back into the domain sentinel it carries.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	for _, k := range known {
		if strings.Contains(st.Message(), k.Error()) {
			return k
		}
	}
	switch st.Code() {
	case codes.Unauthenticated:
		return fmt.Errorf("%w: %s", ErrUnauthenticated, st.Message())
	case codes.Unavailable:
		return fmt.Errorf("%w: %s", ErrUnavailable, st.Message())
	}
	return err
}

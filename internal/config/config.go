package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"tokendist.org/internal/ledger"
	"tokendist.org/internal/sale"
)

// EnvPrefix namespaces environment overrides, e.g. TOKENDIST_PG_DSN.
const EnvPrefix = "TOKENDIST"

var (
	ErrMissingSecret     = errors.New("config: auth.secret is required")
	ErrInvalidSaleWindow = errors.New("config: sale.start must be RFC3339 and sale.duration positive")
	ErrInvalidSplit      = errors.New("config: sale tranche percents must sum to 100 with a positive first tranche")
	ErrInvalidRate       = errors.New("config: sale.token_per_wei must be a positive integer")
	ErrInvalidLimit      = errors.New("config: sale.purchase_limit must be a non-negative integer")
	ErrInvalidAllocation = errors.New("config: sale.allocation must be a non-negative integer")
	ErrInvalidAddress    = errors.New("config: invalid account address")
	ErrInvalidAsset      = errors.New("config: token.asset and native.asset must differ")
	ErrInvalidRateLimit  = errors.New("config: rate_limit values must be positive")
	ErrInvalidGenesis    = errors.New("config: native.genesis amounts must be positive integers")
)

type AuthConfig struct {
	Secret   string
	TokenTTL time.Duration
	// IssueTokens enables the unauthenticated POST /v1/auth/token route.
	IssueTokens bool
}

type RateLimitConfig struct {
	Burst     int
	PerSecond float64
}

type VaultConfig struct {
	Address string
	Owner   string
}

type SaleConfig struct {
	Address string
	Owner   string
	Params  sale.Params
	// Allocation is minted to the sale account on an empty ledger.
	Allocation decimal.Decimal
}

// Config is the validated runtime configuration.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	PostgresDSN string
	Auth        AuthConfig
	RateLimit   RateLimitConfig
	TokenAsset  string
	NativeAsset string
	Vault       VaultConfig
	Sale        SaleConfig
	// Genesis holds native balances minted alongside the allocation on an
	// empty ledger, keyed by normalized address.
	Genesis map[string]decimal.Decimal
}

// UsesPostgres reports whether durable stores were configured.
func (c Config) UsesPostgres() bool { return c.PostgresDSN != "" }

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("grpc.addr", ":9090")
	v.SetDefault("pg.dsn", "")
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.token_ttl", "1h")
	v.SetDefault("auth.issue_tokens", false)
	v.SetDefault("rate_limit.burst", 50)
	v.SetDefault("rate_limit.per_second", 25.0)
	v.SetDefault("token.asset", "TOKEN")
	v.SetDefault("native.asset", "WEI")
	v.SetDefault("vault.address", "vault")
	v.SetDefault("vault.owner", "owner")
	v.SetDefault("sale.address", "sale")
	v.SetDefault("sale.owner", "owner")
	v.SetDefault("sale.start", "")
	v.SetDefault("sale.duration", "720h")
	v.SetDefault("sale.token_per_wei", "200")
	v.SetDefault("sale.first.days", 30)
	v.SetDefault("sale.first.percent", 10)
	v.SetDefault("sale.second.days", 60)
	v.SetDefault("sale.second.percent", 90)
	v.SetDefault("sale.purchase_limit", "0")
	v.SetDefault("sale.allocation", "0")
}

// New returns a viper instance with defaults and environment binding. A
// non-empty path is read as the config file.
func New(path string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return v, nil
}

// Load reads path (optional) plus the environment into a Config.
func Load(path string, now time.Time) (Config, error) {
	v, err := New(path)
	if err != nil {
		return Config{}, err
	}
	return FromViper(v, now)
}

// FromViper validates v into a Config. An empty sale.start opens the sale at
// now.
func FromViper(v *viper.Viper, now time.Time) (Config, error) {
	cfg := Config{
		HTTPAddr:    strings.TrimSpace(v.GetString("http.addr")),
		GRPCAddr:    strings.TrimSpace(v.GetString("grpc.addr")),
		PostgresDSN: strings.TrimSpace(v.GetString("pg.dsn")),
		TokenAsset:  strings.ToUpper(strings.TrimSpace(v.GetString("token.asset"))),
		NativeAsset: strings.ToUpper(strings.TrimSpace(v.GetString("native.asset"))),
	}

	cfg.Auth.Secret = strings.TrimSpace(v.GetString("auth.secret"))
	if cfg.Auth.Secret == "" {
		return Config{}, ErrMissingSecret
	}
	ttl, err := time.ParseDuration(v.GetString("auth.token_ttl"))
	if err != nil || ttl <= 0 {
		return Config{}, fmt.Errorf("config: auth.token_ttl %q is not a positive duration", v.GetString("auth.token_ttl"))
	}
	cfg.Auth.TokenTTL = ttl
	cfg.Auth.IssueTokens = v.GetBool("auth.issue_tokens")

	cfg.RateLimit.Burst = v.GetInt("rate_limit.burst")
	cfg.RateLimit.PerSecond = v.GetFloat64("rate_limit.per_second")
	if cfg.RateLimit.Burst <= 0 || cfg.RateLimit.PerSecond <= 0 {
		return Config{}, ErrInvalidRateLimit
	}

	if cfg.TokenAsset == "" || cfg.NativeAsset == "" || cfg.TokenAsset == cfg.NativeAsset {
		return Config{}, ErrInvalidAsset
	}

	for _, a := range []struct {
		key string
		dst *string
	}{
		{"vault.address", &cfg.Vault.Address},
		{"vault.owner", &cfg.Vault.Owner},
		{"sale.address", &cfg.Sale.Address},
		{"sale.owner", &cfg.Sale.Owner},
	} {
		addr, err := ledger.NormalizeAddress(v.GetString(a.key))
		if err != nil {
			return Config{}, fmt.Errorf("%w: %s", ErrInvalidAddress, a.key)
		}
		*a.dst = addr
	}
	if cfg.Vault.Address == cfg.Sale.Address {
		return Config{}, fmt.Errorf("%w: vault.address equals sale.address", ErrInvalidAddress)
	}

	params, err := saleParams(v, now)
	if err != nil {
		return Config{}, err
	}
	cfg.Sale.Params = params

	alloc, err := decimal.NewFromString(strings.TrimSpace(v.GetString("sale.allocation")))
	if err != nil || alloc.IsNegative() || !alloc.IsInteger() {
		return Config{}, ErrInvalidAllocation
	}
	cfg.Sale.Allocation = alloc

	genesis, err := nativeGenesis(v.GetStringMapString("native.genesis"))
	if err != nil {
		return Config{}, err
	}
	cfg.Genesis = genesis
	return cfg, nil
}

func nativeGenesis(raw map[string]string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(raw))
	for k, val := range raw {
		addr, err := ledger.NormalizeAddress(k)
		if err != nil {
			return nil, fmt.Errorf("%w: native.genesis.%s", ErrInvalidAddress, k)
		}
		amt, err := decimal.NewFromString(strings.TrimSpace(val))
		if err != nil || !ledger.ValidAmount(amt) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidGenesis, k)
		}
		out[addr] = amt
	}
	return out, nil
}

func saleParams(v *viper.Viper, now time.Time) (sale.Params, error) {
	var p sale.Params
	start := now.UTC().Truncate(time.Second)
	if raw := strings.TrimSpace(v.GetString("sale.start")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return p, ErrInvalidSaleWindow
		}
		start = t.UTC()
	}
	dur, err := time.ParseDuration(v.GetString("sale.duration"))
	if err != nil {
		return p, ErrInvalidSaleWindow
	}
	rate, err := decimal.NewFromString(strings.TrimSpace(v.GetString("sale.token_per_wei")))
	if err != nil {
		return p, ErrInvalidRate
	}
	limit, err := decimal.NewFromString(strings.TrimSpace(v.GetString("sale.purchase_limit")))
	if err != nil {
		return p, ErrInvalidLimit
	}
	p = sale.Params{
		Start:       start,
		Duration:    dur,
		TokenPerWei: rate,
		First: sale.Tranche{
			Days:    v.GetUint32("sale.first.days"),
			Percent: v.GetUint32("sale.first.percent"),
		},
		Second: sale.Tranche{
			Days:    v.GetUint32("sale.second.days"),
			Percent: v.GetUint32("sale.second.percent"),
		},
		PurchaseLimit: limit,
	}
	if err := p.Validate(); err != nil {
		switch {
		case errors.Is(err, sale.ErrInvalidWindow):
			return p, ErrInvalidSaleWindow
		case errors.Is(err, sale.ErrInvalidSplit):
			return p, ErrInvalidSplit
		case errors.Is(err, sale.ErrInvalidRate):
			return p, ErrInvalidRate
		case errors.Is(err, sale.ErrInvalidLimit):
			return p, ErrInvalidLimit
		}
		return p, err
	}
	return p, nil
}

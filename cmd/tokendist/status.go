package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"tokendist.org/internal/auth"
	"tokendist.org/internal/rpc/remote"
	"tokendist.org/internal/sale"
)

var (
	statusAddr string
	statusAs   string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the state of a running sale over gRPC",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		target := statusAddr
		if target == "" {
			target = dialTarget(cfg.GRPCAddr)
		}
		as := statusAs
		if as == "" {
			as = cfg.Sale.Owner
		}
		iss, err := auth.NewIssuer(cfg.Auth.Secret)
		if err != nil {
			return err
		}
		token, _, err := iss.GenerateToken(as, time.Minute)
		if err != nil {
			return err
		}

		client, err := remote.Dial(target, nil, remote.WithToken(token))
		if err != nil {
			return fmt.Errorf("dial %s: %w", target, err)
		}
		defer client.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()
		st, err := client.Sale(ctx)
		if err != nil {
			return fmt.Errorf("sale status: %w", err)
		}
		printStatus(cmd.OutOrStdout(), st)
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusAddr, "addr", "", "gRPC address (defaults to grpc.addr)")
	statusCmd.Flags().StringVar(&statusAs, "as", "", "address to authenticate as (defaults to sale.owner)")
}

// dialTarget turns a listen address such as ":9090" into a dialable one.
func dialTarget(listen string) string {
	if strings.HasPrefix(listen, ":") {
		return "localhost" + listen
	}
	return listen
}

func printStatus(w io.Writer, st sale.Status) {
	state := "closed"
	if st.Open {
		state = "open"
	}
	end := st.Params.End()
	fmt.Fprintf(w, "sale        %s (owner %s, vault %s)\n", st.Address, st.Owner, st.Vault)
	fmt.Fprintf(w, "window      %s, %s until %s (%s)\n", state, st.Params.Start.Format(time.RFC3339), end.Format(time.RFC3339), humanize.RelTime(end, st.At, "ago", "from now"))
	fmt.Fprintf(w, "rate        %s %s per %s\n", commas(st.Params.TokenPerWei), st.TokenAsset, st.NativeAsset)
	fmt.Fprintf(w, "tranches    %d%% over %d days, %d%% over %d more days\n",
		st.Params.First.Percent, st.Params.First.Days, st.Params.Second.Percent, st.Params.Second.Days)
	fmt.Fprintf(w, "limit       %s %s per beneficiary\n", commas(st.Params.PurchaseLimit), st.NativeAsset)
	fmt.Fprintf(w, "tokens left %s %s\n", commas(st.TokensLeft), st.TokenAsset)
	fmt.Fprintf(w, "raised      %s %s\n", commas(st.NativeBalance), st.NativeAsset)
}

func commas(d decimal.Decimal) string {
	return humanize.BigComma(d.BigInt())
}

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"kangaroo-trader/internal/executor"
	"kangaroo-trader/internal/market"
	"kangaroo-trader/internal/model"
	"kangaroo-trader/internal/service"
	"kangaroo-trader/internal/store"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("kangaroo version %s\n", version)
		},
	}
}

func marketStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "market-status",
		Short: "Report whether the market session is open",
		RunE: func(cmd *cobra.Command, args []string) error {
			clock, err := market.NewClock(cfg.Engine)
			if err != nil {
				return err
			}
			now := time.Now().In(clock.Location())
			state := "CLOSED"
			if clock.ActiveAt(now) {
				state = "OPEN"
			}
			fmt.Printf("Market %s at %s (%s)\n", state, now.Format("Mon 2006-01-02 15:04:05"), clock.Location())
			if state == "CLOSED" {
				fmt.Printf("Next open: %s\n", clock.NextOpen(now).Format("Mon 2006-01-02 15:04"))
			}
			return nil
		},
	}
}

func tradeCmd() *cobra.Command {
	var (
		ticker string
		shares int64
		price  string
		side   string
	)
	cmd := &cobra.Command{
		Use:   "trade",
		Short: "Execute a manual paper trade against the local account",
		RunE: func(cmd *cobra.Command, args []string) error {
			px, err := decimal.NewFromString(price)
			if err != nil {
				return fmt.Errorf("price %q: %w", price, err)
			}

			st, err := store.Open(cfg.Database)
			if err != nil {
				return err
			}
			defer st.Close()

			capital := decimal.NewFromFloat(cfg.Account.StartingBalance)
			if err := st.Migrate(capital); err != nil {
				return err
			}

			exec := executor.NewSimulatorExecutor(executor.SimulatorConfig{InitialCapital: capital}, st.DB(), service.Named("executor"))
			fill, err := exec.Execute(cmd.Context(), executor.TradeRequest{
				Ticker: strings.ToUpper(ticker),
				Shares: shares,
				Price:  px,
				Side:   model.Side(strings.ToUpper(side)),
			})
			if err != nil {
				return err
			}

			tx := fill.Transaction
			fmt.Printf("%s %d %s @ %s\n", tx.Side, tx.Shares, tx.Ticker, tx.Price.StringFixed(2))
			fmt.Printf("Cash balance: %s\n", fill.Balance.StringFixed(2))
			if fill.Holding != nil {
				fmt.Printf("Holding: %d shares, avg cost %s\n", fill.Holding.Shares, fill.Holding.AvgCost.StringFixed(4))
			} else {
				fmt.Println("Holding: closed")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&ticker, "ticker", "t", "", "Ticker code, e.g. BHP")
	cmd.Flags().Int64VarP(&shares, "shares", "n", 0, "Number of shares")
	cmd.Flags().StringVarP(&price, "price", "p", "", "Fill price")
	cmd.Flags().StringVarP(&side, "side", "s", "BUY", "BUY or SELL")
	_ = cmd.MarkFlagRequired("ticker")
	_ = cmd.MarkFlagRequired("shares")
	_ = cmd.MarkFlagRequired("price")
	return cmd
}

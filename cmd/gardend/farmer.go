package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gardenos/gardend/internal/farmer"
)

var farmerCmd = &cobra.Command{
	Use:   "farmer",
	Short: "Manage the farming binary",
}

var farmerStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Install (if needed) and start the farmer",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		cfg, err := farmer.LoadConfig(a.store)
		if err != nil {
			return err
		}
		if !cfg.Ready() {
			return fmt.Errorf("farmer config has no payout address; set one before starting")
		}
		return a.farmer.Start(cfg)
	},
}

var farmerStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the farmer if it is running",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		return a.farmer.Stop()
	},
}

var farmerStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Poll the farmer process state",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(a.farmer.Status())
	},
}

var farmerUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Update the farmer binary from the remote manifest",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		return a.farmer.Update()
	},
}

var farmerMetricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Relay the farmer's metrics endpoint",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		body, err := a.farmer.Metrics(context.Background())
		if err != nil {
			return err
		}
		fmt.Print(body)
		return nil
	},
}

var farmerStateCmd = &cobra.Command{
	Use:   "state",
	Short: "Relay the farmer's public state",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		state, err := a.farmer.PublicState(context.Background())
		if err != nil {
			return err
		}
		fmt.Println(string(state))
		return nil
	},
}

var farmerRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the farmer in the foreground, collecting stats until signalled",
	RunE:  runFarmerRun,
}

var farmerRunStatsInterval time.Duration

func runFarmerRun(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	cfg, err := farmer.LoadConfig(a.store)
	if err != nil {
		return err
	}
	if !cfg.Ready() {
		return fmt.Errorf("farmer config has no payout address; set one before starting")
	}
	if err := a.farmer.Start(cfg); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.farmer.CollectStats(ctx, farmerRunStatsInterval)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	<-sigCh
	cancel()
	a.farmer.Shutdown()
	return nil
}

func init() {
	farmerRunCmd.Flags().DurationVar(&farmerRunStatsInterval, "stats-interval", farmer.DefaultStatsInterval, "stats collection interval")
	farmerCmd.AddCommand(farmerStartCmd, farmerStopCmd, farmerStatusCmd,
		farmerUpdateCmd, farmerMetricsCmd, farmerStateCmd, farmerRunCmd)
	rootCmd.AddCommand(farmerCmd)
}

package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/fleetcast/app"
	"github.com/kilianp07/fleetcast/infra/logger"
	"github.com/kilianp07/fleetcast/infra/report"
)

var (
	predictWindow time.Duration
	reportOut     string
	reportTitle   string
)

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Run prediction jobs once",
}

var predictGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate predictions for every active vehicle",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *app.Service) error {
			n, err := svc.Predictions.Generate(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "generated %d predictions\n", n)
			return nil
		})
	},
}

var predictValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate expired predictions against simulated observations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *app.Service) error {
			n, err := svc.Predictions.Validate(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "validated %d predictions\n", n)
			return nil
		})
	},
}

var predictStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print per-algorithm accuracy",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *app.Service) error {
			stats, err := svc.Predictions.PerformanceAll(ctx, predictWindow)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ALGORITHM\tCOUNT\tAVG ACCURACY\tMIN\tMAX\tAVG CONFIDENCE")
			for _, s := range stats {
				fmt.Fprintf(w, "%s\t%d\t%.2f\t%.2f\t%.2f\t%.2f\n",
					s.Algorithm, s.Count, s.AvgAccuracy, s.MinAccuracy, s.MaxAccuracy, s.AvgConfidence)
			}
			return w.Flush()
		})
	},
}

var predictReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Render per-algorithm accuracy as an HTML chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *app.Service) error {
			stats, err := svc.Predictions.PerformanceAll(ctx, predictWindow)
			if err != nil {
				return err
			}
			f, err := os.Create(reportOut)
			if err != nil {
				return err
			}
			if err := report.RenderPerformance(f, reportTitle, stats); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "report written to %s\n", reportOut)
			return nil
		})
	},
}

func init() {
	predictCmd.PersistentFlags().DurationVar(&predictWindow, "window", 24*time.Hour, "aggregation window for stats and report")
	predictReportCmd.Flags().StringVarP(&reportOut, "out", "o", "performance.html", "output file")
	predictReportCmd.Flags().StringVar(&reportTitle, "title", "Prediction accuracy", "chart title")
	predictCmd.AddCommand(predictGenerateCmd, predictValidateCmd, predictStatsCmd, predictReportCmd)
	rootCmd.AddCommand(predictCmd)
}

// withService builds the full service without running it and hands it to fn.
func withService(cmd *cobra.Command, fn func(context.Context, *app.Service) error) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	svc, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.New("cli").Errorf("service close: %v", err)
		}
	}()
	if cfg.Store.Backend == "memory" {
		if err := seedIfEmpty(ctx, svc.Store); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}
	return fn(ctx, svc)
}

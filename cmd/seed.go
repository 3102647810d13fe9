package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/fleetcast/app"
	"github.com/kilianp07/fleetcast/infra/seed"
)

var (
	seedFile     string
	seedGTFS     string
	seedPerRoute int
	seedTimeout  time.Duration
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Write routes and vehicles to the configured store",
	Long: "Without flags the built-in fixture is written. --file loads a YAML fixture " +
		"and --gtfs imports the routes of a static GTFS archive.",
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "", "YAML fixture")
	seedCmd.Flags().StringVar(&seedGTFS, "gtfs", "", "static GTFS zip archive")
	seedCmd.Flags().IntVar(&seedPerRoute, "vehicles-per-route", 2, "vehicles placed on each GTFS route")
	seedCmd.Flags().DurationVar(&seedTimeout, "timeout", 30*time.Second, "store timeout")
	seedCmd.MarkFlagsMutuallyExclusive("file", "gtfs")
	rootCmd.AddCommand(seedCmd)
}

func loadFixture(now time.Time) (seed.Fixture, error) {
	switch {
	case seedGTFS != "":
		return seed.LoadGTFS(seedGTFS, seed.GTFSOptions{VehiclesPerRoute: seedPerRoute}, now)
	case seedFile != "":
		return seed.LoadFile(seedFile, now)
	default:
		return seed.Default(now)
	}
}

func runSeed(cmd *cobra.Command, args []string) error {
	f, err := loadFixture(time.Now())
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), seedTimeout)
	defer cancel()
	st, err := app.OpenStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "error while closing store: %v\n", err)
		}
	}()
	if err := seed.Apply(ctx, st, f); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "seeded %d routes and %d vehicles\n", len(f.Routes), len(f.Vehicles))
	return nil
}

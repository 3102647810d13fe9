package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/fleetcast/app"
	"github.com/kilianp07/fleetcast/core/model"
	"github.com/kilianp07/fleetcast/core/store"
)

var (
	fleetStatus string
	fleetLine   string
	fleetLimit  int
	fleetJSON   bool
)

var fleetCmd = &cobra.Command{
	Use:   "fleet",
	Short: "Fleet related commands",
}

var fleetLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List vehicles from the configured store",
	RunE:  runFleetLs,
}

func init() {
	fleetLsCmd.Flags().StringVar(&fleetStatus, "status", "", "only vehicles with this status")
	fleetLsCmd.Flags().StringVar(&fleetLine, "line", "", "only vehicles serving this route")
	fleetLsCmd.Flags().IntVar(&fleetLimit, "limit", 0, "maximum number of vehicles, 0 for all")
	fleetLsCmd.Flags().BoolVar(&fleetJSON, "json", false, "print JSON instead of a table")
	fleetCmd.AddCommand(fleetLsCmd)
	rootCmd.AddCommand(fleetCmd)
}

// openStore loads the configuration and opens its store. The memory backend
// is seeded with the built-in fixture.
func openStore(ctx context.Context) (store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	st, err := app.OpenStore(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if cfg.Store.Backend == "memory" {
		if err := seedIfEmpty(ctx, st); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("seed: %w", err)
		}
	}
	return st, nil
}

func runFleetLs(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "error while closing store: %v\n", err)
		}
	}()
	filter := store.VehicleFilter{Status: model.VehicleStatus(fleetStatus), RouteID: fleetLine}
	vehicles, err := st.FindVehicles(ctx, filter, fleetLimit)
	if err != nil {
		return err
	}
	if fleetJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(vehicles)
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tROUTE\tSTATUS\tDELAY\tOCCUPANCY\tNEXT STOP")
	for _, v := range vehicles {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.1f\t%.0f%% (%s)\t%s\n",
			v.ID, v.RouteID, v.Status, v.Delay, v.Occupancy.Percentage, v.Occupancy.Level, v.NextStop)
	}
	return w.Flush()
}

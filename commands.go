package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"funneltrace/api/funnel"
	"funneltrace/api/logger"
	"funneltrace/api/utils"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		b, err := openBackend(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		b.Close()
		log := logger.WithComponent("database")
		log.Info().Str("driver", cfg.Store.Driver).Msg("Schema is up to date")
		return nil
	},
}

var recomputeCmd = &cobra.Command{
	Use:   "recompute",
	Short: "Recompute and persist funnel step statistics",
	Long: `Recompute runs the funnel computation for one funnel (--funnel) or
every funnel (--all) and writes visitors, dropoff and conversion rate
back to the funnel tables.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		funnelID, _ := cmd.Flags().GetString("funnel")
		all, _ := cmd.Flags().GetBool("all")
		startDate, _ := cmd.Flags().GetString("start-date")
		endDate, _ := cmd.Flags().GetString("end-date")
		if (funnelID == "") == !all {
			return errors.New("exactly one of --funnel or --all is required")
		}
		start, end, err := utils.ParseDateRange(startDate, endDate)
		if err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		b, err := openBackend(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer b.Close()

		ids := []string{funnelID}
		if all {
			funnels, err := b.funnels.ListFunnels(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list funnels: %w", err)
			}
			ids = ids[:0]
			for _, f := range funnels {
				ids = append(ids, f.ID)
			}
		}

		engine := funnel.NewEngine(b.events, b.funnels)
		r := funnel.DateRange{Start: start, End: end}
		var failed int
		for _, id := range ids {
			res, err := engine.Persist(cmd.Context(), id, r)
			if err != nil {
				log := logger.WithFunnelID(id)
				log.Error().Err(err).Msg("Recompute failed")
				failed++
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\tconversion=%.2f%%\tsteps=%d\n", id, res.ConversionRate, len(res.Steps))
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d funnels failed to recompute", failed, len(ids))
		}
		return nil
	},
}

func init() {
	recomputeCmd.Flags().String("funnel", "", "Funnel ID to recompute")
	recomputeCmd.Flags().Bool("all", false, "Recompute every funnel")
	recomputeCmd.Flags().String("start-date", "", "Inclusive start date (YYYY-MM-DD)")
	recomputeCmd.Flags().String("end-date", "", "Inclusive end date (YYYY-MM-DD)")
}

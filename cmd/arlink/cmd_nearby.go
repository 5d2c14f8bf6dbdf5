package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/eternallink/arlink/internal/geo"
	"github.com/eternallink/arlink/internal/model"
)

var (
	nearbyAt     string
	nearbyRadius float64
)

var nearbyCmd = &cobra.Command{
	Use:   "nearby",
	Short: "List AR messages anchored around a location",
	Args:  cobra.NoArgs,
	RunE:  runNearby,
}

func init() {
	nearbyCmd.Flags().StringVar(&nearbyAt, "at", "", "center as lat,lon[,alt]")
	nearbyCmd.Flags().Float64Var(&nearbyRadius, "radius", 1, "search radius in km")
	_ = nearbyCmd.MarkFlagRequired("at")
}

func runNearby(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	origin, err := geo.Parse(nearbyAt)
	if err != nil {
		return err
	}
	msgs, err := app.client.Nearby(ctx, origin.Latitude, origin.Longitude, nearbyRadius)
	if err != nil {
		return err
	}
	msgs = geo.Within(origin, nearbyRadius, msgs)
	if len(msgs) == 0 {
		fmt.Fprintln(out, "no AR messages nearby")
		return nil
	}
	geo.SortByDistance(origin, msgs)

	now := time.Now()
	for _, m := range msgs {
		status := m.GestureTrigger.Label()
		switch {
		case m.Expired(now):
			status = "expired"
		case m.IsViewed:
			status = "viewed"
		}
		fmt.Fprintf(out, "#%d %.3f km  %s  %s\n", m.ID, geo.DistanceKm(origin, m.Location), geo.Format(m.Location), status)
	}

	locs := make([]model.Location, len(msgs))
	for i, m := range msgs {
		locs[i] = m.Location
	}
	center, err := geo.Centroid(locs)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%d messages, centered at %s\n", len(msgs), geo.Format(center))
	return nil
}

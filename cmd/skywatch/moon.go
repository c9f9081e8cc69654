package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/signalsfoundry/skywatch/core"
	"github.com/signalsfoundry/skywatch/internal/ephem"
	"github.com/signalsfoundry/skywatch/model"
	"github.com/signalsfoundry/skywatch/timectrl"
)

func newMoonCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "moon",
		Short: "Print the moon's position for an observer as JSON",
		Long: `Print the moon's azimuth, elevation, range and phase seen from the
observer. With --until one JSON object is printed per --step.`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindFlags(v, cmd.Flags(), observerFlagKeys)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMoon(cmd, v)
		},
	}
	addObserverFlags(cmd.Flags())
	cmd.Flags().String("at", "", "Observation time (RFC 3339); defaults to --date or now")
	cmd.Flags().String("until", "", "End of a time range (RFC 3339)")
	cmd.Flags().Duration("step", time.Hour, "Step between states when --until is set")
	return cmd
}

func runMoon(cmd *cobra.Command, v *viper.Viper) error {
	cfg, _, err := loadConfig(v, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	obs, err := requireObserver(cfg.Observer.Set, cfg.Observer.Model)
	if err != nil {
		return err
	}

	start := time.Now().UTC()
	if t, ok := obs.ObservationTime(); ok {
		start = t
	}
	if start, err = timeFlag(cmd, "at", start); err != nil {
		return err
	}

	svc := core.NewEphemerisService(ephem.LowPrecision{})
	enc := json.NewEncoder(cmd.OutOrStdout())

	until, err := cmd.Flags().GetString("until")
	if err != nil {
		return err
	}
	if until == "" {
		state, err := svc.MoonState(cmd.Context(), obs, start)
		if err != nil {
			return err
		}
		return enc.Encode(state)
	}

	end, err := timeFlag(cmd, "until", time.Time{})
	if err != nil {
		return err
	}
	step, err := cmd.Flags().GetDuration("step")
	if err != nil {
		return err
	}
	if step <= 0 || end.Before(start) {
		return fmt.Errorf("%w: need a positive --step and --until after the start", model.ErrInvalidInput)
	}
	for t := range timectrl.TimeRange(start, end, step) {
		state, err := svc.MoonState(cmd.Context(), obs, t)
		if err != nil {
			return err
		}
		if err := enc.Encode(state); err != nil {
			return err
		}
	}
	return nil
}

func requireObserver(set bool, build func() (model.Observer, error)) (model.Observer, error) {
	if !set {
		return model.Observer{}, fmt.Errorf("%w: --lat and --lon are required", model.ErrMissingObserver)
	}
	return build()
}

// timeFlag parses an RFC 3339 flag, returning fallback when it is empty.
func timeFlag(cmd *cobra.Command, name string, fallback time.Time) (time.Time, error) {
	raw, err := cmd.Flags().GetString(name)
	if err != nil {
		return time.Time{}, err
	}
	if raw == "" {
		return fallback, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: --%s: %v", model.ErrInvalidInput, name, err)
	}
	return t.UTC(), nil
}

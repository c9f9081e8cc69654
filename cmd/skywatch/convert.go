package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/signalsfoundry/skywatch/core"
	"github.com/signalsfoundry/skywatch/model"
)

type conversion struct {
	Cartesian model.CartesianPoint   `json:"cartesian"`
	Geodetic  model.GeodeticPoint    `json:"geodetic"`
	Position  model.Position         `json:"position"`
	Compass   string                 `json:"compass"`
	Category  model.AltitudeCategory `json:"category"`
}

func newConvertCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert between observer-relative and Earth-fixed coordinates",
		Long: `Convert an azimuth/elevation/range measurement taken by the observer into
ECEF and geodetic coordinates. With --target-lat and --target-lon the
direction is reversed: the target's position on the observer's sky is
computed instead.`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindFlags(v, cmd.Flags(), observerFlagKeys)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConvert(cmd, v)
		},
	}
	flags := cmd.Flags()
	addObserverFlags(flags)
	flags.Float64("az", 0, "Azimuth in degrees clockwise from north")
	flags.Float64("el", 0, "Elevation in degrees above the horizon")
	flags.Float64("range", 0, "Slant range in metres")
	flags.Float64("target-lat", 0, "Target latitude in degrees")
	flags.Float64("target-lon", 0, "Target longitude in degrees")
	flags.Float64("target-alt", 0, "Target altitude in metres")
	return cmd
}

func runConvert(cmd *cobra.Command, v *viper.Viper) error {
	cfg, _, err := loadConfig(v, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	obs, err := requireObserver(cfg.Observer.Set, cfg.Observer.Model)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	var out conversion
	if flags.Changed("target-lat") || flags.Changed("target-lon") {
		lat, _ := flags.GetFloat64("target-lat")
		lon, _ := flags.GetFloat64("target-lon")
		alt, _ := flags.GetFloat64("target-alt")
		target, err := model.NewGeodeticPoint(lat, lon, alt)
		if err != nil {
			return err
		}
		p := core.GeodeticToECEF(target)
		pos, err := core.ToPolar(obs, p)
		if err != nil {
			return err
		}
		out = conversion{Cartesian: p, Geodetic: target, Position: pos}
	} else {
		az, _ := flags.GetFloat64("az")
		el, _ := flags.GetFloat64("el")
		rng, _ := flags.GetFloat64("range")
		p, err := core.ToCartesian(obs, az, el, rng)
		if err != nil {
			return err
		}
		out = conversion{Cartesian: p, Geodetic: core.ECEFToGeodetic(p), Position: model.NewPosition(az, el, rng)}
	}
	out.Compass = out.Position.CompassDirection()
	out.Category = out.Position.AltitudeCategory()

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"finetune/internal/eq"
	"finetune/internal/settings"
	"finetune/internal/volume"
)

var rootCmd = &cobra.Command{
	Use:   "finetune",
	Short: "Per-app audio volume, EQ, and device routing",
	Long: `FineTune taps the audio of individual apps, applies per-app gain,
mute, and a 10-band EQ, and routes each app to the output device you
choose, without touching the system default device.`,
	RunE: runEngine,
}

// runEngine is the long-running mode: start the engine against the
// CLI host and reconcile until interrupted.
func runEngine(cmd *cobra.Command, _ []string) error {
	host, err := newCLIHost()
	if err != nil {
		return fmt.Errorf("init audio host: %w", err)
	}
	defer host.Close()

	path, err := settingsPath(cmd)
	if err != nil {
		return err
	}
	app, err := NewApp(host, path, log.Default())
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()
	return app.Run(ctx)
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List available output devices",
	RunE: func(cmd *cobra.Command, _ []string) error {
		host, err := newCLIHost()
		if err != nil {
			return fmt.Errorf("init audio host: %w", err)
		}
		defer host.Close()

		devices, err := host.Devices()
		if err != nil {
			return err
		}
		def, _ := host.DefaultOutput()
		for _, d := range devices {
			marker := " "
			if d.UID == def.UID {
				marker = "*"
			}
			fmt.Printf("%s %-40s %-10s %s\n", marker, d.Name, d.Kind, d.UID)
		}
		return nil
	},
}

// openStore loads the settings store for an offline command verb.
func openStore(cmd *cobra.Command) (*settings.Store, error) {
	path, err := settingsPath(cmd)
	if err != nil {
		return nil, err
	}
	return settings.Open(path, log.Default()), nil
}

func settingsPath(cmd *cobra.Command) (string, error) {
	if p, _ := cmd.Flags().GetString("settings"); p != "" {
		return p, nil
	}
	return settings.DefaultPath()
}

// setVolumeGain stores a linear gain for an app, clamped to the boost
// ceiling. Returns the stored gain.
func setVolumeGain(store *settings.Store, app string, gain float64) float64 {
	gain = volume.ClampGain(gain, store.AppSettings().MaxVolumeBoost)
	store.SetVolume(app, gain)
	return gain
}

// stepVolume nudges an app's volume by a slider-position delta so steps
// feel even across the logarithmic range. Returns the new gain.
func stepVolume(store *settings.Store, app string, delta float64) float64 {
	current := store.AppSettings().DefaultNewAppVolume
	if g, ok := store.Volume(app); ok {
		current = g
	}
	s := volume.GainToSlider(current) + delta
	if s < 0 {
		s = 0
	}
	if s > 1 {
		s = 1
	}
	return setVolumeGain(store, app, volume.SliderToGain(s))
}

var setVolumeCmd = &cobra.Command{
	Use:     "set-volume",
	Aliases: []string{"set-volumes"},
	Short:   "Set an app's volume",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, _ := cmd.Flags().GetString("app")
		if app == "" {
			return fmt.Errorf("--app is required")
		}
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		var gain float64
		if cmd.Flags().Changed("slider") {
			s, _ := cmd.Flags().GetFloat64("slider")
			gain = volume.SliderToGain(s)
		} else if cmd.Flags().Changed("gain") {
			gain, _ = cmd.Flags().GetFloat64("gain")
		} else {
			return fmt.Errorf("one of --gain or --slider is required")
		}
		stored := setVolumeGain(store, app, gain)
		fmt.Printf("%s volume %.3f\n", app, stored)
		return store.FlushSync()
	},
}

var stepVolumeCmd = &cobra.Command{
	Use:   "step-volume",
	Short: "Nudge an app's volume up or down",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, _ := cmd.Flags().GetString("app")
		if app == "" {
			return fmt.Errorf("--app is required")
		}
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		delta, _ := cmd.Flags().GetFloat64("step")
		gain := stepVolume(store, app, delta)
		fmt.Printf("%s volume %.3f\n", app, gain)
		return store.FlushSync()
	},
}

var setMuteCmd = &cobra.Command{
	Use:   "set-mute",
	Short: "Mute or unmute an app",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, _ := cmd.Flags().GetString("app")
		if app == "" {
			return fmt.Errorf("--app is required")
		}
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		muted, _ := cmd.Flags().GetBool("muted")
		store.SetMute(app, muted)
		return store.FlushSync()
	},
}

var toggleMuteCmd = &cobra.Command{
	Use:   "toggle-mute",
	Short: "Toggle an app's mute state",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, _ := cmd.Flags().GetString("app")
		if app == "" {
			return fmt.Errorf("--app is required")
		}
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		current, _ := store.Mute(app)
		store.SetMute(app, !current)
		fmt.Printf("%s muted=%v\n", app, !current)
		return store.FlushSync()
	},
}

var setDeviceCmd = &cobra.Command{
	Use:   "set-device",
	Short: "Route an app to an output device",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, _ := cmd.Flags().GetString("app")
		device, _ := cmd.Flags().GetString("device")
		if app == "" || device == "" {
			return fmt.Errorf("--app and --device are required")
		}
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		store.SetRouting(app, device)
		return store.FlushSync()
	},
}

// parseBands parses a comma-separated list of up to ten dB gains.
func parseBands(spec string) (eq.Bands, error) {
	var bands eq.Bands
	parts := strings.Split(spec, ",")
	if len(parts) > eq.BandCount {
		return bands, fmt.Errorf("at most %d band gains, got %d", eq.BandCount, len(parts))
	}
	for i, p := range parts {
		g, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return bands, fmt.Errorf("band %d: %w", i, err)
		}
		bands[i] = g
	}
	return bands.Clamped(), nil
}

var setEQCmd = &cobra.Command{
	Use:   "set-eq",
	Short: "Apply an EQ preset or explicit band gains to an app",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, _ := cmd.Flags().GetString("app")
		if app == "" {
			return fmt.Errorf("--app is required")
		}
		store, err := openStore(cmd)
		if err != nil {
			return err
		}

		var bands eq.Bands
		switch {
		case cmd.Flags().Changed("preset"):
			name, _ := cmd.Flags().GetString("preset")
			p, ok := eq.PresetByName(name)
			if !ok {
				return fmt.Errorf("unknown preset %q", name)
			}
			bands = p.Bands
		case cmd.Flags().Changed("bands"):
			spec, _ := cmd.Flags().GetString("bands")
			bands, err = parseBands(spec)
			if err != nil {
				return err
			}
		default:
			return fmt.Errorf("one of --preset or --bands is required")
		}

		enabled, _ := cmd.Flags().GetBool("enabled")
		store.SetEQ(app, eq.Settings{BandGains: bands, Enabled: enabled})
		return store.FlushSync()
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Remove an app's custom volume, mute, EQ, and routing",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, _ := cmd.Flags().GetString("app")
		if app == "" {
			return fmt.Errorf("--app is required")
		}
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		store.ResetApp(app)
		return store.FlushSync()
	},
}

func init() {
	rootCmd.PersistentFlags().String("settings", "", "settings file path (default: user config dir)")
	rootCmd.PersistentFlags().String("app", "", "app persistence identifier")

	setVolumeCmd.Flags().Float64("gain", 1.0, "linear gain [0, max boost]")
	setVolumeCmd.Flags().Float64("slider", 0.5, "slider position [0, 1]")
	stepVolumeCmd.Flags().Float64("step", 0.05, "slider-position delta (negative steps down)")
	setMuteCmd.Flags().Bool("muted", true, "mute state")
	setDeviceCmd.Flags().String("device", "", "output device UID")
	setEQCmd.Flags().String("preset", "", "built-in preset name")
	setEQCmd.Flags().String("bands", "", "comma-separated band gains in dB (31 Hz first)")
	setEQCmd.Flags().Bool("enabled", true, "EQ enabled state")

	rootCmd.AddCommand(
		devicesCmd,
		setVolumeCmd,
		stepVolumeCmd,
		setMuteCmd,
		toggleMuteCmd,
		setDeviceCmd,
		setEQCmd,
		resetCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

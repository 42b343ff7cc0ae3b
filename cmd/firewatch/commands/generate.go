package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/firewatch/internal/generator"
	"github.com/rewired-gh/firewatch/internal/models"
	"github.com/rewired-gh/firewatch/internal/risk"
)

var generateFlags struct {
	count    int
	seed     uint64
	series   int
	interval time.Duration
}

type generatedReading struct {
	Reading models.Reading   `json:"reading"`
	Level   models.RiskLevel `json:"level"`
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Emit synthetic readings as JSON lines",
	Long: `Emits synthetic sensor readings from the demo generator, one JSON object
per line with the classified level. --series prints an hourly chart series
instead.`,
	Example: `  firewatch generate --count 10 --seed 42
  firewatch generate --series 24`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		classifier, err := cfg.Classifier()
		if err != nil {
			return err
		}

		var gen *generator.Generator
		if cmd.Flags().Changed("seed") {
			gen = generator.NewSeeded(generateFlags.seed)
		} else {
			gen = generator.New()
		}

		out := cmd.OutOrStdout()
		if generateFlags.series > 0 {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(gen.Series(generateFlags.series))
		}
		return emitReadings(cmd, out, gen, classifier)
	},
}

func init() {
	f := generateCmd.Flags()
	f.IntVarP(&generateFlags.count, "count", "n", 1, "Number of readings to emit")
	f.Uint64Var(&generateFlags.seed, "seed", 0, "Seed for a reproducible sequence")
	f.IntVar(&generateFlags.series, "series", 0, "Print an hourly series of this many points")
	f.DurationVar(&generateFlags.interval, "interval", 0, "Delay between readings")
}

func emitReadings(cmd *cobra.Command, out io.Writer, gen *generator.Generator, classifier *risk.Classifier) error {
	if generateFlags.count < 1 {
		return fmt.Errorf("count must be at least 1")
	}
	enc := json.NewEncoder(out)
	for i := 0; i < generateFlags.count; i++ {
		if i > 0 && generateFlags.interval > 0 {
			select {
			case <-cmd.Context().Done():
				return nil
			case <-time.After(generateFlags.interval):
			}
		}
		r := gen.Generate()
		if err := enc.Encode(generatedReading{Reading: r, Level: classifier.Classify(r)}); err != nil {
			return fmt.Errorf("failed to write reading: %w", err)
		}
	}
	return nil
}

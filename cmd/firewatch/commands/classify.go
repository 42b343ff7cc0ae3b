package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/firewatch/internal/models"
	"github.com/rewired-gh/firewatch/internal/risk"
)

var classifyFlags struct {
	input       string
	temperature float64
	humidity    float64
	co2         float64
	co          float64
	h2          float64
	jsonOut     bool
}

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Classify one reading",
	Long: `Classifies a single reading given as flags or as JSON.

Omitted sensor flags are treated as missing readings. Use --input - to read
a JSON reading from stdin.`,
	Example: `  firewatch classify --temperature 41 --humidity 50 --co2 500 --co 5 --h2 1
  echo '{"temperature":32,"humidity":50,"co2_level":500,"co_level":5,"h2_level":1}' | firewatch classify --input -`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		classifier, err := cfg.Classifier()
		if err != nil {
			return err
		}

		reading, err := classifyInput(cmd)
		if err != nil {
			return err
		}
		return printAssessment(cmd.OutOrStdout(), reading, classifier.Assess(reading), classifyFlags.jsonOut)
	},
}

func init() {
	f := classifyCmd.Flags()
	f.StringVarP(&classifyFlags.input, "input", "i", "", "JSON reading file (- for stdin)")
	f.Float64Var(&classifyFlags.temperature, "temperature", 0, "Temperature in °C")
	f.Float64Var(&classifyFlags.humidity, "humidity", 0, "Relative humidity in %")
	f.Float64Var(&classifyFlags.co2, "co2", 0, "CO2 level in ppm")
	f.Float64Var(&classifyFlags.co, "co", 0, "CO level in ppm")
	f.Float64Var(&classifyFlags.h2, "h2", 0, "H2 level in ppm")
	f.BoolVar(&classifyFlags.jsonOut, "json", false, "Print the assessment as JSON")
}

func classifyInput(cmd *cobra.Command) (models.Reading, error) {
	if classifyFlags.input != "" {
		var r io.Reader = cmd.InOrStdin()
		if classifyFlags.input != "-" {
			file, err := os.Open(classifyFlags.input)
			if err != nil {
				return models.Reading{}, fmt.Errorf("failed to open input: %w", err)
			}
			defer file.Close()
			r = file
		}
		return decodeReading(r)
	}

	flags := cmd.Flags()
	measure := func(name string, v float64) models.Measurement {
		if !flags.Changed(name) {
			return models.Missing()
		}
		return models.Value(v)
	}
	reading := models.Reading{
		Source:      "cli",
		Timestamp:   time.Now(),
		Temperature: measure("temperature", classifyFlags.temperature),
		Humidity:    measure("humidity", classifyFlags.humidity),
		CO2Level:    measure("co2", classifyFlags.co2),
		COLevel:     measure("co", classifyFlags.co),
		H2Level:     measure("h2", classifyFlags.h2),
	}
	if err := reading.Validate(); err != nil {
		return models.Reading{}, fmt.Errorf("invalid reading: %w", err)
	}
	return reading, nil
}

func decodeReading(r io.Reader) (models.Reading, error) {
	var reading models.Reading
	if err := json.NewDecoder(r).Decode(&reading); err != nil {
		return models.Reading{}, fmt.Errorf("failed to decode reading: %w", err)
	}
	if reading.Timestamp.IsZero() {
		reading.Timestamp = time.Now()
	}
	if err := reading.Validate(); err != nil {
		return models.Reading{}, fmt.Errorf("invalid reading: %w", err)
	}
	return reading, nil
}

func printAssessment(w io.Writer, r models.Reading, a risk.Assessment, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(a)
	}

	fmt.Fprintf(w, "Risk level: %s\n", strings.ToUpper(a.Level.String()))
	for _, f := range models.Fields {
		fmt.Fprintf(w, "  %-12s %8s %s\n", f.Label(), r.Get(f), f.Unit())
	}
	if len(a.Exceeded) > 0 {
		fmt.Fprintf(w, "Over threshold: %s\n", joinFields(a.Exceeded))
	}
	if len(a.Missing) > 0 {
		fmt.Fprintf(w, "Missing: %s\n", joinFields(a.Missing))
	}
	if len(a.Escalators) > 0 {
		fmt.Fprintf(w, "Escalators: %s\n", strings.Join(a.Escalators, ", "))
	}
	return nil
}

func joinFields(fields []models.Field) string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Label()
	}
	return strings.Join(names, ", ")
}

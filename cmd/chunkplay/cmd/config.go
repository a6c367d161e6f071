package cmd

import (
	"fmt"
	"reflect"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/chunkplay/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the effective configuration",
	Long: `Dump the effective configuration in YAML format: defaults merged with
the config file, CHUNKPLAY_* environment variables and flags.

Redirect the output to create a configuration template:

  chunkplay config dump > config.yaml

Environment variables use the CHUNKPLAY_ prefix and underscores for nesting.
Example: backend.base_url -> CHUNKPLAY_BACKEND_BASE_URL`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

// toMap converts a config struct to a map keyed by mapstructure tags, with
// durations and sizes rendered in their human-readable forms.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Pointer {
		val = val.Elem()
	}
	typ := val.Type()

	for i := range val.NumField() {
		field := val.Field(i)
		key := typ.Field(i).Tag.Get("mapstructure")
		if key == "" {
			key = typ.Field(i).Name
		}

		switch fv := field.Interface().(type) {
		case time.Duration:
			result[key] = fv.String()
		case config.ByteSize:
			result[key] = fv.String()
		default:
			if field.Kind() == reflect.Struct {
				result[key] = toMap(fv)
			} else {
				result[key] = fv
			}
		}
	}
	return result
}

// redact hides secrets in a dumped config map.
func redact(m map[string]any) {
	if backend, ok := m["backend"].(map[string]any); ok {
		if token, _ := backend["auth_token"].(string); token != "" {
			backend["auth_token"] = "********"
		}
	}
}

func runConfigDump(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cfgMap := toMap(cfg)
	redact(cfgMap)

	data, err := yaml.Marshal(cfgMap)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "# chunkplay configuration")
	fmt.Fprintln(out, "# Duration format: 500ms, 3s, 1m")
	fmt.Fprintln(out, "# Size format: 512KB, 16MB")
	fmt.Fprintln(out)
	fmt.Fprint(out, string(data))
	return nil
}

package cmd

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/surajit20072003/heygemd/internal/config"
	"github.com/surajit20072003/heygemd/pkg/bytesize"
	"github.com/surajit20072003/heygemd/pkg/duration"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing heygemd configuration.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Show the effective configuration in YAML format, after merging the
config file, environment variables, and defaults.

Run without a config file to dump the defaults as a template:

  heygemd config show > config.yaml

Configuration can be set via:
  - Config file (config.yaml, /etc/heygemd/config.yaml, ~/.heygemd/config.yaml)
  - Environment variables (HEYGEMD_SERVER_PORT, HEYGEMD_GPU_COUNT, etc.)
  - Command-line flags (for some options)

Environment variables use the HEYGEMD_ prefix and underscores for nesting.
Example: server.port -> HEYGEMD_SERVER_PORT`,
	RunE: runConfigShow,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
}

// toMap converts a struct to a map, formatting durations and sizes for human
// readability.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = strings.ToLower(fieldType.Name)
		}

		switch fv := field.Interface().(type) {
		case time.Duration:
			result[key] = duration.Format(fv)
		case config.ByteSize:
			result[key] = bytesize.Format(bytesize.Size(fv))
		default:
			if field.Kind() == reflect.Struct {
				result[key] = toMap(field.Interface())
			} else {
				result[key] = field.Interface()
			}
		}
	}
	return result
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	yamlData, err := yaml.Marshal(toMap(cfg))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	fmt.Println("# heygemd Configuration")
	fmt.Println("# =====================")
	fmt.Println("#")
	fmt.Println("# Duration format: 30s, 5m, 1h")
	fmt.Println("# Size format: 500KB, 5MB, 1GB")
	fmt.Println("#")
	fmt.Println("# Environment variable overrides:")
	fmt.Println("#   HEYGEMD_SERVER_HOST, HEYGEMD_SERVER_PORT")
	fmt.Println("#   HEYGEMD_GPU_COUNT, HEYGEMD_GPU_HOST")
	fmt.Println("#   HEYGEMD_DATABASE_DRIVER, HEYGEMD_DATABASE_DSN")
	fmt.Println("#   HEYGEMD_STORAGE_BASE_DIR, HEYGEMD_LOGGING_LEVEL")
	fmt.Println("#   etc.")
	fmt.Println("#")
	fmt.Println("")
	fmt.Print(string(yamlData))

	return nil
}

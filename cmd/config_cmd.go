package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/codelenshq/oracle/internal/config"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and manage configuration",
	}
	cmd.AddCommand(configShowCmd())
	cmd.AddCommand(configPathCmd())
	cmd.AddCommand(configPatchCmd())
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display current configuration (secrets redacted)",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			redacted := redactConfig(cfg)
			data, _ := json.MarshalIndent(redacted, "", "  ")
			fmt.Println(string(data))
		},
	}
}

func configPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	}
}

func configPatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "patch [json5]",
		Short: "Merge a JSON5 patch into the config file",
		Long: `Patch merges a JSON5 document into the config and writes it back.
Only keys present in the patch change.

Example:
  oracle config patch '{retrieval: {top_k: 12}}'`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			path := resolveConfigPath()
			cfg := loadConfig()
			if err := config.ApplyPatch(cfg, []byte(args[0])); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if err := config.Save(cfg, path); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Updated %s\n", path)
		},
	}
}

// redactConfig returns a JSON-safe copy with secrets masked.
func redactConfig(cfg *config.Config) interface{} {
	data, _ := json.Marshal(cfg)
	var raw map[string]interface{}
	json.Unmarshal(data, &raw)
	redactMap(raw)
	return raw
}

func redactMap(m map[string]interface{}) {
	secretKeys := map[string]bool{
		"APIKey": true, "api_key": true, "PostgresDSN": true,
		"postgres_dsn": true, "RedisPassword": true, "redis_password": true,
	}
	for k, v := range m {
		if secretKeys[k] {
			if s, ok := v.(string); ok && len(s) > 8 {
				m[k] = s[:4] + "****" + s[len(s)-4:]
			} else if s, ok := v.(string); ok && s != "" {
				m[k] = "****"
			}
		} else if sub, ok := v.(map[string]interface{}); ok {
			redactMap(sub)
		}
	}
}

package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/hurttlocker/docket/internal/config"
)

func newConfigCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration and where each value came from",
		Long: `Config prints every setting with its value and source (default, config file,
environment or flag). API keys are redacted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resolved, err := config.ResolveConfig(resolveOptions(cmd, g))
			if err != nil {
				return err
			}
			resolved.LLMKeys = redactKeys(resolved.LLMKeys)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(resolved)
		},
	}
}

// redactKeys keeps the last four characters of each key.
func redactKeys(keys map[string]config.ResolvedValue) map[string]config.ResolvedValue {
	if len(keys) == 0 {
		return keys
	}
	out := make(map[string]config.ResolvedValue, len(keys))
	for name, v := range keys {
		if n := len(v.Value); n > 8 {
			v.Value = "****" + v.Value[n-4:]
		} else if n > 0 {
			v.Value = "****"
		}
		out[name] = v
	}
	return out
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/keepmind9/statebot/internal/core"
	"github.com/keepmind9/statebot/internal/plugins"
	"github.com/spf13/cobra"
)

var (
	statesConfigFile string
	statesJSON       bool
)

var statesCmd = &cobra.Command{
	Use:   "states",
	Short: "Show the state tree of the bundled plugins",
	Long: `Register the bundled plugins without connecting any bot and print
every state with the triggers attached to it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStates(cmd.OutOrStdout(), statesConfigFile, statesJSON)
	},
}

// runStates prints the state dump of an engine built from path, or from
// the defaults when path is empty
func runStates(w io.Writer, path string, jsonFormat bool) error {
	config := core.DefaultConfig()
	if path != "" {
		loaded, err := core.LoadConfig(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		config = loaded
	}

	engine := core.NewEngine(config, nil)
	defer engine.Stop()
	if err := plugins.RegisterAll(engine); err != nil {
		return err
	}
	dump := engine.Dump()

	if jsonFormat {
		output, err := json.MarshalIndent(dump, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal json: %w", err)
		}
		fmt.Fprintln(w, string(output))
		return nil
	}

	for _, state := range dump.States {
		depth := strings.Count(state.Path, dump.Separator)
		fmt.Fprintf(w, "%s%s\n", strings.Repeat("  ", depth), state.Path)
		for _, t := range state.Triggers {
			commands := "<text>"
			if len(t.Commands) > 0 {
				commands = strings.Join(t.Commands, ", ")
			}
			flags := t.Depth
			if t.Block {
				flags += ",block"
			}
			fmt.Fprintf(w, "%s  - [%s] %s (%s)\n", strings.Repeat("  ", depth), t.Plugin, commands, flags)
		}
	}
	return nil
}

func init() {
	statesCmd.Flags().StringVarP(&statesConfigFile, "config", "c", "", "Configuration file path (defaults are used when empty)")
	statesCmd.Flags().BoolVar(&statesJSON, "json", false, "Output in JSON format")
}

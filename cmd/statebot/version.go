package main

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Build information variables (set by Makefile during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var versionJSON bool

// VersionOutput represents the version output structure
type VersionOutput struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	GitCommit string `json:"git_commit"`
	GoVersion string `json:"go_version"`
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long:  "Display version number, build time, commit ID and Go version",
	Run: func(cmd *cobra.Command, args []string) {
		w := cmd.OutOrStdout()
		version := VersionOutput{
			Version:   Version,
			BuildTime: BuildTime,
			GitCommit: GitCommit,
			GoVersion: runtime.Version(),
		}

		if versionJSON {
			output, err := json.MarshalIndent(version, "", "  ")
			if err != nil {
				fmt.Fprintf(w, "{\"error\": \"failed to marshal json: %v\"}\n", err)
				return
			}
			fmt.Fprintln(w, string(output))
			return
		}
		fmt.Fprintln(w, "statebot version information:")
		fmt.Fprintf(w, "  Version:   %s\n", version.Version)
		fmt.Fprintf(w, "  BuildTime: %s\n", version.BuildTime)
		fmt.Fprintf(w, "  GitCommit: %s\n", version.GitCommit)
		fmt.Fprintf(w, "  Go:        %s\n", version.GoVersion)
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "Output in JSON format")
}

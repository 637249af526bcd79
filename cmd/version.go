package cmd

import (
	"fmt"
	"runtime"

	"github.com/kozaktomas/face-gate/internal/database"
	"github.com/spf13/cobra"
)

// Build metadata variables, set by -ldflags at compile time.
var (
	Version   = "dev"
	CommitSHA = "unknown"
	BuildDate = "unknown"
)

// VersionInfo is the output of the version command.
type VersionInfo struct {
	Version        string  `json:"version"`
	Commit         string  `json:"commit"`
	Built          string  `json:"built"`
	GoVersion      string  `json:"go_version"`
	MatchThreshold float64 `json:"match_threshold"`
	EmbeddingDim   int     `json:"default_embedding_dim"`
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		info := VersionInfo{
			Version:        Version,
			Commit:         CommitSHA,
			Built:          BuildDate,
			GoVersion:      runtime.Version(),
			MatchThreshold: database.MatchThreshold,
			EmbeddingDim:   database.DefaultEmbeddingDim,
		}
		if mustGetBool(cmd, "json") {
			return outputJSON(info)
		}
		fmt.Printf("face-gate %s\n", info.Version)
		fmt.Printf("  Commit: %s\n", info.Commit)
		fmt.Printf("  Built:  %s (%s)\n", info.Built, info.GoVersion)
		fmt.Printf("  Match:  threshold %.2f, default dim %d\n", info.MatchThreshold, info.EmbeddingDim)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().Bool("json", false, "Output as JSON")
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/kozaktomas/face-gate/internal/config"
	"github.com/kozaktomas/face-gate/internal/database"
	"github.com/kozaktomas/face-gate/internal/gate"
	"github.com/kozaktomas/face-gate/internal/imagestore"
	"github.com/kozaktomas/face-gate/internal/pipeline"
	"github.com/spf13/cobra"
)

var identifyCmd = &cobra.Command{
	Use:   "identify <file>",
	Short: "Identify the face in a photo",
	Long: `Identify the face in a photo against the index and print the decision
together with the nearest stored exemplars.

Like the HTTP API, a recognised photo that is not yet in the index is stored
as a new exemplar of the matched identity. Use --dry-run to only look.
The gate is never signalled from the CLI.

Examples:
  face-gate identify visitor.jpg
  face-gate identify visitor.jpg --dry-run --json`,
	Args: cobra.ExactArgs(1),
	RunE: runIdentify,
}

func init() {
	rootCmd.AddCommand(identifyCmd)

	identifyCmd.Flags().Bool("dry-run", false, "Do not add the photo to the index")
	identifyCmd.Flags().Bool("json", false, "Output as JSON")
}

// IdentifyNeighbor is one stored exemplar close to the query.
type IdentifyNeighbor struct {
	Ordinal   int     `json:"ordinal"`
	UserID    string  `json:"user_id"`
	ImagePath string  `json:"image_path"`
	Score     float64 `json:"score"`
}

// IdentifyOutput is the result of the identify command.
type IdentifyOutput struct {
	File       string             `json:"file"`
	Identified bool               `json:"identified"`
	Label      string             `json:"label"`
	Similarity int                `json:"similarity"`
	Ingested   bool               `json:"ingested"`
	ImagePath  string             `json:"image_path,omitempty"`
	Message    string             `json:"message,omitempty"`
	Neighbors  []IdentifyNeighbor `json:"neighbors,omitempty"`
}

// describeNeighbors resolves neighbour ordinals to their ledger records.
func describeNeighbors(store *database.Store, neighbors []database.Neighbor) []IdentifyNeighbor {
	out := make([]IdentifyNeighbor, 0, len(neighbors))
	for _, n := range neighbors {
		item := IdentifyNeighbor{Ordinal: n.Ordinal, UserID: database.UnknownLabel, Score: n.Score}
		if rec, ok := store.Record(n.Ordinal); ok {
			item.UserID = rec.UserID
			item.ImagePath = rec.ImagePath
		}
		out = append(out, item)
	}
	return out
}

// identifyDryRun matches the photo without touching the index.
func identifyDryRun(ctx context.Context, cfg *config.Config, store *database.Store, data []byte) (IdentifyOutput, error) {
	if store.IsEmpty() {
		return IdentifyOutput{Label: database.UnknownLabel, Message: "the index is empty"}, nil
	}
	embedding, err := newOracle(cfg).Embed(ctx, data)
	if err != nil {
		return IdentifyOutput{}, fmt.Errorf("embedding photo: %w", err)
	}
	match, err := database.NewMatchEngine(store).Identify(embedding)
	if err != nil {
		return IdentifyOutput{}, fmt.Errorf("matching: %w", err)
	}
	return IdentifyOutput{
		Identified: match.Known(),
		Label:      match.Label,
		Similarity: match.Similarity,
		Neighbors:  describeNeighbors(store, match.Neighbors),
	}, nil
}

func runIdentify(cmd *cobra.Command, args []string) error {
	dryRun := mustGetBool(cmd, "dry-run")
	jsonOutput := mustGetBool(cmd, "json")
	path := args[0]

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	ctx := context.Background()
	cfg := config.Load()
	logger := slog.Default()

	var (
		out   IdentifyOutput
		sinks = &mirrors{}
	)
	if !dryRun {
		if sinks, err = openMirrors(ctx, cfg); err != nil {
			return err
		}
	}
	defer sinks.Close()

	store, pusher, err := openStore(cfg, logger, sinks.list())
	if err != nil {
		return err
	}
	defer pusher.Wait()

	if dryRun {
		if out, err = identifyDryRun(ctx, cfg, store, data); err != nil {
			return err
		}
	} else {
		p := pipeline.New(store, newOracle(cfg), imagestore.New(cfg.Images.Dir), gate.NopNotifier{}, logger)
		res, err := p.Identify(ctx, pipeline.Upload{Data: data, Filename: filepath.Base(path)})
		var rej *pipeline.Rejection
		switch {
		case err == nil:
			out = IdentifyOutput{
				Identified: true,
				Label:      res.Label,
				Similarity: res.Similarity,
				Ingested:   res.Ingested,
				ImagePath:  res.ImagePath,
				Neighbors:  describeNeighbors(store, res.Neighbors),
			}
		case errors.As(err, &rej) && rej.Kind != pipeline.KindUnexpected:
			out = IdentifyOutput{Label: database.UnknownLabel, Message: rej.Message}
		default:
			return fmt.Errorf("identifying %s: %w", path, err)
		}
	}
	out.File = path

	if jsonOutput {
		return outputJSON(out)
	}

	if out.Identified {
		fmt.Printf("Identified %s as %s (similarity %d%%)\n", path, out.Label, out.Similarity)
	} else {
		fmt.Printf("%s: not identified", path)
		if out.Message != "" {
			fmt.Printf(" (%s)", out.Message)
		}
		fmt.Println()
	}
	if out.Ingested {
		fmt.Printf("Stored as new exemplar: %s\n", out.ImagePath)
	}
	if len(out.Neighbors) > 0 {
		fmt.Println("\nNearest exemplars:")
		for _, n := range out.Neighbors {
			fmt.Printf("  #%-6d %-24s %.4f  %s\n", n.Ordinal, n.UserID, n.Score, n.ImagePath)
		}
	}
	return nil
}

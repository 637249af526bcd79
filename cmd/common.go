package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kozaktomas/face-gate/internal/config"
	"github.com/kozaktomas/face-gate/internal/constants"
	"github.com/kozaktomas/face-gate/internal/database"
	"github.com/kozaktomas/face-gate/internal/database/mariadb"
	"github.com/kozaktomas/face-gate/internal/database/postgres"
	"github.com/kozaktomas/face-gate/internal/fingerprint"
	"github.com/schollz/progressbar/v3"
)

// mirrors holds the SQL mirrors enabled in the config.
type mirrors struct {
	postgres *postgres.IdentityMirror
	mariadb  *mariadb.AuditMirror
}

// openMirrors connects to every configured mirror. Nothing is opened when
// neither DATABASE_URL nor MARIADB_DSN is set.
func openMirrors(ctx context.Context, cfg *config.Config) (*mirrors, error) {
	m := &mirrors{}
	if cfg.Database.URL != "" {
		fmt.Println("Connecting to PostgreSQL mirror...")
		pg, err := postgres.Open(ctx, &cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to open PostgreSQL mirror: %w", err)
		}
		m.postgres = pg
	}
	if cfg.Database.MariaDBDSN != "" {
		fmt.Println("Connecting to MariaDB audit mirror...")
		md, err := mariadb.Open(ctx, cfg.Database.MariaDBDSN)
		if err != nil {
			m.Close()
			return nil, fmt.Errorf("failed to open MariaDB mirror: %w", err)
		}
		m.mariadb = md
	}
	return m, nil
}

// named returns the open mirrors keyed by backend name.
func (m *mirrors) named() map[string]database.Mirror {
	out := make(map[string]database.Mirror, 2)
	if m.postgres != nil {
		out["postgres"] = m.postgres
	}
	if m.mariadb != nil {
		out["mariadb"] = m.mariadb
	}
	return out
}

func (m *mirrors) list() []database.Mirror {
	var out []database.Mirror
	for _, mirror := range m.named() {
		out = append(out, mirror)
	}
	return out
}

// Close closes every open mirror.
func (m *mirrors) Close() {
	for name, mirror := range m.named() {
		if err := mirror.Close(); err != nil {
			fmt.Printf("Warning: failed to close %s mirror: %v\n", name, err)
		}
	}
}

// openStore loads the embedding store described by cfg. Ingested entries are
// pushed to sinks in the background; wait on the returned pusher before the
// sinks are closed.
func openStore(cfg *config.Config, logger *slog.Logger, sinks []database.Mirror) (*database.Store, *database.MirrorPusher, error) {
	pusher := database.NewMirrorPusher(logger, constants.MirrorPushTimeout*time.Second, sinks...)
	storeCfg := database.StoreConfig{
		Dir:            cfg.Store.Dir,
		IndexKind:      cfg.Store.Kind,
		Dim:            cfg.Store.Dim,
		RecoveryPolicy: cfg.Store.RecoveryPolicy,
		Logger:         logger,
	}
	if len(sinks) > 0 {
		storeCfg.AfterIngest = pusher.Hook
	}
	store, err := database.OpenStore(storeCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open index in %s: %w", cfg.Store.Dir, err)
	}
	return store, pusher, nil
}

// newOracle creates the face oracle backed by the external face service.
func newOracle(cfg *config.Config) *fingerprint.FaceOracle {
	client := fingerprint.NewFaceClient(cfg.Oracle.URL, cfg.Oracle.Timeout)
	return fingerprint.NewFaceOracle(client, cfg.Quality, cfg.Store.Dim)
}

// newProgressBar creates a progress bar in the style used by all commands.
func newProgressBar(total int, description, unit string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString(unit),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

// isImageFile checks if a file has an extension the face service can decode
func isImageFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp":
		return true
	}
	return false
}

// outputJSON writes data to stdout as indented JSON.
func outputJSON(data any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}
	return nil
}

package config

import (
	_ "embed"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed quality.yaml
var qualityYAML []byte

type Config struct {
	Store    StoreConfig
	Images   ImagesConfig
	Oracle   OracleConfig
	Gate     GateConfig
	Database DatabaseConfig
	Web      WebConfig
	Log      LogConfig
	Quality  QualityConfig
}

type StoreConfig struct {
	Dir            string // directory holding face_index.bin and metadata.json (default ./index)
	Kind           string // flat (exact, default) or hnsw (approximate)
	Dim            int    // embedding width (default 512)
	RecoveryPolicy string // truncate (default) or reject
}

type ImagesConfig struct {
	Dir string // root of stored exemplar images (default ./data)
}

type OracleConfig struct {
	URL     string        // face embedding service, defaults to http://localhost:8000
	Timeout time.Duration // per request (default 30s)
}

type GateConfig struct {
	Addr    string        // host:port of the gate controller; empty disables notifications
	Timeout time.Duration // dial + ack timeout (default 3s)
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL for the identity mirror (optional)
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
	MariaDBDSN   string // MariaDB DSN for the audit mirror (optional)
}

type WebConfig struct {
	Host           string   // default 0.0.0.0
	Port           int      // default 8080
	AllowedOrigins []string // extra CORS origins; localhost is always allowed
}

type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // text or json
}

// QualityConfig holds the face quality policy. Defaults come from the
// embedded quality.yaml.
type QualityConfig struct {
	SimilarFaceRatio float64 `yaml:"similar_face_ratio" json:"similar_face_ratio"`
	MinFaceArea      float64 `yaml:"min_face_area" json:"min_face_area"`
	MaxTiltDegrees   float64 `yaml:"max_tilt_degrees" json:"max_tilt_degrees"`
	MinBrightness    float64 `yaml:"min_brightness" json:"min_brightness"`
	MaxBrightness    float64 `yaml:"max_brightness" json:"max_brightness"`
	MinQuality       float64 `yaml:"min_quality" json:"min_quality"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable as a non-negative float.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 {
		return f
	}
	return defaultVal
}

// envDuration reads an environment variable as a positive time.Duration ("5s", "250ms").
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := strings.TrimSpace(os.Getenv(key)); s != "" {
		return s
	}
	return defaultVal
}

// envList reads a comma-separated environment variable, dropping empty items.
func envList(key string) []string {
	var out []string
	for item := range strings.SplitSeq(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func Load() *Config {
	var quality QualityConfig
	if err := yaml.Unmarshal(qualityYAML, &quality); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded quality.yaml: " + err.Error())
	}

	return &Config{
		Store: StoreConfig{
			Dir:            envString("INDEX_DIR", "index"),
			Kind:           strings.ToLower(envString("INDEX_KIND", "flat")),
			Dim:            envInt("EMBEDDING_DIM", 512),
			RecoveryPolicy: strings.ToLower(envString("RECOVERY_POLICY", "truncate")),
		},
		Images: ImagesConfig{
			Dir: envString("DATA_DIR", "data"),
		},
		Oracle: OracleConfig{
			URL:     envString("ORACLE_URL", "http://localhost:8000"),
			Timeout: envDuration("ORACLE_TIMEOUT", 30*time.Second),
		},
		Gate: GateConfig{
			Addr:    os.Getenv("GATE_ADDR"),
			Timeout: envDuration("GATE_TIMEOUT", 3*time.Second),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
			MariaDBDSN:   os.Getenv("MARIADB_DSN"),
		},
		Web: WebConfig{
			Host:           envString("WEB_HOST", "0.0.0.0"),
			Port:           envInt("WEB_PORT", 8080),
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
		},
		Log: LogConfig{
			Level:  strings.ToLower(envString("LOG_LEVEL", "info")),
			Format: strings.ToLower(envString("LOG_FORMAT", "text")),
		},
		Quality: QualityConfig{
			SimilarFaceRatio: envFloat("QUALITY_SIMILAR_FACE_RATIO", quality.SimilarFaceRatio),
			MinFaceArea:      envFloat("QUALITY_MIN_FACE_AREA", quality.MinFaceArea),
			MaxTiltDegrees:   envFloat("QUALITY_MAX_TILT_DEGREES", quality.MaxTiltDegrees),
			MinBrightness:    envFloat("QUALITY_MIN_BRIGHTNESS", quality.MinBrightness),
			MaxBrightness:    envFloat("QUALITY_MAX_BRIGHTNESS", quality.MaxBrightness),
			MinQuality:       envFloat("QUALITY_MIN_QUALITY", quality.MinQuality),
		},
	}
}

// MirrorsEnabled reports whether any SQL mirror is configured.
func (c *Config) MirrorsEnabled() bool {
	return c.Database.URL != "" || c.Database.MariaDBDSN != ""
}

// Package config holds the engine-level runtime configuration.
// Values come from the environment first (matching the store-level
// configs), with an optional YAML file overlaying the defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config tunes ingestion, lifecycle, and planning behavior.
type Config struct {
	// EmbeddingDims is the required dimensionality of every embedding
	// handed to the engine.
	EmbeddingDims int `yaml:"embedding_dims" validate:"gt=0"`

	// MatchThreshold is the cosine-distance ceiling below which an
	// incoming candidate merges into an existing record instead of
	// creating a new one.
	MatchThreshold float64 `yaml:"match_threshold" validate:"gt=0,lt=1"`

	// CollectionThresholds overrides MatchThreshold per collection.
	CollectionThresholds map[string]float64 `yaml:"collection_thresholds" validate:"dive,gt=0,lt=1"`

	// ContextK is how many nearest records ingestion retrieves as
	// relevant context.
	ContextK int `yaml:"context_k" validate:"gt=0"`

	// PromoteConfidence and PromoteMinEvidence gate promotion into the
	// canonical tier.
	PromoteConfidence  float64 `yaml:"promote_confidence" validate:"gt=0,lte=1"`
	PromoteMinEvidence int     `yaml:"promote_min_evidence" validate:"gte=1"`

	// EphemeralTTL and ShortTermTTL bound how long entries in the
	// lower tiers live without reinforcement.
	EphemeralTTL time.Duration `yaml:"ephemeral_ttl" validate:"gt=0"`
	ShortTermTTL time.Duration `yaml:"short_term_ttl" validate:"gt=0"`

	// DecayFactor multiplies non-canonical confidence on each decay
	// pass; entries falling below DecayFloor are evicted.
	DecayFactor float64 `yaml:"decay_factor" validate:"gt=0,lte=1"`
	DecayFloor  float64 `yaml:"decay_floor" validate:"gte=0,lt=1"`

	// PlannerMaxDepth bounds backward-chaining search depth.
	PlannerMaxDepth int `yaml:"planner_max_depth" validate:"gt=0"`

	// OpTimeout bounds each engine operation.
	OpTimeout time.Duration `yaml:"op_timeout" validate:"gt=0"`

	// VectorPath persists the vector index to disk when set; empty
	// keeps it in memory.
	VectorPath string `yaml:"vector_path"`
}

// NewConfig builds a Config from the environment, overlaid on
// defaults. Call Load afterwards to overlay a YAML file.
func NewConfig() *Config {
	c := &Config{
		EmbeddingDims:      4,
		MatchThreshold:     0.2,
		ContextK:           10,
		PromoteConfidence:  0.8,
		PromoteMinEvidence: 3,
		EphemeralTTL:       time.Hour,
		ShortTermTTL:       7 * 24 * time.Hour,
		DecayFactor:        0.9,
		DecayFloor:         0.1,
		PlannerMaxDepth:    8,
		OpTimeout:          30 * time.Second,
	}
	c.EmbeddingDims = envInt("EMBEDDING_DIMS", c.EmbeddingDims)
	c.MatchThreshold = envFloat("MATCH_THRESHOLD", c.MatchThreshold)
	c.ContextK = envInt("CONTEXT_K", c.ContextK)
	c.PromoteConfidence = envFloat("PROMOTE_CONFIDENCE", c.PromoteConfidence)
	c.PromoteMinEvidence = envInt("PROMOTE_MIN_EVIDENCE", c.PromoteMinEvidence)
	c.EphemeralTTL = envDuration("EPHEMERAL_TTL", c.EphemeralTTL)
	c.ShortTermTTL = envDuration("SHORT_TERM_TTL", c.ShortTermTTL)
	c.DecayFactor = envFloat("DECAY_FACTOR", c.DecayFactor)
	c.DecayFloor = envFloat("DECAY_FLOOR", c.DecayFloor)
	c.PlannerMaxDepth = envInt("PLANNER_MAX_DEPTH", c.PlannerMaxDepth)
	c.OpTimeout = envDuration("OP_TIMEOUT", c.OpTimeout)
	c.VectorPath = envStr("VECTOR_PATH", c.VectorPath)
	return c
}

// Load overlays a YAML config file onto c. A missing path is not an
// error; the environment-derived values stand.
func (c *Config) Load(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %q: %w", path, err)
	}
	return nil
}

// Validate checks invariants across the whole config.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.DecayFloor >= c.PromoteConfidence {
		return fmt.Errorf("invalid configuration: decay_floor %.2f must be below promote_confidence %.2f", c.DecayFloor, c.PromoteConfidence)
	}
	return nil
}

// ThresholdFor resolves the match threshold for a collection.
func (c *Config) ThresholdFor(collection string) float64 {
	if t, ok := c.CollectionThresholds[collection]; ok {
		return t
	}
	return c.MatchThreshold
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

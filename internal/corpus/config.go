package corpus

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/papergraph-backend/internal/platform/logger"
	"github.com/yungbote/papergraph-backend/internal/utils"
)

// Config controls both retrieval fan-out and semantic gating. Retrieval
// knobs are best-effort hints; the gating knobs are authoritative.
type Config struct {
	// Gating.
	SimilarityThreshold  float64 `yaml:"similarity_threshold"`
	MaxCandidatesToEmbed int     `yaml:"max_candidates_to_embed"`
	MaxSelectedPapers    int     `yaml:"max_selected_papers"`

	// Per-source retrieval limits.
	CitationLimit  int `yaml:"citation_limit"`
	ReferenceLimit int `yaml:"reference_limit"`
	KeywordLimit   int `yaml:"keyword_limit"`
	ArxivLimit     int `yaml:"arxiv_limit"`

	// Retrieval expansion queries.
	KeywordQueries  []string `yaml:"keyword_queries"`
	ArxivCategories []string `yaml:"arxiv_categories"`

	// Optional temporal rerank over the passing set.
	TemporalRerank TemporalRerank `yaml:"temporal_rerank"`
}

type TemporalRerank struct {
	Enabled          bool    `yaml:"enabled"`
	SimilarityWeight float64 `yaml:"similarity_weight"`
	YearWeight       float64 `yaml:"year_weight"`
	RecencyWindowYrs int     `yaml:"recency_window_years"`
}

// DefaultConfig mirrors the environment defaults so a missing YAML file is
// never fatal.
func DefaultConfig(log *logger.Logger) Config {
	return Config{
		SimilarityThreshold:  utils.GetEnvAsFloat("SEMANTIC_THRESHOLD", 0.7, log),
		MaxCandidatesToEmbed: utils.GetEnvAsInt("MAX_CANDIDATES_TO_EMBED", 500, log),
		MaxSelectedPapers:    utils.GetEnvAsInt("MAX_SELECTED_PAPERS", 100, log),
		CitationLimit:        100,
		ReferenceLimit:       100,
		KeywordLimit:         50,
		ArxivLimit:           60,
		TemporalRerank: TemporalRerank{
			Enabled:          false,
			SimilarityWeight: 0.7,
			YearWeight:       0.3,
			RecencyWindowYrs: 5,
		},
	}
}

// LoadConfig reads SELECTOR_CONFIG_PATH (default configs/selector.yaml) over
// the environment defaults. An absent file falls back to defaults; a present
// but malformed file is an error.
func LoadConfig(log *logger.Logger) (Config, error) {
	cfg := DefaultConfig(log)

	path := strings.TrimSpace(os.Getenv("SELECTOR_CONFIG_PATH"))
	if path == "" {
		path = "configs/selector.yaml"
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if log != nil {
				log.Info("selector config file not found, using defaults", "path", path)
			}
			return cfg.normalized(), nil
		}
		return Config{}, fmt.Errorf("read selector config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse selector config %s: %w", path, err)
	}
	return cfg.normalized(), nil
}

func (c Config) normalized() Config {
	if c.SimilarityThreshold <= 0 {
		c.SimilarityThreshold = 0.7
	}
	if c.MaxCandidatesToEmbed <= 0 {
		c.MaxCandidatesToEmbed = 500
	}
	if c.MaxSelectedPapers <= 0 {
		c.MaxSelectedPapers = 100
	}
	if c.CitationLimit <= 0 {
		c.CitationLimit = 100
	}
	if c.ReferenceLimit <= 0 {
		c.ReferenceLimit = 100
	}
	if c.KeywordLimit <= 0 {
		c.KeywordLimit = 50
	}
	if c.ArxivLimit <= 0 {
		c.ArxivLimit = 60
	}
	if c.TemporalRerank.SimilarityWeight <= 0 {
		c.TemporalRerank.SimilarityWeight = 0.7
	}
	if c.TemporalRerank.YearWeight <= 0 {
		c.TemporalRerank.YearWeight = 0.3
	}
	if c.TemporalRerank.RecencyWindowYrs <= 0 {
		c.TemporalRerank.RecencyWindowYrs = 5
	}
	return c
}

package app

import (
	"github.com/yungbote/papergraph-backend/internal/platform/logger"
	"github.com/yungbote/papergraph-backend/internal/utils"
)

// Config is the process-level configuration. Component tuning (selector
// thresholds, lane sizes, resolver taus) lives with each component; this
// only carries what wiring itself needs.
type Config struct {
	LogMode      string
	CacheRoot    string
	CacheEnabled bool
}

func LoadConfig(log *logger.Logger) Config {
	return Config{
		LogMode:      utils.GetEnv("LOG_MODE", "development", log),
		CacheRoot:    utils.GetEnv("CACHE_ROOT", ".cache", log),
		CacheEnabled: utils.GetEnvAsBool("CACHE_ENABLED", true, log),
	}
}

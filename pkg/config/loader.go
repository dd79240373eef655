package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "TOOLBRIDGE_"

// Load builds the configuration from defaults overlaid with environment
// variables. Variables use the TOOLBRIDGE_ prefix and double underscores as
// section separators, e.g. TOOLBRIDGE_SERVER__PORT=9090 sets server.port and
// TOOLBRIDGE_ENGINE__SWEEP_BATCH_SIZE=25 sets engine.sweep_batch_size.
func Load() (*Config, error) {
	// .env is optional; missing files are not an error in any mode.
	_ = godotenv.Load()
	k := koanf.New(".")
	if err := k.Load(env.Provider(".", env.Opt{
		Prefix:        envPrefix,
		TransformFunc: transformEnvKey,
	}), nil); err != nil {
		return nil, fmt.Errorf("config: loading environment: %w", err)
	}
	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshaling: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// transformEnvKey converts TOOLBRIDGE_SECTION__FIELD_NAME into
// "section.field_name" so koanf can map it onto struct tags.
func transformEnvKey(key, value string) (string, any) {
	key = strings.TrimPrefix(key, envPrefix)
	key = strings.ToLower(key)
	key = strings.ReplaceAll(key, "__", ".")
	return key, value
}

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/latchbio/wf-core-guideseq/internal/pipeline"
	"github.com/latchbio/wf-core-guideseq/internal/storage"
)

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Server struct {
		Addr string
	}
	Database struct {
		Path string
	}
	Work struct {
		Root          string
		MaxConcurrent int
		KeepWorkDir   bool
	}
	Storage struct {
		Provider        string
		Region          string
		Endpoint        string
		UsePathStyle    bool
		UseSSL          bool
		AccessKeyID     string
		SecretAccessKey string
		SessionToken    string
		Profile         string
		FileRoot        string
		PageSize        int
	}
	Auth struct {
		JWTSecret       string
		TokenTTLMinutes int
	}
	Pipelines struct {
		Python         string
		GuideseqScript string
		Crispresso     string
	}
	Log struct {
		Level string
	}
}

// Load reads configuration from environment variables, an optional .env file
// and an optional config file in the working directory. Real environment
// variables win over .env entries.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GUIDESEQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	tools := pipeline.DefaultTools()
	v.SetDefault("server.addr", "0.0.0.0:8080")
	v.SetDefault("database.path", "data/guideseq.db")
	v.SetDefault("work.root", "data/work")
	v.SetDefault("work.maxconcurrent", 2)
	v.SetDefault("work.keepworkdir", false)
	v.SetDefault("storage.provider", string(storage.ProviderS3))
	v.SetDefault("storage.region", "us-west-2")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.usepathstyle", false)
	v.SetDefault("storage.usessl", true)
	v.SetDefault("storage.accesskeyid", "")
	v.SetDefault("storage.secretaccesskey", "")
	v.SetDefault("storage.sessiontoken", "")
	v.SetDefault("storage.profile", "")
	v.SetDefault("storage.fileroot", "data/buckets")
	v.SetDefault("storage.pagesize", 1000)
	v.SetDefault("auth.jwtsecret", "")
	v.SetDefault("auth.tokenttlminutes", 24*60)
	v.SetDefault("pipelines.python", tools.Python)
	v.SetDefault("pipelines.guideseqscript", tools.GuideseqScript)
	v.SetDefault("pipelines.crispresso", tools.CrispressoBin)
	v.SetDefault("log.level", "info")

	v.SetConfigName("config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

func (c Config) StorageConfig() storage.Config {
	return storage.Config{
		Provider:        storage.ProviderType(strings.ToLower(strings.TrimSpace(c.Storage.Provider))),
		Region:          c.Storage.Region,
		Endpoint:        c.Storage.Endpoint,
		UsePathStyle:    c.Storage.UsePathStyle,
		UseSSL:          c.Storage.UseSSL,
		AccessKeyID:     c.Storage.AccessKeyID,
		SecretAccessKey: c.Storage.SecretAccessKey,
		SessionToken:    c.Storage.SessionToken,
		Profile:         c.Storage.Profile,
		FileRoot:        c.Storage.FileRoot,
		PageSize:        c.Storage.PageSize,
	}
}

func (c Config) Tools() pipeline.Tools {
	return pipeline.Tools{
		Python:         c.Pipelines.Python,
		GuideseqScript: c.Pipelines.GuideseqScript,
		CrispressoBin:  c.Pipelines.Crispresso,
	}
}

func (c Config) TokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTLMinutes) * time.Minute
}

// LogLevel falls back to info for unknown names.
func (c Config) LogLevel() logrus.Level {
	level, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// Package config loads runtime configuration from an optional YAML file and
// HUJRA_* environment variables on top of built-in defaults.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
)

// EnvPrefix namespaces environment overrides, e.g. HUJRA_STORAGE_DRIVER.
const EnvPrefix = "HUJRA_"

// DefaultEnv names the YAML file looked up when HUJRA_ENV is unset.
const DefaultEnv = "development"

// Config is the root configuration.
type Config struct {
	Env        string           `json:"env" koanf:"env"`
	Log        LogConfig        `json:"log" koanf:"log"`
	Storage    StorageConfig    `json:"storage" koanf:"storage"`
	Blob       BlobConfig       `json:"blob" koanf:"blob"`
	HTTP       HTTPConfig       `json:"http" koanf:"http"`
	Progress   ProgressConfig   `json:"progress" koanf:"progress"`
	Reports    ReportsConfig    `json:"reports" koanf:"reports"`
	Analysis   AnalysisConfig   `json:"analysis" koanf:"analysis"`
	AssetCache AssetCacheConfig `json:"assetCache" koanf:"assetCache"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level      string `json:"level" koanf:"level"`
	Pretty     bool   `json:"pretty" koanf:"pretty"`
	File       string `json:"file" koanf:"file"`
	MaxSizeMB  int    `json:"maxSizeMB" koanf:"maxSizeMB"`
	MaxBackups int    `json:"maxBackups" koanf:"maxBackups"`
	MaxAgeDays int    `json:"maxAgeDays" koanf:"maxAgeDays"`
	Compress   bool   `json:"compress" koanf:"compress"`
}

// StorageConfig selects the record store backend.
type StorageConfig struct {
	Driver      string `json:"driver" koanf:"driver"`
	SQLitePath  string `json:"sqlitePath" koanf:"sqlitePath"`
	PostgresDSN string `json:"postgresDSN" koanf:"postgresDSN"`
}

// BlobConfig selects where backup archives are written.
type BlobConfig struct {
	Driver string   `json:"driver" koanf:"driver"`
	FSRoot string   `json:"fsRoot" koanf:"fsRoot"`
	Prefix string   `json:"prefix" koanf:"prefix"`
	S3     S3Config `json:"s3" koanf:"s3"`
}

// S3Config configures the S3 / MinIO archive driver.
type S3Config struct {
	Bucket          string `json:"bucket" koanf:"bucket"`
	Region          string `json:"region" koanf:"region"`
	Endpoint        string `json:"endpoint" koanf:"endpoint"`
	AccessKeyID     string `json:"accessKeyID" koanf:"accessKeyID"`
	SecretAccessKey string `json:"secretAccessKey" koanf:"secretAccessKey"`
	SessionToken    string `json:"sessionToken" koanf:"sessionToken"`
	PathStyle       bool   `json:"pathStyle" koanf:"pathStyle"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr            string        `json:"addr" koanf:"addr"`
	ReadTimeout     time.Duration `json:"readTimeout" koanf:"readTimeout"`
	WriteTimeout    time.Duration `json:"writeTimeout" koanf:"writeTimeout"`
	ShutdownTimeout time.Duration `json:"shutdownTimeout" koanf:"shutdownTimeout"`
	BodyLimit       string        `json:"bodyLimit" koanf:"bodyLimit"`
}

// ProgressConfig tunes the visit recording boundary checks.
type ProgressConfig struct {
	StrictNumbers bool `json:"strictNumbers" koanf:"strictNumbers"`
}

// ReportsConfig tunes the summary report.
type ReportsConfig struct {
	HealthyMarker   string   `json:"healthyMarker" koanf:"healthyMarker"`
	AlertStatuses   []string `json:"alertStatuses" koanf:"alertStatuses"`
	RecentVisitDays int      `json:"recentVisitDays" koanf:"recentVisitDays"`
}

// AnalysisConfig configures the OpenAI-compatible summarizer.
type AnalysisConfig struct {
	Enabled     bool          `json:"enabled" koanf:"enabled"`
	BaseURL     string        `json:"baseURL" koanf:"baseURL"`
	APIKey      string        `json:"apiKey" koanf:"apiKey"`
	Model       string        `json:"model" koanf:"model"`
	Timeout     time.Duration `json:"timeout" koanf:"timeout"`
	Placeholder string        `json:"placeholder" koanf:"placeholder"`

	// RatePerMinute caps outbound requests; 0 disables the limit.
	RatePerMinute int `json:"ratePerMinute" koanf:"ratePerMinute"`
}

// AssetCacheConfig configures the offline asset cache in front of the web client.
type AssetCacheConfig struct {
	Enabled     bool          `json:"enabled" koanf:"enabled"`
	Origin      string        `json:"origin" koanf:"origin"`
	CacheName   string        `json:"cacheName" koanf:"cacheName"`
	Backend     string        `json:"backend" koanf:"backend"`
	OfflinePage string        `json:"offlinePage" koanf:"offlinePage"`
	Precache    []string      `json:"precache" koanf:"precache"`
	TTL         time.Duration `json:"ttl" koanf:"ttl"`
	Redis       RedisConfig   `json:"redis" koanf:"redis"`
}

// RedisConfig addresses the redis asset cache backend.
type RedisConfig struct {
	Addr     string `json:"addr" koanf:"addr"`
	Password string `json:"password" koanf:"password"`
	DB       int    `json:"db" koanf:"db"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Env: DefaultEnv,
		Log: LogConfig{Level: "info", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 30, Compress: true},
		Storage: StorageConfig{
			Driver:     "sqlite",
			SQLitePath: "data/hujra.db",
		},
		Blob: BlobConfig{Driver: "fs", FSRoot: "data/archives", Prefix: "backups/"},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			BodyLimit:       "10M",
		},
		Progress: ProgressConfig{StrictNumbers: true},
		Reports: ReportsConfig{
			HealthyMarker:   "healthy",
			AlertStatuses:   []string{"bad", "poor"},
			RecentVisitDays: 30,
		},
		Analysis: AnalysisConfig{
			BaseURL:       "https://api.openai.com/v1",
			Model:         "gpt-4o-mini",
			Timeout:       20 * time.Second,
			Placeholder:   "Analysis is unavailable right now. Please try again later.",
			RatePerMinute: 10,
		},
		AssetCache: AssetCacheConfig{
			CacheName:   "hujra-cache-v1",
			Backend:     "memory",
			OfflinePage: "/index.html",
			Precache:    []string{"/", "/index.html", "/manifest.json"},
			TTL:         7 * 24 * time.Hour,
			Redis:       RedisConfig{Addr: "localhost:6379"},
		},
	}
}

// Load reads config/<env>.yaml (env from HUJRA_ENV, default development)
// from the usual search paths, then applies HUJRA_* overrides.
func Load() (*Config, error) {
	env := os.Getenv(EnvPrefix + "ENV")
	if env == "" {
		env = DefaultEnv
	}
	return LoadWithEnv(env, "config", "../config", "../../config")
}

// LoadWithEnv loads <currEnv>.yaml from the first search path containing it.
// A missing file is not an error: defaults and environment still apply.
func LoadWithEnv(currEnv string, configPath ...string) (*Config, error) {
	cfg := Default()
	k := koanf.New(".")

	searchPaths := []string{"."}
	if len(configPath) != 0 {
		pwd, err := os.Getwd()
		if err != nil {
			return nil, errors.Wrap(err, "os.Getwd")
		}
		for _, p := range configPath {
			if filepath.IsAbs(p) {
				searchPaths = append(searchPaths, p)
				continue
			}
			searchPaths = append(searchPaths, filepath.Join(pwd, p))
		}
	}
	for _, dir := range searchPaths {
		candidate := filepath.Join(dir, currEnv+".yaml")
		if _, err := os.Stat(candidate); err != nil {
			continue
		}
		if err := k.Load(file.Provider(candidate), yaml.Parser()); err != nil {
			return nil, errors.Wrapf(err, "read %s config failed", candidate)
		}
		break
	}

	known, err := knownKeys(cfg, k.Raw())
	if err != nil {
		return nil, err
	}
	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.TrimPrefix(key, EnvPrefix)
			if key == "ENV" {
				return "", nil
			}
			if strings.Contains(value, ",") && isListKey(key) {
				return canonicalizeEnvKey(key, known), strings.Split(value, ",")
			}
			return canonicalizeEnvKey(key, known), value
		},
	}), nil); err != nil {
		return nil, errors.Wrap(err, "load env variables failed")
	}

	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           &cfg,
			TagName:          "koanf",
			WeaklyTypedInput: true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			MatchName: func(mapKey, fieldName string) bool {
				return normalizeToken(mapKey) == normalizeToken(fieldName)
			},
		},
	}); err != nil {
		return nil, errors.Wrapf(err, "unmarshal %s config failed", currEnv)
	}
	if cfg.Env == "" || cfg.Env == DefaultEnv {
		cfg.Env = currEnv
	}
	return &cfg, nil
}

func isListKey(key string) bool {
	k := strings.ToLower(key)
	return strings.HasSuffix(k, "precache") || strings.HasSuffix(k, "statuses")
}

// knownKeys merges the key tree of the defaults with the loaded YAML so env
// overrides can be aligned with camelCase keys that the file omits.
func knownKeys(defaults Config, loaded map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(defaults)
	if err != nil {
		return nil, errors.Wrap(err, "encode defaults")
	}
	tree := map[string]any{}
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, errors.Wrap(err, "decode defaults")
	}
	mergeTrees(tree, loaded)
	return tree, nil
}

func mergeTrees(dst, src map[string]any) {
	for k, v := range src {
		child, ok := v.(map[string]any)
		if !ok {
			if _, exists := dst[k]; !exists {
				dst[k] = v
			}
			continue
		}
		existing, ok := dst[k].(map[string]any)
		if !ok {
			existing = map[string]any{}
			dst[k] = existing
		}
		mergeTrees(existing, child)
	}
}

// canonicalizeEnvKey turns STORAGE_SQLITE_PATH into storage.sqlitePath by
// greedily matching underscore-joined segments against known keys.
func canonicalizeEnvKey(rawKey string, known map[string]any) string {
	segments := strings.Split(strings.ToLower(rawKey), "_")
	canonical := make([]string, 0, len(segments))
	current := known

	for i := 0; i < len(segments); {
		matched := false
		for j := len(segments); j > i; j-- {
			candidate := strings.Join(segments[i:j], "")
			if key, next, ok := findExistingSegment(current, candidate); ok {
				canonical = append(canonical, key)
				current = next
				i = j
				matched = true
				break
			}
		}
		if !matched {
			if segments[i] != "" {
				canonical = append(canonical, segments[i])
			}
			current = nil
			i++
		}
	}
	return strings.Join(canonical, ".")
}

func findExistingSegment(current map[string]any, segment string) (matched string, next map[string]any, ok bool) {
	if len(current) == 0 {
		return "", nil, false
	}
	needle := normalizeToken(segment)
	for key, value := range current {
		if normalizeToken(key) != needle {
			continue
		}
		child, _ := value.(map[string]any)
		return key, child, true
	}
	return "", nil, false
}

func normalizeToken(s string) string {
	var normalized strings.Builder
	normalized.Grow(len(s))
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			continue
		}
		normalized.WriteRune(unicode.ToLower(r))
	}
	return normalized.String()
}

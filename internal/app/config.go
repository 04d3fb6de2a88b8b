package app

import (
	"strings"
	"time"

	"github.com/yungbote/videoqueue-backend/internal/jobs/dispatcher"
	"github.com/yungbote/videoqueue-backend/internal/platform/envutil"
	"github.com/yungbote/videoqueue-backend/internal/platform/logger"
)

const (
	RunModeAll    = "all"
	RunModeAPI    = "api"
	RunModeWorker = "worker"
)

type Config struct {
	RunMode     string
	Port        string
	Environment string
	Version     string

	JWTSecretKey   string
	AccessTokenTTL time.Duration
	CallbackSecret string
	CORSOrigins    []string

	ExecutorBackend    string
	ExecutorBaseURL    string
	ExecutorAPIKey     string
	ExecutorTimeout    time.Duration
	ExecutorRoutesFile string
	ExecutorLocalRoot  string
	ExecutorRemoteRoot string

	RedisAddr       string
	RedisChannel    string
	DispatchLockKey string

	SubmitRatePerMin int
	SubmitBurst      int

	MetricsAddr string

	Dispatch dispatcher.Config
}

func LoadConfig(log *logger.Logger) Config {
	cfg := Config{
		RunMode:     strings.ToLower(envutil.String("RUN_MODE", RunModeAll)),
		Port:        envutil.String("PORT", "8080"),
		Environment: envutil.String("APP_ENV", "development"),
		Version:     envutil.String("APP_VERSION", ""),

		JWTSecretKey:   envutil.String("JWT_SECRET_KEY", ""),
		AccessTokenTTL: envutil.Duration("ACCESS_TOKEN_TTL", time.Hour),
		CallbackSecret: envutil.String("CALLBACK_SECRET", ""),
		CORSOrigins:    splitList(envutil.String("CORS_ALLOW_ORIGINS", "")),

		ExecutorBackend:    strings.ToLower(envutil.String("EXECUTOR_BACKEND", "http")),
		ExecutorBaseURL:    envutil.String("EXECUTOR_BASE_URL", "http://localhost:8188"),
		ExecutorAPIKey:     envutil.String("EXECUTOR_API_KEY", ""),
		ExecutorTimeout:    envutil.Duration("EXECUTOR_TIMEOUT", 30*time.Second),
		ExecutorRoutesFile: envutil.String("EXECUTOR_ROUTES_FILE", ""),
		ExecutorLocalRoot:  envutil.String("EXECUTOR_LOCAL_ROOT", ""),
		ExecutorRemoteRoot: envutil.String("EXECUTOR_REMOTE_ROOT", ""),

		RedisAddr:       envutil.String("REDIS_ADDR", ""),
		RedisChannel:    envutil.String("REDIS_CHANNEL", "video-jobs"),
		DispatchLockKey: envutil.String("DISPATCH_LOCK_KEY", "videoqueue:dispatch-lock"),

		SubmitRatePerMin: envutil.Int("SUBMIT_RATE_PER_MIN", 0),
		SubmitBurst:      envutil.Int("SUBMIT_RATE_BURST", 3),

		MetricsAddr: envutil.String("METRICS_ADDR", ":9090"),

		Dispatch: dispatcher.LoadConfig(),
	}
	switch cfg.RunMode {
	case RunModeAll, RunModeAPI, RunModeWorker:
	default:
		log.Warn("Unknown RUN_MODE; running everything", "run_mode", cfg.RunMode)
		cfg.RunMode = RunModeAll
	}
	if cfg.JWTSecretKey == "" && cfg.servesAPI() {
		log.Warn("JWT_SECRET_KEY not set; every authenticated request will be rejected")
	}
	return cfg
}

func (c Config) servesAPI() bool  { return c.RunMode == RunModeAll || c.RunMode == RunModeAPI }
func (c Config) runsWorker() bool { return c.RunMode == RunModeAll || c.RunMode == RunModeWorker }

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

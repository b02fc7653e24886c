package core

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/quka-ai/ragstream/app/core/srv"
	"github.com/quka-ai/ragstream/pkg/i18n"
	"github.com/quka-ai/ragstream/pkg/utils"
)

type Core struct {
	cfg CoreConfig
	srv *srv.Srv

	httpEngine *gin.Engine
	localizer  i18n.Localizer
	redis      redis.UniversalClient
	limiters   *limiterRegistry
	semaphores *SemaphoreManager

	metrics *Metrics
}

// MustSetupCore builds the process wide dependencies. opts replace the
// backends built from cfg, which tests use to install fakes.
func MustSetupCore(cfg CoreConfig, opts ...srv.ApplyFunc) *Core {
	{
		var writer io.Writer = os.Stdout
		if cfg.Log.Path != "" {
			writer = &lumberjack.Logger{
				Filename:   cfg.Log.Path,
				MaxSize:    500, // megabytes
				MaxBackups: 3,
				MaxAge:     28,   //days
				Compress:   true, // disabled by default
			}
		}
		l := slog.New(slog.NewJSONHandler(writer, &slog.HandlerOptions{
			Level: cfg.Log.SlogLevel(),
		}))
		slog.SetDefault(l)
	}

	cfg.Normalize()
	core := &Core{
		cfg:        cfg,
		metrics:    NewMetrics("ragstream", "core"),
		httpEngine: gin.New(),
		localizer:  i18n.NewLocalizer(lo.Keys(i18n.ALLOW_LANG)...),
		limiters:   newLimiterRegistry(LIMITER_IDLE_TTL, LIMITER_SWEEP_INTERVAL),
	}
	core.semaphores = NewSemaphoreManager(core)
	utils.SetupIDWorker(1)

	setupRedis(core)
	SetupSrv(core, opts...)

	return core
}

func setupRedis(core *Core) {
	cfg := core.cfg.Redis
	if !cfg.Enabled() {
		return
	}

	addrs := []string{cfg.Addr}
	if cfg.Cluster {
		addrs = cfg.ClusterAddrs
	}
	opts := &redis.UniversalOptions{
		Addrs:       addrs,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: time.Duration(cfg.DialTimeout) * time.Second,
	}
	if cfg.Cluster {
		opts.DB = 0
	}
	client := redis.NewUniversalClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		panic(err)
	}
	core.redis = client
	slog.Info("redis connected", slog.Any("addrs", addrs))
}

func (s *Core) Cfg() CoreConfig {
	return s.cfg
}

func (s *Core) HttpEngine() *gin.Engine {
	return s.httpEngine
}

func (s *Core) Metrics() *Metrics {
	return s.metrics
}

func (s *Core) Localizer() i18n.Localizer {
	return s.localizer
}

// Redis is nil unless a redis address is configured.
func (s *Core) Redis() redis.UniversalClient {
	return s.redis
}

func (s *Core) Semaphore() *SemaphoreManager {
	return s.semaphores
}

func (s *Core) Srv() *srv.Srv {
	return s.srv
}

// GetAIStatus 获取AI系统状态
func (s *Core) GetAIStatus() map[string]interface{} {
	return s.srv.GetAIStatus()
}

package service

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/quka-ai/ragstream/app/core"
	"github.com/quka-ai/ragstream/app/response"
	"github.com/quka-ai/ragstream/cmd/service/handler"
	"github.com/quka-ai/ragstream/cmd/service/middleware"
	"github.com/quka-ai/ragstream/pkg/metrics"
)

func serve(core *core.Core) error {
	httpSrv := &handler.HttpSrv{
		Core:   core,
		Engine: core.HttpEngine(),
	}
	setupHttpRouter(httpSrv)

	slog.Info("http server listening", slog.String("addr", core.Cfg().Addr))
	return core.HttpEngine().Run(core.Cfg().Addr)
}

const STOP_PER_SECOND = 5

func GetIPLimitBuilder(appCore *core.Core) middleware.LimiterFunc {
	return func(key string, opts ...core.LimitOption) gin.HandlerFunc {
		return middleware.UseLimit(appCore, func(c *gin.Context) string {
			return key + ":" + c.ClientIP()
		}, opts...)
	}
}

func setupHttpRouter(s *handler.HttpSrv) {
	ipLimit := GetIPLimitBuilder(s.Core)

	s.Engine.Use(gin.Recovery())
	s.Engine.GET("/metrics", metrics.DefaultExportHandler())
	s.Engine.Use(middleware.I18n(s.Core), response.NewResponse())
	s.Engine.Use(middleware.Cors)
	s.Engine.Use(middleware.Metrics(s.Core), middleware.AcceptLanguage())

	api := s.Engine.Group("/api")
	{
		api.POST("/chat", ipLimit("chat"), s.Chat)
		api.POST("/chat/:messageid/stop", ipLimit("stop", core.WithLimit(STOP_PER_SECOND), core.WithRange(time.Second)), s.StopChatStream)
	}

	apiV1 := s.Engine.Group("/api/v1")
	{
		apiV1.GET("/mode", s.GetModes)
		apiV1.GET("/status", s.GetStatus)
	}
}

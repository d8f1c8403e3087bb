/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package http

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/linuxautomates/gitsei-sub041/internal/config"
)

func NewRouter(cfg config.Config, log zerolog.Logger, svc Service) *gin.Engine {
	if cfg.AppEnv != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		c.Next()
		log.Info().Str("m", c.Request.Method).Str("p", c.FullPath()).Int("s", c.Writer.Status()).Msg("http")
	})

	h := NewHandlers(log, svc)

	r.GET("/healthz", h.Healthz)

	v1 := r.Group("/v1/tenants/:tenant")
	v1.GET("/policy", h.Policy)
	integ := v1.Group("/integrations/:integration")
	integ.POST("/issues", h.IngestIssues)
	integ.POST("/sprints", h.IngestSprints)
	integ.POST("/statuses", h.IngestStatuses)

	admin := r.Group("/admin")
	admin.GET("/caches", h.CacheStats)
	admin.POST("/caches/purge", h.PurgeCaches)
	admin.GET("/runs/last", h.LastRun)

	return r
}

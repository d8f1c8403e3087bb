/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/linuxautomates/gitsei-sub041/internal/config"
	"github.com/linuxautomates/gitsei-sub041/internal/domain"
	"github.com/linuxautomates/gitsei-sub041/internal/services"
	"github.com/linuxautomates/gitsei-sub041/internal/sprints"
)

// Service is the part of services.Service the HTTP layer calls.
type Service interface {
	IngestIssues(ctx context.Context, tenant, integrationID string, req services.IngestRequest) (services.IngestResult, error)
	IngestSprints(ctx context.Context, tenant, integrationID string, list []domain.SprintMetadata) (int, error)
	IngestStatuses(ctx context.Context, tenant, integrationID string, cats []domain.StatusCategory) error
	CacheStats() []sprints.RegistryStats
	PurgeCaches() int
	GetLastRun(ctx context.Context) (*domain.IngestRun, error)
	Policy(tenant string) config.Policy
}

type Handlers struct {
	log zerolog.Logger
	svc Service
}

func NewHandlers(log zerolog.Logger, svc Service) *Handlers {
	return &Handlers{log: log, svc: svc}
}

func (h *Handlers) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handlers) IngestIssues(c *gin.Context) {
	var req services.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.svc.IngestIssues(c.Request.Context(), c.Param("tenant"), c.Param("integration"), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handlers) IngestSprints(c *gin.Context) {
	var body struct {
		Sprints []domain.SprintMetadata `json:"sprints"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	n, err := h.svc.IngestSprints(c.Request.Context(), c.Param("tenant"), c.Param("integration"), body.Sprints)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": len(body.Sprints), "written": n})
}

func (h *Handlers) IngestStatuses(c *gin.Context) {
	var body struct {
		Statuses []domain.StatusCategory `json:"statuses"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.svc.IngestStatuses(c.Request.Context(), c.Param("tenant"), c.Param("integration"), body.Statuses); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"written": len(body.Statuses)})
}

func (h *Handlers) Policy(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Policy(c.Param("tenant")))
}

func (h *Handlers) CacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"caches": h.svc.CacheStats()})
}

func (h *Handlers) PurgeCaches(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"purged": h.svc.PurgeCaches()})
}

func (h *Handlers) LastRun(c *gin.Context) {
	lr, err := h.svc.GetLastRun(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	if lr == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no runs yet"})
		return
	}
	c.JSON(http.StatusOK, lr)
}

func (h *Handlers) fail(c *gin.Context, err error) {
	if errors.Is(err, services.ErrInvalidRequest) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.log.Error().Err(err).Str("p", c.FullPath()).Msg("request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

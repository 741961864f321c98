// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package edge implements the admission pipeline: an ordered gin middleware
// chain (request-id, auth, tenant isolation, rate limit, circuit breaker)
// in front of the control plane's HTTP surface.
package edge

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"cybernetic/internal/breaker"
	"cybernetic/pkg/bucket"
)

// GenerateHandler forwards an analysis request into the VSM substrate.
type GenerateHandler interface {
	Generate(c *gin.Context, tenant string)
}

// SSEHandler streams server-sent events for an authenticated tenant.
type SSEHandler interface {
	ServeSSE(c *gin.Context, tenant string)
}

// TelegramHandler handles the Telegram webhook surface.
type TelegramHandler interface {
	HandleWebhook(c *gin.Context)
}

// Config wires the admission pipeline's dependencies.
type Config struct {
	Auth     AuthConfig
	Buckets  *bucket.Registry
	Breakers *breaker.Registry
	Log      *zap.Logger

	Generate GenerateHandler
	SSE      SSEHandler
	Telegram TelegramHandler
}

// New builds the gin engine implementing §4.6's admission pipeline and
// §6's HTTP surface.
func New(cfg Config) *gin.Engine {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestIDMiddleware())

	r.GET("/health", handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/", handleRoot)

	if cfg.Telegram != nil {
		r.POST("/telegram/webhook", cfg.Telegram.HandleWebhook)
	}

	admitted := r.Group("/")
	admitted.Use(
		authMiddleware(cfg.Auth, cfg.Log),
		tenantIsolationMiddleware(),
		rateLimitMiddleware(cfg.Buckets),
		breakerMiddleware(cfg.Breakers, "edge.api_gateway"),
	)

	admitted.POST("/v1/generate", func(c *gin.Context) {
		tenant := c.GetString(ctxTenant)
		if cfg.Generate == nil {
			c.JSON(http.StatusNotImplemented, gin.H{"error": "generate handler not configured"})
			return
		}
		cfg.Generate.Generate(c, tenant)
	})

	admitted.GET("/v1/events", func(c *gin.Context) {
		tenant := c.GetString(ctxTenant)
		if cfg.SSE == nil {
			c.JSON(http.StatusNotImplemented, gin.H{"error": "sse handler not configured"})
			return
		}
		cfg.SSE.ServeSSE(c, tenant)
	})

	return r
}

func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"service": "cybernetic-control-plane"})
}

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

package edge

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"cybernetic/internal/breaker"
	"cybernetic/pkg/bucket"
)

const (
	ctxRequestID = "cyb.request_id"
	ctxTenant    = "cyb.tenant"
)

// requestIDMiddleware stamps every request with a correlation id, reusing
// an inbound X-Request-Id if the caller already supplied one.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Header("X-Request-Id", id)
		c.Next()
	}
}

// authMiddleware resolves the tenant and rejects unauthenticated requests
// in production.
func authMiddleware(cfg AuthConfig, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant, err := Authenticate(c.Request.Context(), c.GetHeader("Authorization"), c.GetHeader("X-API-Key"), cfg)
		if err != nil {
			log.Info("authentication rejected", zap.String("request_id", c.GetString(ctxRequestID)))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(ctxTenant, tenant)
		c.Next()
	}
}

// tenantIsolationMiddleware enforces that an explicit X-Tenant-Id header, if
// present, matches the authenticated tenant, and validates the tenant id
// grammar.
func tenantIsolationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant := c.GetString(ctxTenant)
		if !ValidTenantID(tenant) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		if explicit := c.GetHeader("X-Tenant-Id"); explicit != "" && explicit != tenant {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

// rateLimitMiddleware consumes one unit of work at normal priority (two
// tokens) from the per-tenant api_gateway bucket.
func rateLimitMiddleware(buckets *bucket.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant := c.GetString(ctxTenant)
		b := buckets.GetOrCreate("api_gateway:" + tenant)
		if !b.Consume(1, bucket.PriorityNormal) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
			return
		}
		c.Next()
	}
}

// breakerMiddleware rejects the request immediately if the named edge
// breaker is open; otherwise it runs the handler chain and then reports the
// outcome to the breaker via recordBreakerOutcome (edge does not wrap the
// handler in Call, since gin handlers are not easily modeled as a single
// fn() error).
func breakerMiddleware(breakers *breaker.Registry, name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		b := breakers.Get(name)
		if b.State() == breaker.Open {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "circuit_open"})
			return
		}
		c.Set("cyb.breaker", b)
		c.Next()
		recordBreakerOutcome(c)
	}
}

// recordBreakerOutcome reports c's handler outcome (status >= 500 counts as
// a failure) to the breaker stashed by breakerMiddleware, if any.
func recordBreakerOutcome(c *gin.Context) {
	v, ok := c.Get("cyb.breaker")
	if !ok {
		return
	}
	b := v.(*breaker.Breaker)
	if c.Writer.Status() >= http.StatusInternalServerError {
		b.ReportFailure()
	} else {
		b.ReportSuccess()
	}
}

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

// Package main boots one control-plane process: it resolves configuration,
// wires the bus, the five VSM subsystems, the CRDT replica, the SSE hub and
// the edge gateway together, then serves until an OS signal asks it to stop.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"cybernetic/internal/breaker"
	"cybernetic/internal/bus"
	"cybernetic/internal/config"
	"cybernetic/internal/coordinator"
	"cybernetic/internal/crdt"
	"cybernetic/internal/edge"
	"cybernetic/internal/errs"
	"cybernetic/internal/persistence"
	"cybernetic/internal/policy"
	"cybernetic/internal/sse"
	"cybernetic/internal/telemetry"
	"cybernetic/internal/vsm"
	"cybernetic/pkg/bucket"
	"cybernetic/pkg/envelope"
	"cybernetic/pkg/replay"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "control-plane: configuration error: %v\n", err)
		os.Exit(1)
	}

	log, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "control-plane: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting control plane", zap.String("environment", string(cfg.Environment)), zap.String("http_addr", cfg.HTTPAddr))

	// --- Security envelope: signing keys and replay ledger. ---
	keys := envelope.NewKeyRing("k1", []byte(cfg.HMACSecret))
	ledger := replay.New(replay.Config{Window: cfg.ReplayWindow})
	defer ledger.Close()

	// --- Persistence adapter: idempotent commit/marker layer. ---
	persister, err := persistence.BuildPersister(cfg.PersistenceAdapter, persistence.AdapterOptions{
		RedisAddr:   cfg.RedisAddr,
		KafkaTopic:  cfg.KafkaTopic,
		PostgresDSN: cfg.PostgresDSN,
	})
	if err != nil {
		log.Fatal("building persistence adapter", zap.Error(err))
	}

	// --- S2, S3, S5 subsystems, shared across bus handlers and the edge
	// gateway alike. ---
	coord := coordinator.New(coordinator.Config{
		MaxSlots:   cfg.MaxSlots,
		AgingMs:    cfg.AgingMs,
		AgingCap:   cfg.AgingCap,
		AgingBoost: cfg.AgingBoost,
	}, log)

	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: float64(cfg.BreakerFailureThreshold),
		SuccessThreshold: cfg.BreakerSuccessThreshold,
		BaseBackoff:      cfg.BreakerBaseBackoff,
		MaxBackoff:       cfg.BreakerMaxBackoff,
	}, log)

	buckets := bucket.NewRegistry(cfg.DefaultRateLimit, cfg.DefaultRefillRate, time.Hour)
	defer buckets.CloseAll()

	policies := policy.NewRegistry(policy.EvalOptions{
		MaxDepth: cfg.PolicyMaxDepth,
		Timeout:  cfg.PolicyTimeout,
	})

	// --- Telemetry: operation counters, Prometheus collectors, live console. ---
	reporter := telemetry.NewReporter(telemetry.ReporterConfig{
		FlushInterval: cfg.ChurnLogInterval,
		TopN:          cfg.ChurnTopN,
		Live:          !cfg.IsProduction(),
	})
	reporter.Start()
	defer reporter.Stop()

	// --- VSM pipeline: the S1-S5 façade the bus handlers and edge gateway
	// both dispatch into. ---
	pipeline := vsm.NewPipeline(vsm.PipelineOptions{
		Workers:                16,
		ShardCount:             16,
		OrderPow2:              4,
		CountThreshold:         256,
		TimeCap:                time.Second,
		TelemetrySink:          reporter,
		TelemetryBuffer:        1024,
		TelemetryFlushInterval: cfg.ChurnLogInterval,
		Coordinator:            coord,
		Breakers:               breakers,
		Limiter:                buckets,
		Policies:               policies,
	})
	registerVSMHandlers(pipeline, log)
	pipeline.Start()
	defer pipeline.Stop()

	// --- CRDT replica: single-process membership for now, real gossip or
	// k8s endpoint watching is a deployment-time concern. ---
	membership := crdt.NewStaticMembership(nil)
	replica := crdt.NewReplica(cfg.AMQPExchange, membership, nil, crdt.DefaultReplicaOptions())
	replica.Start()
	defer replica.Stop()

	// --- SSE hub: fans VSM-originated events out to authenticated tenants. ---
	hub := sse.NewHub(sse.DefaultShards, sse.DefaultHistory, log)
	defer hub.Stop()
	sseHandler := sse.NewHandler(hub, cfg.SSEHeartbeat, log)

	// --- Bus: topology, publisher, consumer, wired to the pipeline. ---
	conn, ch, err := dialAMQP(cfg.AMQPURL)
	if err != nil {
		log.Fatal("dialing AMQP broker", zap.Error(err))
	}
	defer conn.Close()
	defer ch.Close()

	if err := bus.NewTopology(ch).Declare(allBusSystems(), nil); err != nil {
		log.Fatal("declaring bus topology", zap.Error(err))
	}

	publisher, err := bus.NewPublisher(ch, cfg.AMQPExchange, keys, log)
	if err != nil {
		log.Fatal("constructing publisher", zap.Error(err))
	}

	consumerCfg := bus.DefaultConsumerConfig("vsm.system1.work")
	consumerCfg.MaxRetries = int32(cfg.MaxRetries)
	consumerCfg.Policy = envelope.Policy{MaxSkew: cfg.MaxSkew, ReplayWindow: cfg.ReplayWindow}

	handlers := busHandlers(pipeline, persister, hub, log)
	consumer := bus.NewConsumer(func() (*amqp.Connection, error) {
		return amqp.Dial(cfg.AMQPURL)
	}, keys, ledger.CheckAndRemember, handlers, consumerCfg, log)

	consumerCtx, cancelConsumer := context.WithCancel(context.Background())
	go func() {
		if err := consumer.Run(consumerCtx); err != nil && consumerCtx.Err() == nil {
			log.Error("consumer exited", zap.Error(err))
		}
	}()

	// --- Edge gateway: the admission pipeline in front of everything above. ---
	jwks := edge.NewJWKSCache("", cfg.JWKSCacheTTL, cfg.IsProduction())
	authCfg := edge.AuthConfig{
		Environment:   string(cfg.Environment),
		SystemAPIKey:  cfg.SystemAPIKey,
		JWKS:          jwks,
		DefaultTenant: "dev-tenant",
	}
	generate := &generateHandler{pipeline: pipeline, publisher: publisher, exchange: cfg.AMQPExchange, log: log}

	engine := edge.New(edge.Config{
		Auth:     authCfg,
		Buckets:  buckets,
		Breakers: breakers,
		Log:      log,
		Generate: generate,
		SSE:      sseHandler,
	})

	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: engine}
	go func() {
		log.Info("edge gateway listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("edge gateway terminated", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info("shutdown signal received")

	cancelConsumer()
	consumer.Stop()

	pipeline.FlushTelemetry()
	reporter.Report()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("edge gateway shutdown failed", zap.Error(err))
	}

	log.Info("control plane stopped")
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	if cfg.IsProduction() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func dialAMQP(url string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	return conn, ch, nil
}

func allBusSystems() []bus.System {
	return []bus.System{bus.S1, bus.S2, bus.S3, bus.S4, bus.S5}
}

// registerVSMHandlers wires a minimal per-system handler table so the
// router has somewhere to dispatch work handed in from bus consumers and
// the edge gateway. Domain-specific systems built on top of this substrate
// are expected to register their own handlers at construction time; these
// defaults keep every system routable out of the box.
func registerVSMHandlers(p *vsm.Pipeline, log *zap.Logger) {
	for _, sys := range vsm.Systems {
		sys := sys
		p.Router.Register(sys, "coordinate", func(ctx context.Context, ep vsm.Episode) error {
			log.Debug("vsm dispatch", zap.String("system", sys.String()), zap.String("episode", ep.ID))
			return nil
		})
	}
}

// busHandlers returns a single fallback handler (registered under the empty
// routing key, per bus.Consumer's exact-match-then-fallback lookup) that
// resolves the target system from the envelope's routing key prefix
// (s1.*, s2.*, ...) and dispatches the decoded episode into the pipeline.
// topology.go binds each system's queue only to that system's own patterns
// (vsm.sN.* on the events exchange, sN.# on the VSM exchange).
func busHandlers(p *vsm.Pipeline, persister persistence.IdempotentPersister, hub *sse.Hub, log *zap.Logger) map[string]bus.Handler {
	return map[string]bus.Handler{
		"": func(ctx context.Context, env envelope.Envelope) error {
			sys, ok := systemFromRoutingKey(env.RoutingKey)
			if !ok {
				return fmt.Errorf("%w: routing key %q names no system", errs.ErrUnknownType, env.RoutingKey)
			}

			var ep vsm.Episode
			if err := json.Unmarshal(env.Payload, &ep); err != nil {
				return fmt.Errorf("decode episode payload: %w", err)
			}
			ep.SourceSystem = sys

			if err := p.Dispatch(ctx, vsm.RouteInput{
				System:      sys,
				MessageType: ep.Kind,
				EpisodeID:   ep.ID,
				CrossSystem: env.Headers.CausalVector != nil,
			}, ep); err != nil {
				return err
			}

			if err := persister.CommitBatch(ctx, []persistence.CommitEntry{{
				Key:      sys.String(),
				CommitID: env.Security.Nonce,
			}}); err != nil {
				log.Warn("persistence checkpoint failed", zap.Error(err), zap.String("system", sys.String()))
			}

			if _, err := hub.Publish("system", sys.String(), ep.Kind, env.Payload); err != nil {
				log.Debug("sse publish skipped", zap.Error(err))
			}
			return nil
		},
	}
}

// systemFromRoutingKey maps a routing key's leading "sN" segment (e.g.
// "s3.budget_exhausted" or "vsm.s3.work") to a VSM system.
func systemFromRoutingKey(routingKey string) (vsm.System, bool) {
	for _, sys := range vsm.Systems {
		prefix := sys.String() + "."
		if strings.HasPrefix(routingKey, prefix) || strings.Contains(routingKey, "."+prefix) {
			return sys, true
		}
	}
	return 0, false
}

// generateHandler implements edge.GenerateHandler, bridging the HTTP
// surface's /v1/generate endpoint into S4's episode analysis.
type generateHandler struct {
	pipeline  *vsm.Pipeline
	publisher *bus.Publisher
	exchange  string
	log       *zap.Logger
}

type generateRequest struct {
	Kind     string         `json:"kind"`
	Title    string         `json:"title"`
	Priority float64        `json:"priority"`
	Data     string         `json:"data"`
	Context  map[string]any `json:"context"`
}

func (h *generateHandler) Generate(c *gin.Context, tenant string) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ep := vsm.Episode{
		ID:        fmt.Sprintf("%s-%d", tenant, time.Now().UnixNano()),
		Kind:      req.Kind,
		Title:     req.Title,
		Priority:  req.Priority,
		Context:   req.Context,
		Data:      []byte(req.Data),
		CreatedAt: time.Now(),
		Metadata:  map[string]string{"tenant": tenant},
	}

	analysis, err := h.pipeline.AnalyzeEpisode(c.Request.Context(), ep)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, errs.ErrRateLimited) {
			status = http.StatusTooManyRequests
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	analysisPayload, _ := json.Marshal(analysis)
	if err := h.publisher.Publish(c.Request.Context(), h.exchange, "s4.analyzed", analysisPayload, envelope.RoutingMeta{
		RoutingKey:    "s4.analyzed",
		Exchange:      h.exchange,
		ContentType:   "application/json",
		Source:        "edge.generate",
		CorrelationID: ep.ID,
	}, bus.DefaultPublishOptions()); err != nil {
		h.log.Warn("publishing analysis result failed", zap.Error(err), zap.String("episode_id", ep.ID))
	}

	c.JSON(http.StatusOK, gin.H{
		"episode_id": ep.ID,
		"summary":    analysis.Summary,
		"confidence": analysis.Confidence,
		"tags":       analysis.Tags,
	})
}

// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
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

package persistence

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
)

// AdapterOptions configures the adapter BuildPersister selects. Zero values
// fall back to adapter-specific defaults.
type AdapterOptions struct {
	RedisAddr      string
	RedisMarkerTTL time.Duration
	KafkaTopic     string
	PostgresDSN    string
	CreateMissing  bool
}

// BuildPersister constructs an IdempotentPersister from a string selector.
// Supported adapters: "mock" (default), "redis", "kafka", "postgres".
func BuildPersister(adapter string, opts AdapterOptions) (IdempotentPersister, error) {
	switch adapter {
	case "", "mock":
		return NewMockPersister(), nil
	case "redis":
		ttl := opts.RedisMarkerTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		var evaler RedisEvaler
		if opts.RedisAddr != "" {
			evaler = NewGoRedisEvaler(opts.RedisAddr)
		} else {
			evaler = LoggingRedisEvaler{}
		}
		return NewRedisPersister(evaler, ttl), nil
	case "kafka":
		topic := opts.KafkaTopic
		if topic == "" {
			topic = "cyb-commits"
		}
		return NewKafkaPersister(LoggingKafkaProducer{}, topic), nil
	case "postgres":
		if opts.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres adapter requires PostgresDSN")
		}
		db, err := sql.Open("pgx", opts.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return NewPostgresPersister(db, opts.CreateMissing), nil
	default:
		return nil, fmt.Errorf("unknown persistence adapter: %s", adapter)
	}
}

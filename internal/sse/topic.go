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

// Package sse implements the server-sent event fan-out: per-tenant
// topic-pattern subscriptions, heartbeats, and last-event-id resumption,
// over an in-process pub-sub sharded by rendezvous hashing.
package sse

import (
	"fmt"
	"regexp"
	"strings"
)

var topicPattern = regexp.MustCompile(`^[a-z0-9_]+\.(\*|[a-z0-9_]+)$`)

// pattern is a parsed subscription pattern: a base topic plus either a
// wildcard (matches any event type under the base) or an exact event type.
type pattern struct {
	base     string
	wildcard bool
	exact    string
}

// parsePattern validates and decomposes a client-supplied pattern such as
// "episode.*" or "episode.created".
func parsePattern(raw string) (pattern, error) {
	if !topicPattern.MatchString(raw) {
		return pattern{}, fmt.Errorf("sse: invalid topic pattern %q", raw)
	}
	base, rest, _ := strings.Cut(raw, ".")
	if rest == "*" {
		return pattern{base: base, wildcard: true}, nil
	}
	return pattern{base: base, exact: rest}, nil
}

// parsePatterns splits a comma-separated topics query value and parses each.
func parsePatterns(raw string) ([]pattern, error) {
	fields := strings.Split(raw, ",")
	out := make([]pattern, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		p, err := parsePattern(f)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("sse: no topic patterns supplied")
	}
	return out, nil
}

// matches reports whether p admits an event of the given type.
func (p pattern) matches(eventType string) bool {
	return p.wildcard || p.exact == eventType
}

// tenantKey scopes a base topic to a tenant so the pub-sub never crosses
// tenant boundaries (§4.7 isolation, §8 scenario 6).
func tenantKey(tenant, base string) string {
	return "events:tenant:" + tenant + ":" + base
}

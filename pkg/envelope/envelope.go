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

// Package envelope implements the bus's universal message unit: canonical
// encoding, HMAC-SHA256 signing over routing metadata, key rotation, and
// clock-skew policy. It is the security boundary every message crosses
// before it is trusted anywhere else in the control plane.
package envelope

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"cybernetic/internal/errs"
)

// Security carries the tamper-evidence headers every envelope must have
// before it is allowed onto the bus.
type Security struct {
	Nonce     string
	Timestamp int64 // unix millis
	Site      string
	Signature string // hex-encoded HMAC-SHA256
	KeyID     string
}

// Headers carries the routing-adjacent metadata defined in §3.
type Headers struct {
	CorrelationID string
	Source        string
	TimestampMs   int64
	CausalVector  []byte // optional; Enrich leaves it empty
}

// Envelope is the bus's universal unit of transport.
type Envelope struct {
	RoutingKey  string
	Exchange    string
	ContentType string
	Payload     []byte
	Headers     Headers
	Security    Security
}

// RoutingMeta is what a caller supplies to Enrich; Enrich fills in the
// security envelope around it.
type RoutingMeta struct {
	RoutingKey  string
	Exchange    string
	ContentType string
	Source      string
	CorrelationID string
}

// Policy bounds the clock-skew and replay-window tolerances used by Verify.
type Policy struct {
	MaxSkew      time.Duration
	ReplayWindow time.Duration
}

// DefaultPolicy returns the documented clock-skew and replay-window
// tolerances.
func DefaultPolicy() Policy {
	return Policy{MaxSkew: 5 * time.Second, ReplayWindow: 90 * time.Second}
}

// Enrich attaches a fresh nonce, current wall timestamp, site identifier,
// the active key id, and an HMAC over the canonical string to payload,
// producing a signed Envelope ready for the bus.
func Enrich(payload []byte, meta RoutingMeta, site string, keys *KeyRing) (Envelope, error) {
	if keys == nil {
		return Envelope{}, errors.New("envelope: nil key ring")
	}
	nonce, err := newNonce()
	if err != nil {
		return Envelope{}, fmt.Errorf("envelope: generate nonce: %w", err)
	}
	now := time.Now().UnixMilli()
	correlationID := meta.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	env := Envelope{
		RoutingKey:  meta.RoutingKey,
		Exchange:    meta.Exchange,
		ContentType: meta.ContentType,
		Payload:     payload,
		Headers: Headers{
			CorrelationID: correlationID,
			Source:        meta.Source,
			TimestampMs:   now,
		},
		Security: Security{
			Nonce:     nonce,
			Timestamp: now,
			Site:      site,
			KeyID:     keys.ActiveKeyID(),
		},
	}

	secret, ok := keys.Secret(env.Security.KeyID)
	if !ok {
		return Envelope{}, errors.New("envelope: active key id has no registered secret")
	}
	env.Security.Signature = sign(secret, canonical(env))
	return env, nil
}

// Verify performs, in order: (1) presence of all security headers;
// (2) clock-skew check; (3) replay check against seen; (4) HMAC
// recomputation with the key identified by key_id; (5) constant-time
// signature comparison. Any failure fails closed with a distinct error kind.
//
// seen is called at most once, only after the envelope has passed the
// presence and clock-skew checks and before the signature check, so it also
// sees nonces of envelopes that then fail on signature — callers
// (internal/bus) own recording the nonce via pkg/replay.
func Verify(env Envelope, keys *KeyRing, policy Policy, seen func(nonce string) bool) error {
	if env.Security.Nonce == "" || env.Security.Timestamp == 0 || env.Security.Site == "" ||
		env.Security.Signature == "" || env.Security.KeyID == "" {
		return errs.ErrMissingSecurityHeaders
	}

	now := time.Now().UnixMilli()
	skew := time.Duration(now-env.Security.Timestamp) * time.Millisecond
	if skew < -policy.MaxSkew {
		return errs.ErrClockSkewFuture
	}
	if skew > policy.ReplayWindow {
		return errs.ErrExpiredTimestamp
	}

	if seen != nil && seen(env.Security.Nonce) {
		return errs.ErrReplayDetected
	}

	secret, ok := keys.Secret(env.Security.KeyID)
	if !ok {
		return errs.ErrInvalidSignature
	}
	expected := sign(secret, canonical(env))
	if !hmac.Equal([]byte(expected), []byte(env.Security.Signature)) {
		return errs.ErrInvalidSignature
	}
	return nil
}

// StripSecurity returns a copy of env with its security headers zeroed,
// suitable for handing the payload to application code that should not see
// or forward transport-layer signing material.
func StripSecurity(env Envelope) Envelope {
	out := env
	out.Security = Security{}
	return out
}

// canonical builds the fixed-separator string the signature is computed
// over: nonce | timestamp | site | exchange | routing_key | content_type |
// payload_bytes.
func canonical(env Envelope) string {
	const sep = "|"
	return env.Security.Nonce + sep +
		fmt.Sprintf("%d", env.Security.Timestamp) + sep +
		env.Security.Site + sep +
		env.Exchange + sep +
		env.RoutingKey + sep +
		env.ContentType + sep +
		string(env.Payload)
}

func sign(secret []byte, canonicalStr string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(canonicalStr))
	return hex.EncodeToString(mac.Sum(nil))
}

func newNonce() (string, error) {
	// 16 bytes = 128 bits of entropy, comfortably over the documented
	// 126-bit floor.
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

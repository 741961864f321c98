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

// Package errs defines the error-kind taxonomy shared across the control
// plane. Kinds are sentinel values, not types, so every layer can compare
// with errors.Is regardless of which component wrapped the underlying cause.
package errs

import "errors"

// Envelope integrity.
var (
	ErrMissingSecurityHeaders = errors.New("missing_security_headers")
	ErrInvalidSignature       = errors.New("invalid_signature")
	ErrClockSkewPast          = errors.New("clock_skew_past")
	ErrClockSkewFuture        = errors.New("clock_skew_future")
	ErrExpiredTimestamp       = errors.New("expired_timestamp")
)

// Replay.
var ErrReplayDetected = errors.New("replay_detected")

// Admission.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrRateLimited  = errors.New("rate_limited")
	ErrCircuitOpen  = errors.New("circuit_open")
)

// Bus.
var (
	ErrPublishNack    = errors.New("publish_nack")
	ErrConfirmTimeout = errors.New("confirm_timeout")
	ErrChannelDown    = errors.New("channel_down")
	ErrDecode         = errors.New("decode_error")
)

// Handler.
var (
	ErrUnknownType      = errors.New("unknown_type")
	ErrHandlerException = errors.New("handler_exception")
	ErrHandlerTimeout   = errors.New("handler_timeout")
)

// Policy.
var (
	ErrParse           = errors.New("parse_error")
	ErrValidationFailed = errors.New("validation_failed")
	ErrRecursionLimit  = errors.New("recursion_limit")
	ErrEvaluationTimeout = errors.New("evaluation_timeout")
)

// External.
var (
	ErrProviderUnavailable  = errors.New("provider_unavailable")
	ErrProviderRateLimited  = errors.New("provider_rate_limited")
	ErrProviderError        = errors.New("provider_error")
)

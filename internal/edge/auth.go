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
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"cybernetic/internal/errs"
)

// tenantIDPattern is the tenant id validation grammar: 1-128 ASCII
// alphanumerics, underscores, or hyphens.
var tenantIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,128}$`)

// ValidTenantID reports whether id satisfies the tenant id grammar.
func ValidTenantID(id string) bool {
	return tenantIDPattern.MatchString(id)
}

// claims is the minimal JWT claim set the pipeline trusts for tenancy.
type claims struct {
	Subject   string `json:"sub"`
	Tenant    string `json:"tenant"`
	ExpiresAt int64  `json:"exp"`
}

type jwtHeader struct {
	Alg string `json:"alg"`
	Kid string `json:"kid"`
}

// verifyJWT validates an RS256-signed compact JWT against keys and returns
// its claims. No external JWT library is used: only RS256 is supported
// (matching the one algorithm the control plane's identity provider is
// expected to sign with), so a ~30-line manual verifier is simpler and has
// a smaller trust surface than pulling in a general-purpose JOSE library
// for one algorithm.
func verifyJWT(token string, keys map[string]*rsa.PublicKey) (claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return claims{}, fmt.Errorf("edge: malformed jwt")
	}

	headerBytes, err := base64URLDecode(parts[0])
	if err != nil {
		return claims{}, fmt.Errorf("edge: decode jwt header: %w", err)
	}
	var hdr jwtHeader
	if err := json.Unmarshal(headerBytes, &hdr); err != nil {
		return claims{}, fmt.Errorf("edge: parse jwt header: %w", err)
	}
	if hdr.Alg != "RS256" {
		return claims{}, fmt.Errorf("edge: unsupported jwt alg %q", hdr.Alg)
	}

	key, ok := keys[hdr.Kid]
	if !ok {
		return claims{}, fmt.Errorf("edge: unknown jwt key id %q", hdr.Kid)
	}

	signature, err := base64URLDecode(parts[2])
	if err != nil {
		return claims{}, fmt.Errorf("edge: decode jwt signature: %w", err)
	}
	signingInput := parts[0] + "." + parts[1]
	digest := sha256.Sum256([]byte(signingInput))
	if err := rsa.VerifyPKCS1v15(key, crypto.SHA256, digest[:], signature); err != nil {
		return claims{}, errs.ErrInvalidSignature
	}

	payloadBytes, err := base64URLDecode(parts[1])
	if err != nil {
		return claims{}, fmt.Errorf("edge: decode jwt payload: %w", err)
	}
	var c claims
	if err := json.Unmarshal(payloadBytes, &c); err != nil {
		return claims{}, fmt.Errorf("edge: parse jwt claims: %w", err)
	}
	if c.ExpiresAt != 0 && time.Now().Unix() > c.ExpiresAt {
		return claims{}, fmt.Errorf("edge: jwt expired")
	}
	return c, nil
}

// AuthConfig bounds the authenticator's behaviour.
type AuthConfig struct {
	Environment  string // "production" disables the unauthenticated default tenant
	SystemAPIKey string
	JWKS         *JWKSCache
	DefaultTenant string
}

// Authenticate resolves the tenant for an inbound request from, in order: a
// bearer JWT (verified against JWKS), a static system API key, or — outside
// production — a default tenant for unauthenticated callers.
func Authenticate(ctx context.Context, authz, apiKeyHeader string, cfg AuthConfig) (tenant string, err error) {
	if bearer, ok := strings.CutPrefix(authz, "Bearer "); ok && bearer != "" {
		if cfg.JWKS == nil {
			return "", errs.ErrUnauthorized
		}
		keys, kerr := cfg.JWKS.Get(ctx)
		if kerr != nil {
			return "", errs.ErrUnauthorized
		}
		c, verr := verifyJWT(bearer, keys)
		if verr != nil {
			return "", errs.ErrUnauthorized
		}
		if c.Tenant == "" || !ValidTenantID(c.Tenant) {
			return "", errs.ErrUnauthorized
		}
		return c.Tenant, nil
	}

	if apiKeyHeader != "" && cfg.SystemAPIKey != "" {
		if subtle.ConstantTimeCompare([]byte(apiKeyHeader), []byte(cfg.SystemAPIKey)) == 1 {
			return "system", nil
		}
		return "", errs.ErrUnauthorized
	}

	if cfg.Environment != "production" {
		tenant := cfg.DefaultTenant
		if tenant == "" {
			tenant = "default-tenant"
		}
		return tenant, nil
	}

	return "", errs.ErrUnauthorized
}

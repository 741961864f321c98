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
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// jwk is a single RSA public key entry from a JSON Web Key Set.
type jwk struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwksDocument struct {
	Keys []jwk `json:"keys"`
}

// JWKSCache fetches and caches a JSON Web Key Set with a bounded TTL. Every
// fetch is guarded against SSRF: in production the URL must be HTTPS,
// redirects are refused, and the resolved address must not land in a
// private, loopback, or link-local range.
type JWKSCache struct {
	url        string
	ttl        time.Duration
	production bool
	client     *http.Client

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

// NewJWKSCache constructs a cache for the JWKS at url, refreshed at most
// once per ttl.
func NewJWKSCache(jwksURL string, ttl time.Duration, production bool) *JWKSCache {
	return &JWKSCache{
		url:        jwksURL,
		ttl:        ttl,
		production: production,
		client: &http.Client{
			Timeout: 5 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Get returns the cached key set, refreshing it if the TTL has elapsed.
func (c *JWKSCache) Get(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.keys != nil && time.Since(c.fetchedAt) < c.ttl {
		return c.keys, nil
	}

	keys, err := c.fetch(ctx)
	if err != nil {
		if c.keys != nil {
			return c.keys, nil // serve stale rather than fail closed on a transient fetch error
		}
		return nil, err
	}
	c.keys = keys
	c.fetchedAt = time.Now()
	return c.keys, nil
}

func (c *JWKSCache) fetch(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	if err := c.guardURL(c.url); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("edge: jwks fetch %s: status %d", c.url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	var doc jwksDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("edge: decode jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		pub, err := rsaPublicKeyFromJWK(k)
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}
	return keys, nil
}

// guardURL enforces the SSRF posture required by §4.6: HTTPS-only in
// production, and the resolved host must not be a private, loopback, or
// link-local address (RFC1918 and friends), regardless of environment.
func (c *JWKSCache) guardURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("edge: invalid jwks url: %w", err)
	}
	if c.production && u.Scheme != "https" {
		return fmt.Errorf("edge: jwks url must be https in production")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("edge: unsupported jwks scheme %q", u.Scheme)
	}

	host := u.Hostname()
	addrs, err := net.LookupHost(host)
	if err != nil {
		return fmt.Errorf("edge: resolve jwks host: %w", err)
	}
	for _, a := range addrs {
		ip := net.ParseIP(a)
		if ip == nil {
			continue
		}
		if isDisallowedIP(ip) {
			return fmt.Errorf("edge: jwks host %q resolves to a disallowed address %s", host, a)
		}
	}
	return nil
}

// isDisallowedIP reports whether ip is loopback, link-local, or a private
// (RFC1918 / unique-local) address.
func isDisallowedIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return true
	}
	if ip.IsPrivate() {
		return true
	}
	return false
}

func rsaPublicKeyFromJWK(k jwk) (*rsa.PublicKey, error) {
	nBytes, err := base64URLDecode(k.N)
	if err != nil {
		return nil, err
	}
	eBytes, err := base64URLDecode(k.E)
	if err != nil {
		return nil, err
	}
	n := new(big.Int).SetBytes(nBytes)
	e := new(big.Int).SetBytes(eBytes)
	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

// base64URLDecode decodes a JWKS/JWT base64url field, tolerating either
// unpadded base64url or a padded form some encoders still emit.
func base64URLDecode(s string) ([]byte, error) {
	s = strings.TrimRight(s, "=")
	return base64.RawURLEncoding.DecodeString(s)
}

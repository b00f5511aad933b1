// Copyright 2025 The octopus-usage-exporter Authors
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

package main

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

// Token is a bearer credential and the expiry decoded from it. Tokens are replaced, never mutated.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// TokenState is the lifecycle position of the managed token
type TokenState int

const (
	TokenNone TokenState = iota
	TokenValid
	TokenExpiring
	TokenRefreshing
)

func (s TokenState) String() string {
	switch s {
	case TokenValid:
		return "valid"
	case TokenExpiring:
		return "expiring"
	case TokenRefreshing:
		return "refreshing"
	default:
		return "none"
	}
}

// TokenStore persists the last issued token across restarts
type TokenStore interface {
	CachedToken() (string, bool)
	StoreToken(token Token) error
}

// TokenManager keeps a bearer token valid for the lifetime of the process.
// Only one refresh runs at a time; concurrent callers wait for its result.
type TokenManager struct {
	auth       AuthClient
	apiKey     string
	skew       time.Duration
	clock      Clock
	parser     *jwt.Parser
	current    atomic.Pointer[Token]
	refreshing atomic.Bool
	refreshes  atomic.Int64
	group      singleflight.Group
	store      TokenStore
	logger     *Logger
}

func NewTokenManager(auth AuthClient, apiKey string, skew time.Duration, logger *Logger) *TokenManager {
	if skew <= 0 {
		skew = JWTRefreshSkew
	}
	return &TokenManager{
		auth:   auth,
		apiKey: apiKey,
		skew:   skew,
		clock:  SystemClock,
		parser: jwt.NewParser(),
		logger: logger.WithComponent("token_manager"),
	}
}

// UseStore attaches persistent storage and adopts a cached token if it is still fresh
func (m *TokenManager) UseStore(store TokenStore) {
	m.store = store
	raw, ok := store.CachedToken()
	if !ok {
		return
	}
	tok, err := m.decode(raw)
	if err != nil {
		m.logger.Warnw("Ignoring unreadable cached JWT", "error", err.Error())
		return
	}
	if !m.fresh(tok) {
		m.logger.Debugw("Cached JWT too close to expiry", "expires_at", tok.ExpiresAt)
		return
	}
	m.current.Store(&tok)
	m.logger.Debugw("Loaded cached JWT", "expires_at", tok.ExpiresAt)
}

// EnsureValid returns a token that stays valid for at least the skew window, refreshing first if needed.
// When the refresh fails the error is an *AuthError and no token is returned.
func (m *TokenManager) EnsureValid(ctx context.Context) (Token, error) {
	if tok := m.current.Load(); tok != nil && m.fresh(*tok) {
		return *tok, nil
	}

	// Waiters share the first caller's refresh, so one caller's cancellation must not fail the rest
	refreshCtx := context.WithoutCancel(ctx)
	v, err, shared := m.group.Do("refresh", func() (interface{}, error) {
		if tok := m.current.Load(); tok != nil && m.fresh(*tok) {
			return *tok, nil
		}
		return m.refresh(refreshCtx)
	})
	if shared {
		m.logger.Debugw("Joined in-flight token refresh")
	}
	if err != nil {
		return Token{}, err
	}
	return v.(Token), nil
}

// Invalidate drops the current token if it is the one the API rejected
func (m *TokenManager) Invalidate(rejected Token) {
	cur := m.current.Load()
	if cur == nil || cur.Value != rejected.Value {
		return
	}
	if m.current.CompareAndSwap(cur, nil) {
		m.logger.Infow("Invalidated rejected JWT")
	}
}

// State reports where the token is in its lifecycle
func (m *TokenManager) State() TokenState {
	if m.refreshing.Load() {
		return TokenRefreshing
	}
	tok := m.current.Load()
	switch {
	case tok == nil:
		return TokenNone
	case m.fresh(*tok):
		return TokenValid
	default:
		return TokenExpiring
	}
}

// Refreshes counts successful token refreshes
func (m *TokenManager) Refreshes() int64 {
	return m.refreshes.Load()
}

func (m *TokenManager) refresh(ctx context.Context) (Token, error) {
	m.refreshing.Store(true)
	defer m.refreshing.Store(false)

	if prev := m.current.Load(); prev != nil {
		m.logger.Infow("JWT expiring, refreshing", "expires_at", prev.ExpiresAt)
	} else {
		m.logger.Infow("No JWT held, fetching new one")
	}

	raw, err := m.auth.ObtainToken(ctx, m.apiKey)
	if err != nil {
		m.current.Store(nil)
		var authErr *AuthError
		if errors.As(err, &authErr) {
			return Token{}, authErr
		}
		return Token{}, &AuthError{Message: "token request failed", Err: err}
	}

	tok, err := m.decode(raw)
	if err != nil {
		m.current.Store(nil)
		return Token{}, &AuthError{Message: "failed to decode issued token", Err: err}
	}
	if !m.fresh(tok) {
		m.current.Store(nil)
		return Token{}, &AuthError{Message: "issued token expires within the refresh skew window"}
	}

	m.current.Store(&tok)
	m.refreshes.Add(1)
	m.logger.Infow("JWT refresh success", "expires_at", tok.ExpiresAt)

	if m.store != nil {
		if err := m.store.StoreToken(tok); err != nil {
			m.logger.Warnw("Failed to persist JWT", "error", err.Error())
		}
	}
	return tok, nil
}

// decode reads the exp claim without verifying the signature; the token came over TLS from the issuer
func (m *TokenManager) decode(raw string) (Token, error) {
	value := strings.TrimSpace(strings.TrimPrefix(raw, "JWT "))
	claims := &jwt.RegisteredClaims{}
	if _, _, err := m.parser.ParseUnverified(value, claims); err != nil {
		return Token{}, err
	}
	if claims.ExpiresAt == nil {
		return Token{}, errors.New("token has no exp claim")
	}
	return Token{Value: value, ExpiresAt: claims.ExpiresAt.Time}, nil
}

func (m *TokenManager) fresh(tok Token) bool {
	return tok.Value != "" && tok.ExpiresAt.After(m.clock.Now().Add(m.skew))
}

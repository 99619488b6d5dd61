// Copyright 2025 walteh LLC
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

package plugin

import (
	"context"
	"strings"
	"sync"

	"github.com/walteh/deployrc/pkg/remote"
)

// 💬 Prompter asks the user for input. ok is false when the prompt was
// dismissed.
type Prompter interface {
	// Text asks for a single value, masking the input when secret is set
	Text(ctx context.Context, label string, secret bool) (value string, ok bool, err error)

	// Select asks the user to pick one of options and returns its index
	Select(ctx context.Context, label string, options []string) (index int, ok bool, err error)
}

// 🔐 CredentialCache keeps the credentials entered for one target. It is
// owned by the connection setup for that target and never shared.
type CredentialCache struct {
	mu       sync.Mutex
	target   string
	values   map[string]string
	prompter Prompter
}

var _ remote.CredentialResolver = (*CredentialCache)(nil)

// NewCredentialCache creates an empty cache for target. A nil prompter
// makes every prompt count as dismissed.
func NewCredentialCache(target string, prompter Prompter) *CredentialCache {
	return &CredentialCache{
		target:   target,
		values:   map[string]string{},
		prompter: prompter,
	}
}

// Get returns a cached value
func (c *CredentialCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok
}

// Set caches a value
func (c *CredentialCache) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
}

// Unset removes cached values
func (c *CredentialCache) Unset(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.values, k)
	}
}

// Resolve returns the cached value for req or prompts for it
func (c *CredentialCache) Resolve(ctx context.Context, req remote.CredentialRequest) (string, bool, error) {
	if !req.AlwaysAsk {
		if v, ok := c.Get(req.Key); ok {
			return v, true, nil
		}
	}
	if !req.Ask && !req.AlwaysAsk {
		return "", true, nil
	}
	if c.prompter == nil {
		return "", false, nil
	}
	return c.prompter.Text(ctx, c.target+" "+req.Key, req.Secret)
}

// Commit stores a value after a successful connection
func (c *CredentialCache) Commit(key, value string) {
	c.Set(key, value)
}

// Forget clears values after a failed connection
func (c *CredentialCache) Forget(keys ...string) {
	c.Unset(keys...)
}

// 🗄️ CredentialStore hands out one CredentialCache per target name
type CredentialStore struct {
	mu       sync.Mutex
	caches   map[string]*CredentialCache
	prompter Prompter
}

// NewCredentialStore creates a store whose caches prompt through prompter
func NewCredentialStore(prompter Prompter) *CredentialStore {
	return &CredentialStore{caches: map[string]*CredentialCache{}, prompter: prompter}
}

// For returns the cache of target, creating it on first use
func (s *CredentialStore) For(target string) *CredentialCache {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(target)
	c, ok := s.caches[key]
	if !ok {
		c = NewCredentialCache(target, s.prompter)
		s.caches[key] = c
	}
	return c
}

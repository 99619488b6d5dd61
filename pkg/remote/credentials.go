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

package remote

import (
	"context"

	"gitlab.com/tozd/go/errors"
)

// ErrPromptCancelled is returned by connection setup when the user dismissed
// a credential prompt. Callers treat it like a cancelled batch.
var ErrPromptCancelled = errors.Base("credential prompt cancelled")

// 🔑 CredentialRequest describes one credential needed by connection setup
type CredentialRequest struct {
	Key       string // Cache key, e.g. "user" or "password"
	Explicit  string // Value from the target configuration
	Secret    bool   // Mask input when prompting
	Ask       bool   // Prompt when neither explicit nor cached
	AlwaysAsk bool   // Never read or keep the cache
}

// 🔐 CredentialResolver resolves credentials in priority order: explicit
// value, cached value, interactive prompt. Commit stores a value after a
// successful connection; Forget clears values after a failed one.
type CredentialResolver interface {
	Resolve(ctx context.Context, req CredentialRequest) (value string, ok bool, err error)
	Commit(key, value string)
	Forget(keys ...string)
}

// ResolveCredential resolves req through r. A nil resolver returns the
// explicit value. A dismissed prompt yields ErrPromptCancelled.
func ResolveCredential(ctx context.Context, r CredentialResolver, req CredentialRequest) (string, error) {
	if req.Explicit != "" || r == nil {
		return req.Explicit, nil
	}
	value, ok, err := r.Resolve(ctx, req)
	if err != nil {
		return "", errors.Errorf("resolving %s: %w", req.Key, err)
	}
	if !ok {
		return "", errors.WithStack(ErrPromptCancelled)
	}
	return value, nil
}

// SettleCredentials updates the cache after a connection attempt: on failure
// every requested key is cleared, on success values are kept unless the
// request asked to always prompt.
func SettleCredentials(r CredentialResolver, connErr error, reqs []CredentialRequest, values []string) {
	if r == nil {
		return
	}
	if connErr != nil {
		keys := make([]string, 0, len(reqs))
		for _, req := range reqs {
			keys = append(keys, req.Key)
		}
		r.Forget(keys...)
		return
	}
	for i, req := range reqs {
		if req.Explicit != "" {
			continue
		}
		if req.AlwaysAsk {
			r.Forget(req.Key)
			continue
		}
		if i < len(values) && values[i] != "" {
			r.Commit(req.Key, values[i])
		}
	}
}

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

package s3

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/deployrc/pkg/remote"
)

const (
	DefaultBucket = "vscode-deploy-reloaded"
	DefaultACL    = "public-read"
)

// Driver selects the client library talking to the bucket
type Driver string

const (
	DriverAWS   Driver = "aws"
	DriverMinio Driver = "minio"
)

// Credentials select how the AWS driver authenticates. Type "shared" (the
// default) reads the shared config files, "environment" reads AWS_*
// variables and "static" uses the keys given here.
type Credentials struct {
	Type            string `json:"type,omitempty"`
	Profile         string `json:"profile,omitempty"`
	File            string `json:"file,omitempty"`
	AccessKeyID     string `json:"accessKeyId,omitempty"`
	SecretAccessKey string `json:"secretAccessKey,omitempty"`
	SessionToken    string `json:"sessionToken,omitempty"`
}

// ACL is either a single canned ACL or a map of canned ACL to file patterns:
//
//	"acl": "private"
//	"acl": {"public-read": ["**/*.html"], "private": ["secret/**"]}
type ACL struct {
	Default string
	Filters map[string][]string
}

func (a *ACL) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		a.Default = s
		return nil
	}
	var filters map[string][]string
	if err := json.Unmarshal(data, &filters); err != nil {
		var single map[string]string
		if err2 := json.Unmarshal(data, &single); err2 != nil {
			return errors.Errorf("acl must be a string or an object of patterns: %w", err)
		}
		filters = map[string][]string{}
		for k, v := range single {
			filters[k] = []string{v}
		}
	}
	a.Filters = filters
	return nil
}

func (a ACL) MarshalJSON() ([]byte, error) {
	if len(a.Filters) > 0 {
		return json.Marshal(a.Filters)
	}
	return json.Marshal(a.Default)
}

func normalizeACL(acl string) string {
	acl = strings.ToLower(strings.TrimSpace(acl))
	if acl == "" {
		return DefaultACL
	}
	return acl
}

// For returns the ACL of key: the first filter (by ACL name) whose pattern
// matches, otherwise the default.
func (a ACL) For(key string) string {
	key = remote.NormalizePath(key)

	names := make([]string, 0, len(a.Filters))
	for name := range a.Filters {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for _, pattern := range a.Filters[name] {
			if ok, _ := doublestar.Match(remote.NormalizePath(pattern), key); ok {
				return normalizeACL(name)
			}
		}
	}
	return normalizeACL(a.Default)
}

// Config is the S3 backend configuration
type Config struct {
	Driver         Driver      `json:"driver,omitempty"`
	Bucket         string      `json:"bucket,omitempty"`
	Region         string      `json:"region,omitempty"`
	Endpoint       string      `json:"endpoint,omitempty"`
	ForcePathStyle bool        `json:"forcePathStyle,omitempty"`
	Insecure       bool        `json:"insecure,omitempty"`
	Credentials    Credentials `json:"credentials,omitempty"`
	ACL            ACL         `json:"acl,omitempty"`
}

// Validate sets defaults
func (c *Config) Validate() error {
	c.Bucket = strings.TrimSpace(c.Bucket)
	if c.Bucket == "" {
		c.Bucket = DefaultBucket
	}
	c.Driver = Driver(strings.ToLower(strings.TrimSpace(string(c.Driver))))
	switch c.Driver {
	case "":
		c.Driver = DriverAWS
	case DriverAWS:
	case DriverMinio:
		if c.Endpoint == "" {
			return errors.Errorf("minio driver requires an endpoint")
		}
	default:
		return errors.Errorf("unknown driver %q", c.Driver)
	}
	c.Credentials.Type = strings.ToLower(strings.TrimSpace(c.Credentials.Type))
	switch c.Credentials.Type {
	case "":
		c.Credentials.Type = "shared"
		if c.Credentials.AccessKeyID != "" {
			c.Credentials.Type = "static"
		}
	case "shared", "environment", "static":
	default:
		return errors.Errorf("credential type %q is not supported", c.Credentials.Type)
	}
	return nil
}

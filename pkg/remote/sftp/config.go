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

package sftp

import (
	"crypto/subtle"
	"net"
	"os"
	"strings"

	"gitlab.com/tozd/go/errors"
	"golang.org/x/crypto/ssh"

	"github.com/walteh/deployrc/pkg/remote"
)

// Command is one remote hook command
type Command struct {
	Command       string `json:"command"`
	WriteOutputTo string `json:"writeOutputTo,omitempty"`
}

// Commands are the hooks run around transfers
type Commands struct {
	Connected      []Command `json:"connected,omitempty"`
	BeforeUpload   []Command `json:"beforeUpload,omitempty"`
	Uploaded       []Command `json:"uploaded,omitempty"`
	BeforeDownload []Command `json:"beforeDownload,omitempty"`
	Downloaded     []Command `json:"downloaded,omitempty"`
	BeforeDelete   []Command `json:"beforeDelete,omitempty"`
	Deleted        []Command `json:"deleted,omitempty"`
}

// Config is the SFTP backend configuration
type Config struct {
	Host                          string              `json:"host,omitempty"`
	Port                          int                 `json:"port,omitempty"`
	User                          string              `json:"user,omitempty"`
	Password                      string              `json:"password,omitempty"`
	PrivateKey                    string              `json:"privateKey,omitempty"`
	PrivateKeyPassphrase          string              `json:"privateKeyPassphrase,omitempty"`
	HashAlgorithm                 string              `json:"hashAlgorithm,omitempty"`
	Hashes                        []string            `json:"hashes,omitempty"`
	ReadyTimeout                  int                 `json:"readyTimeout,omitempty"`
	SupportsDeepDirectoryCreation bool                `json:"supportsDeepDirectoryCreation,omitempty"`
	Modes                         map[string][]string `json:"modes,omitempty"`
	Commands                      Commands            `json:"commands,omitempty"`
	AskForUser                    bool                `json:"askForUser,omitempty"`
	AlwaysAskForUser              bool                `json:"alwaysAskForUser,omitempty"`
	AskForPassword                bool                `json:"askForPassword,omitempty"`
	AlwaysAskForPassword          bool                `json:"alwaysAskForPassword,omitempty"`
}

// Validate sets defaults
func (c *Config) Validate() error {
	c.Host = strings.TrimSpace(c.Host)
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = 22
	}
	if c.Port < 0 || c.Port > 65535 {
		return errors.Errorf("invalid port %d", c.Port)
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = 20000
	}
	c.HashAlgorithm = strings.ToLower(strings.TrimSpace(c.HashAlgorithm))
	switch c.HashAlgorithm {
	case "":
		c.HashAlgorithm = "md5"
	case "md5", "sha256":
	default:
		return errors.Errorf("unsupported hash algorithm %q", c.HashAlgorithm)
	}
	return nil
}

func (c *Config) credentialRequests() []remote.CredentialRequest {
	return []remote.CredentialRequest{
		{Key: "user", Explicit: c.User, Ask: c.AskForUser, AlwaysAsk: c.AlwaysAskForUser},
		{Key: "password", Explicit: c.Password, Secret: true, Ask: c.AskForPassword && c.PrivateKey == "", AlwaysAsk: c.AlwaysAskForPassword},
	}
}

// authMethods builds public key and password authentication. PrivateKey may
// be a PEM block or a path to one.
func (c *Config) authMethods(password string) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if key := strings.TrimSpace(c.PrivateKey); key != "" {
		pem := []byte(key)
		if !strings.HasPrefix(key, "-----BEGIN") {
			data, err := os.ReadFile(key)
			if err != nil {
				return nil, errors.Errorf("reading private key: %w", err)
			}
			pem = data
		}

		var signer ssh.Signer
		var err error
		if c.PrivateKeyPassphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(c.PrivateKeyPassphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(pem)
		}
		if err != nil {
			return nil, errors.Errorf("parsing private key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if password != "" {
		methods = append(methods, ssh.Password(password))
	}
	return methods, nil
}

// fingerprint renders a host key the way Hashes are configured: md5 as
// lowercase hex without separators, sha256 as unpadded base64.
func fingerprint(algorithm string, key ssh.PublicKey) string {
	if algorithm == "sha256" {
		return strings.TrimPrefix(ssh.FingerprintSHA256(key), "SHA256:")
	}
	return strings.ReplaceAll(ssh.FingerprintLegacyMD5(key), ":", "")
}

func normalizeHash(algorithm, h string) string {
	h = strings.TrimSpace(h)
	if algorithm == "sha256" {
		return strings.TrimRight(strings.TrimPrefix(h, "SHA256:"), "=")
	}
	return strings.ToLower(strings.ReplaceAll(h, ":", ""))
}

// hostKeyCallback accepts any host key unless Hashes are configured
func (c *Config) hostKeyCallback() ssh.HostKeyCallback {
	if len(c.Hashes) == 0 {
		return ssh.InsecureIgnoreHostKey() //nolint:gosec // no hashes configured for this target
	}
	return func(hostname string, addr net.Addr, key ssh.PublicKey) error {
		got := fingerprint(c.HashAlgorithm, key)
		for _, h := range c.Hashes {
			if subtle.ConstantTimeCompare([]byte(normalizeHash(c.HashAlgorithm, h)), []byte(got)) == 1 {
				return nil
			}
		}
		return errors.Errorf("host key %s of %s is not trusted", got, hostname)
	}
}

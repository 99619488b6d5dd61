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

// Package fetch reads a single document from a URL: a remote backend path,
// an http(s) resource or a local file.
package fetch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/deployrc/pkg/errdefs"
	"github.com/walteh/deployrc/pkg/remote"
)

// coercion converts a query parameter into a settings value
type coercion int

const (
	asString coercion = iota
	asBool
	asInt
	asStringList
)

// 🗺️ scheme maps a URL scheme onto a backend
type scheme struct {
	backend string
	params  map[string]coercion
	// host and port become settings
	hostPort bool
	// user and password become settings
	userInfo bool
	// settings implied by the scheme
	fixed map[string]any
	// remote path and extra settings taken from the URL
	path func(u *url.URL) (string, map[string]any)
}

func urlPath(u *url.URL) (string, map[string]any) {
	return u.Path, nil
}

var schemes = map[string]scheme{
	"dropbox": {
		backend: "dropbox",
		params:  map[string]coercion{"token": asString},
		path: func(u *url.URL) (string, map[string]any) {
			return remote.JoinPath(u.Host, u.Path), nil
		},
	},
	"ftp": {
		backend:  "ftp",
		params:   map[string]coercion{"secure": asBool, "explicitTLS": asBool, "insecureSkipVerify": asBool, "timeout": asInt},
		hostPort: true,
		userInfo: true,
		path:     urlPath,
	},
	"ftps": {
		backend:  "ftp",
		params:   map[string]coercion{"explicitTLS": asBool, "insecureSkipVerify": asBool, "timeout": asInt},
		hostPort: true,
		userInfo: true,
		fixed:    map[string]any{"secure": true},
		path:     urlPath,
	},
	"sftp": {
		backend: "sftp",
		params: map[string]coercion{
			"hashAlgorithm":                 asString,
			"hashes":                        asStringList,
			"privateKey":                    asString,
			"privateKeyPassphrase":          asString,
			"readyTimeout":                  asInt,
			"supportsDeepDirectoryCreation": asBool,
		},
		hostPort: true,
		userInfo: true,
		path:     urlPath,
	},
	"slack": {
		backend: "slack",
		params:  map[string]coercion{"token": asString},
		path: func(u *url.URL) (string, map[string]any) {
			return strings.ToUpper(strings.TrimSpace(u.Hostname())) + u.Path, nil
		},
	},
	"s3": {
		backend: "s3bucket",
		params: map[string]coercion{
			"driver":         asString,
			"region":         asString,
			"endpoint":       asString,
			"forcePathStyle": asBool,
			"insecure":       asBool,
		},
		path: func(u *url.URL) (string, map[string]any) {
			return u.Path, map[string]any{"bucket": u.Host}
		},
	},
	"github": {
		backend: "github",
		params:  map[string]coercion{"ref": asString, "token": asString, "baseUrl": asString},
		path: func(u *url.URL) (string, map[string]any) {
			name, rest, _ := strings.Cut(remote.NormalizePath(u.Path), "/")
			return rest, map[string]any{"repo": u.Host + "/" + name}
		},
	},
	"azblob": {
		backend: "azureblob",
		params: map[string]coercion{
			"account":               asString,
			"accessKey":             asString,
			"host":                  asString,
			"useDevelopmentStorage": asBool,
		},
		path: func(u *url.URL) (string, map[string]any) {
			return u.Path, map[string]any{"container": u.Host}
		},
	},
}

// 🎯 Source is a parsed backend URL
type Source struct {
	Backend  string
	Settings map[string]any
	Path     string
}

// Parse maps a backend URL onto a backend type, its settings and the path
// of the document. ok is false for schemes that are not backends.
func Parse(rawURL string) (src Source, ok bool, err error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return Source{}, false, errors.Errorf("parsing url: %w", err)
	}
	sch, ok := schemes[strings.ToLower(u.Scheme)]
	if !ok {
		return Source{}, false, nil
	}

	settings := map[string]any{}
	for k, v := range sch.fixed {
		settings[k] = v
	}
	if err := applyParams(settings, u.Query(), sch.params); err != nil {
		return Source{}, true, err
	}
	if sch.hostPort {
		if host := u.Hostname(); host != "" {
			settings["host"] = host
		}
		if port := u.Port(); port != "" {
			n, err := strconv.Atoi(port)
			if err != nil {
				return Source{}, true, errors.Errorf("invalid port %q: %w", port, err)
			}
			settings["port"] = n
		}
	}
	if sch.userInfo && u.User != nil {
		if user := u.User.Username(); user != "" {
			settings["user"] = user
		}
		if password, set := u.User.Password(); set && password != "" {
			settings["password"] = password
		}
	}

	p, extra := sch.path(u)
	for k, v := range extra {
		settings[k] = v
	}

	return Source{Backend: sch.backend, Settings: settings, Path: p}, true, nil
}

// applyParams copies known query parameters into settings. Parameter names
// match case-insensitively and keep the casing of the setting.
func applyParams(settings map[string]any, query url.Values, known map[string]coercion) error {
	for name, values := range query {
		for key, kind := range known {
			if !strings.EqualFold(name, key) {
				continue
			}
			raw := ""
			if len(values) > 0 {
				raw = strings.TrimSpace(values[len(values)-1])
			}
			if raw == "" {
				continue
			}
			switch kind {
			case asBool:
				switch strings.ToLower(raw) {
				case "1", "true", "y", "yes":
					settings[key] = true
				default:
					settings[key] = false
				}
			case asInt:
				n, err := strconv.Atoi(raw)
				if err != nil {
					return errors.Errorf("parameter %s: %w", key, err)
				}
				settings[key] = n
			case asStringList:
				settings[key] = strings.Split(raw, ",")
			default:
				settings[key] = raw
			}
		}
	}
	return nil
}

// 🌐 Fetcher reads documents from URLs
type Fetcher struct {
	// HTTP is used for http and https URLs
	HTTP *http.Client
	// Dirs are searched in order for relative local paths
	Dirs []string
	// Connect opens backend clients, defaults to remote.New
	Connect func(ctx context.Context, backendType string, settings json.RawMessage) (remote.Client, error)
}

// New creates a fetcher resolving relative local paths against dirs
func New(dirs ...string) *Fetcher {
	return &Fetcher{HTTP: http.DefaultClient, Dirs: dirs}
}

// Fetch reads rawURL with a default fetcher rooted at the working directory
func Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	return New().Fetch(ctx, rawURL)
}

// 📥 Fetch reads the document at rawURL
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	logger := zerolog.Ctx(ctx)

	src, isBackend, err := Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if isBackend {
		logger.Debug().Str("backend", src.Backend).Str("path", src.Path).Msg("fetching from backend")
		return f.fetchBackend(ctx, src)
	}

	lower := strings.ToLower(strings.TrimSpace(rawURL))
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		logger.Debug().Str("url", rawURL).Msg("fetching over http")
		return f.fetchHTTP(ctx, rawURL)
	}

	logger.Debug().Str("path", rawURL).Msg("fetching local file")
	return f.fetchLocal(strings.TrimPrefix(rawURL, "file://"))
}

func (f *Fetcher) fetchBackend(ctx context.Context, src Source) ([]byte, error) {
	settings, err := json.Marshal(src.Settings)
	if err != nil {
		return nil, errors.Errorf("encoding settings: %w", err)
	}

	connect := f.Connect
	if connect == nil {
		connect = func(ctx context.Context, backendType string, settings json.RawMessage) (remote.Client, error) {
			return remote.New(ctx, backendType, settings, remote.Options{})
		}
	}

	client, err := connect(ctx, src.Backend, settings)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	return client.DownloadFile(ctx, src.Path)
}

func (f *Fetcher) fetchHTTP(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.Errorf("creating request: %w", err)
	}
	httpClient := f.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, errdefs.Connection("http get", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode == http.StatusNotFound:
		return nil, errdefs.NotFound("http get", rawURL, nil)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, errors.Errorf("client error: %s", resp.Status)
	case resp.StatusCode >= 500:
		return nil, errors.Errorf("server error: %s", resp.Status)
	default:
		return nil, errors.Errorf("unexpected status: %s", resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Errorf("reading body: %w", err)
	}
	return data, nil
}

func (f *Fetcher) fetchLocal(p string) ([]byte, error) {
	if filepath.IsAbs(p) {
		return readFrom(osfs.New(filepath.Dir(p)), filepath.Base(p))
	}

	dirs := f.Dirs
	if len(dirs) == 0 {
		dirs = []string{"."}
	}
	for _, dir := range dirs {
		fs := osfs.New(dir)
		info, err := fs.Stat(p)
		if err != nil || info.IsDir() {
			continue
		}
		return readFrom(fs, p)
	}
	return nil, errdefs.NotFound("fetch local", p, nil)
}

func readFrom(fs billy.Filesystem, name string) ([]byte, error) {
	data, err := util.ReadFile(fs, name)
	if err != nil {
		return nil, errors.Errorf("reading %s: %w", name, err)
	}
	return data, nil
}

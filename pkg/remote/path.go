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
	"path"
	"strings"
)

// NormalizePath converts p to forward slashes and strips leading and
// trailing slashes. "." and "/" both become "".
func NormalizePath(p string) string {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if p == "" {
		return ""
	}
	p = strings.TrimPrefix(path.Clean("/"+p), "/")
	if p == "." {
		return ""
	}
	return p
}

// WithLeadingSlash normalizes p and prefixes it with "/". Root becomes "/".
func WithLeadingSlash(p string) string {
	return "/" + NormalizePath(p)
}

// JoinPath joins the parts and normalizes the result
func JoinPath(parts ...string) string {
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		if n := NormalizePath(part); n != "" {
			clean = append(clean, n)
		}
	}
	return strings.Join(clean, "/")
}

// SplitPath returns the normalized parent directory and the base name of p
func SplitPath(p string) (dir, name string) {
	p = NormalizePath(p)
	idx := strings.LastIndex(p, "/")
	if idx < 0 {
		return "", p
	}
	return p[:idx], p[idx+1:]
}

// IsRoot reports whether p names the root of a backend, in any of its
// spellings ("", "/", ".", "\\").
func IsRoot(p string) bool {
	return NormalizePath(p) == ""
}

// DirChain returns dir and all of its ancestors, shallowest first.
// "a/b" yields ["a", "a/b"].
func DirChain(dir string) []string {
	dir = NormalizePath(dir)
	if dir == "" {
		return nil
	}
	segments := strings.Split(dir, "/")
	out := make([]string, 0, len(segments))
	for i := range segments {
		out = append(out, strings.Join(segments[:i+1], "/"))
	}
	return out
}

// ParentDirs returns every ancestor directory of the file path p,
// shallowest first. "a/b/c.txt" yields ["a", "a/b"].
func ParentDirs(p string) []string {
	dir, _ := SplitPath(p)
	return DirChain(dir)
}

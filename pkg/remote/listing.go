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
	"sort"
	"strings"
	"time"
)

// 📁 DirectoryInfo carries listing metadata
type DirectoryInfo struct {
	Path       string // Normalized listed directory
	ExportPath string // Display path, always with a leading slash
}

// 📂 DirectoryListing buckets the entries of one directory
type DirectoryListing struct {
	Info   DirectoryInfo
	Dirs   []FileInfo
	Files  []FileInfo
	Others []FileInfo
}

// NewListing sorts entries into directories, files and others
func NewListing(dir string, entries []FileInfo) *DirectoryListing {
	listing := &DirectoryListing{
		Info: DirectoryInfo{
			Path:       NormalizePath(dir),
			ExportPath: WithLeadingSlash(dir),
		},
	}
	for _, e := range entries {
		switch e.Type {
		case TypeDirectory:
			listing.Dirs = append(listing.Dirs, e)
		case TypeFile:
			listing.Files = append(listing.Files, e)
		default:
			listing.Others = append(listing.Others, e)
		}
	}
	return listing
}

// Len returns the number of entries in all buckets
func (l *DirectoryListing) Len() int {
	return len(l.Dirs) + len(l.Files) + len(l.Others)
}

// All returns every entry, directories first, then files, then others
func (l *DirectoryListing) All() []FileInfo {
	out := make([]FileInfo, 0, l.Len())
	out = append(out, l.Dirs...)
	out = append(out, l.Files...)
	return append(out, l.Others...)
}

// SortEntries orders entries for display: by type (directories, files,
// others), then case-insensitive name, then modification time.
func SortEntries(entries []FileInfo) {
	rank := func(t FileType) int {
		switch t {
		case TypeDirectory:
			return 0
		case TypeFile:
			return 1
		default:
			return 2
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if ra, rb := rank(a.Type), rank(b.Type); ra != rb {
			return ra < rb
		}
		if na, nb := strings.ToLower(a.Name), strings.ToLower(b.Name); na != nb {
			return na < nb
		}
		return a.Time.Before(b.Time)
	})
}

// Sort orders every bucket for display. It never affects transfer order.
func (l *DirectoryListing) Sort() {
	SortEntries(l.Dirs)
	SortEntries(l.Files)
	SortEntries(l.Others)
}

// 🪣 Object is one raw key of a flat, object store style key space
type Object struct {
	Key  string
	Size int64
	Time time.Time
}

// ListPrefix returns the key prefix that selects the children of dir
func ListPrefix(dir string) string {
	dir = NormalizePath(dir)
	if dir == "" {
		return ""
	}
	return dir + "/"
}

// SynthesizeListing builds a hierarchical listing of dir from flat keys. The
// prefix is stripped from every key; if the remainder still contains a
// separator its first segment becomes a directory (once), otherwise the key
// becomes a file. Keys ending in a separator are folder markers.
// download, when set, builds the Download func of a file.
func SynthesizeListing(dir string, objects []Object, download func(key string) func(ctx context.Context) ([]byte, error)) []FileInfo {
	dir = NormalizePath(dir)
	prefix := ListPrefix(dir)

	var out []FileInfo
	seenDirs := map[string]bool{}
	for _, obj := range objects {
		key := strings.ReplaceAll(obj.Key, "\\", "/")
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		raw := key[len(prefix):]
		rest := NormalizePath(raw)
		if rest == "" {
			continue
		}

		// "a/b" and the folder marker "a/" both denote directory "a"
		if idx := strings.Index(rest, "/"); idx >= 0 || strings.HasSuffix(raw, "/") {
			name := rest
			if idx >= 0 {
				name = rest[:idx]
			}
			if seenDirs[name] {
				continue
			}
			seenDirs[name] = true
			out = append(out, FileInfo{
				Name: name,
				Path: dir,
				Type: TypeDirectory,
			})
			continue
		}

		fi := FileInfo{
			Name: rest,
			Path: dir,
			Type: TypeFile,
			Size: obj.Size,
			Time: obj.Time,
		}
		if download != nil {
			fi.Download = download(obj.Key)
		}
		out = append(out, fi)
	}
	return out
}

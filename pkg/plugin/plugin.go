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

// Package plugin dispatches batch file operations to the plugins serving a
// target: client plugins backed by a remote.Client and meta plugins that fan
// out to other targets.
package plugin

import (
	"context"

	"github.com/walteh/deployrc/pkg/remote"
)

// 🎯 Operation is one batch operation a plugin may support
type Operation int

const (
	OpUpload Operation = iota
	OpDownload
	OpList
	OpDelete
	OpRemoveFolder
)

// AllOperations lists every operation in display order
var AllOperations = []Operation{OpUpload, OpDownload, OpList, OpDelete, OpRemoveFolder}

// String returns a string representation of Operation
func (o Operation) String() string {
	switch o {
	case OpUpload:
		return "upload"
	case OpDownload:
		return "download"
	case OpList:
		return "list"
	case OpDelete:
		return "delete"
	case OpRemoveFolder:
		return "rmdir"
	default:
		return "unknown"
	}
}

// 📤 Uploader uploads a batch of files. Every plugin is an Uploader.
type Uploader interface {
	Upload(ctx context.Context, op *UploadContext) error
}

// Plugin is the minimal plugin
type Plugin interface {
	Uploader
}

// 📥 Downloader downloads a batch of files
type Downloader interface {
	Download(ctx context.Context, op *DownloadContext) error
}

// 📂 Lister lists a remote directory
type Lister interface {
	List(ctx context.Context, op *ListContext) ([]remote.FileInfo, error)
}

// 🗑️ Deleter deletes a batch of files
type Deleter interface {
	Delete(ctx context.Context, op *DeleteContext) error
}

// 🧹 FolderRemover removes a batch of folders
type FolderRemover interface {
	RemoveFolders(ctx context.Context, op *RemoveFoldersContext) error
}

// Restricter is implemented by plugins that serve several target types but
// cannot perform every operation for all of them
type Restricter interface {
	Supports(targetType string, op Operation) bool
}

// implements reports whether p has the method set of op
func implements(p Plugin, op Operation) bool {
	switch op {
	case OpUpload:
		return p != nil
	case OpDownload:
		_, ok := p.(Downloader)
		return ok
	case OpList:
		_, ok := p.(Lister)
		return ok
	case OpDelete:
		_, ok := p.(Deleter)
		return ok
	case OpRemoveFolder:
		_, ok := p.(FolderRemover)
		return ok
	default:
		return false
	}
}

// 🔍 CanDo reports whether p can run op for targets of targetType
func CanDo(p Plugin, targetType string, op Operation) bool {
	if !implements(p, op) {
		return false
	}
	if r, ok := p.(Restricter); ok {
		return r.Supports(targetType, op)
	}
	return true
}

// 📋 Capabilities lists the operations p can run for targets of targetType
func Capabilities(p Plugin, targetType string) []Operation {
	var out []Operation
	for _, op := range AllOperations {
		if CanDo(p, targetType, op) {
			out = append(out, op)
		}
	}
	return out
}

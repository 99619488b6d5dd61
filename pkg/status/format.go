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

package status

import (
	"fmt"

	"github.com/pterm/pterm"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/deployrc/pkg/plugin"
)

// Formatter defines how items and progress are formatted
type Formatter interface {
	// FormatItem formats one tracked item
	FormatItem(info ItemInfo) string

	// FormatProgress formats a progress message
	FormatProgress(current, total int) string

	// FormatError formats an error message
	FormatError(err error) string
}

// DefaultFormatter provides a default implementation of Formatter
type DefaultFormatter struct{}

// NewDefaultFormatter creates a new DefaultFormatter
func NewDefaultFormatter() *DefaultFormatter {
	return &DefaultFormatter{}
}

// FormatItem formats an item with an emoji for its status
func (f *DefaultFormatter) FormatItem(info ItemInfo) string {
	label := info.Destination
	if label == "" {
		label = info.Item
	}
	switch info.Status {
	case StatusDone:
		return fmt.Sprintf("✨ %s %s", info.Operation, label)
	case StatusFailed:
		return fmt.Sprintf("❌ %s %s: %v", info.Operation, label, info.Err)
	case StatusRunning:
		return fmt.Sprintf("⏳ %s %s", info.Operation, label)
	default:
		return fmt.Sprintf("💤 %s %s", info.Operation, label)
	}
}

// FormatProgress formats a progress message with percentage
func (f *DefaultFormatter) FormatProgress(current, total int) string {
	var percentage float64
	if total == 0 {
		if current > 0 {
			percentage = 100
		}
	} else {
		percentage = float64(current) / float64(total) * 100
	}

	if current >= total {
		return fmt.Sprintf("✅ Progress: %d/%d (%.0f%%)", current, total, percentage)
	}
	return fmt.Sprintf("⏳ Progress: %d/%d (%.0f%%)", current, total, percentage)
}

// FormatError formats an error message with emoji
func (f *DefaultFormatter) FormatError(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("❌ Error: %v", err)
}

// 📋 RenderSummary renders the outcomes of a run as a table, failures last
func RenderSummary(s *plugin.Summary) (string, error) {
	data := pterm.TableData{{"Target", "Operation", "Item", "Result"}}
	for _, o := range s.Succeeded() {
		data = append(data, []string{o.Target, o.Operation.String(), o.Item, "ok"})
	}
	for _, o := range s.Failed() {
		data = append(data, []string{o.Target, o.Operation.String(), o.Item, o.Err.Error()})
	}

	out, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return "", errors.Errorf("rendering summary: %w", err)
	}
	return out, nil
}

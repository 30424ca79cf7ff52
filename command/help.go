// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"strings"

	"github.com/gosuri/uitable"
)

// HelpLines renders the command list, one line per command, with usage
// and summary in aligned columns. A non-empty topic renders only that
// command (aliases accepted) and fails with KindUnknownCommand if it
// does not exist.
func HelpLines(topic string) ([]string, error) {
	table := uitable.New()
	table.Separator = "  "

	if topic != "" {
		found, ok := lookup(topic)
		if !ok {
			return nil, UnknownCommand(topic)
		}
		addHelpRow(table, found)
		return strings.Split(table.String(), "\n"), nil
	}

	for _, candidate := range definitions {
		addHelpRow(table, candidate)
	}
	lines := strings.Split(table.String(), "\n")
	return append(lines, "text without a leading / is posted to the active channel; start with // to post a literal /"), nil
}

func addHelpRow(table *uitable.Table, entry definition) {
	summary := entry.summary
	if len(entry.aliases) > 0 {
		summary += " (alias /" + strings.Join(entry.aliases, ", /") + ")"
	}
	table.AddRow(entry.usage, summary)
}

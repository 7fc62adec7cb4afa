package state

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/msageha/codex-teams/internal/mdtable"
)

// UpdateEntry is one parsed row of the update log.
type UpdateEntry struct {
	Timestamp string `json:"timestamp"`
	Agent     string `json:"agent"`
	TaskID    string `json:"task_id"`
	Status    string `json:"status"`
	Summary   string `json:"summary"`
}

const updatesHeader = `# Latest Updates

| Timestamp (UTC) | Agent | Task | Status | Summary |
|---|---|---|---|---|
`

// AppendUpdate appends one status-transition row to the update log,
// creating the file with its header on first use. The log is advisory:
// callers are expected to proceed when this fails.
func AppendUpdate(updatesFile, actor, taskID, status, summary string) error {
	if err := os.MkdirAll(filepath.Dir(updatesFile), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	f, err := os.OpenFile(updatesFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open update log: %w", err)
	}
	defer f.Close()

	if info, err := f.Stat(); err == nil && info.Size() == 0 {
		if _, err := f.WriteString(updatesHeader); err != nil {
			return fmt.Errorf("write update log header: %w", err)
		}
	}

	ts := time.Now().UTC().Format(time.RFC3339)
	row := fmt.Sprintf("| %s | %s | %s | %s | %s |\n",
		ts,
		mdtable.EscapeCell(actor),
		mdtable.EscapeCell(taskID),
		mdtable.EscapeCell(status),
		mdtable.EscapeCell(summary))
	if _, err := f.WriteString(row); err != nil {
		return fmt.Errorf("append update log: %w", err)
	}
	return nil
}

// ReadUpdates parses the update log, returning up to limit entries newest
// first. limit <= 0 means all.
func ReadUpdates(updatesFile string, limit int) []UpdateEntry {
	data, err := os.ReadFile(updatesFile)
	if err != nil {
		return nil
	}

	var entries []UpdateEntry
	for _, line := range strings.Split(string(data), "\n") {
		cells, ok := mdtable.SplitRow(line)
		if !ok || len(cells) < 5 {
			continue
		}
		if strings.HasPrefix(strings.ToLower(cells[0]), "timestamp") {
			continue
		}
		if mdtable.IsSeparator(cells) {
			continue
		}
		entries = append(entries, UpdateEntry{
			Timestamp: cells[0],
			Agent:     cells[1],
			TaskID:    cells[2],
			Status:    cells[3],
			Summary:   cells[4],
		})
	}

	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	// Newest first.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries
}

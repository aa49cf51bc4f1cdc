package engine

// The journal is an append-only audit trail of executed mutating commands,
// one text file per day. It is written after a command ran and is never
// replayed.

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
)

const journalDateLayout = "2006-01-02"

var datePattern = regexp.MustCompile(`_(\d{4}-\d{2}-\d{2})$`)

// JournalEntry represents a single entry in the journal.
type JournalEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	Command    string    `json:"command"`
	Collection string    `json:"collection"`
	Details    string    `json:"details"`
}

// Line renders the entry the way it is stored.
func (e JournalEntry) Line() string {
	return fmt.Sprintf("%s | %s | %s | %s\n", e.Timestamp.Format(time.RFC3339), e.Command, e.Collection, e.Details)
}

// Journal writes entries to <base>_<YYYY-MM-DD>.journal files.
type Journal struct {
	mu            sync.Mutex
	fs            afero.Fs
	file          afero.File
	baseFilePath  string    // Base path for journal files (without date)
	currentDate   time.Time // The date of the current journal file
	currentSize   int64
	retentionDays int
	now           func() time.Time
}

// NewJournal creates a new journal writing next to journalFilePath.
// retentionDays <= 0 keeps every file.
func NewJournal(fs afero.Fs, journalFilePath string, retentionDays int) (*Journal, error) {
	return newJournal(fs, journalFilePath, retentionDays, time.Now)
}

func newJournal(fs afero.Fs, journalFilePath string, retentionDays int, now func() time.Time) (*Journal, error) {
	journal := &Journal{
		fs:            fs,
		baseFilePath:  getBaseFilePath(journalFilePath),
		retentionDays: retentionDays,
		now:           now,
	}

	if err := journal.ensureCorrectFileOpen(); err != nil {
		return nil, err
	}
	return journal, nil
}

// getBaseFilePath extracts the base path without date component
func getBaseFilePath(journalFilePath string) string {
	dir := filepath.Dir(journalFilePath)
	base := filepath.Base(journalFilePath)
	ext := filepath.Ext(journalFilePath)

	baseName := strings.TrimSuffix(base, ext)
	baseName = datePattern.ReplaceAllString(baseName, "")

	return filepath.Join(dir, baseName)
}

func (j *Journal) fileNameFor(day time.Time) string {
	return fmt.Sprintf("%s_%s.journal", j.baseFilePath, day.Format(journalDateLayout))
}

// ensureCorrectFileOpen ensures the correct journal file is open based on current date
func (j *Journal) ensureCorrectFileOpen() error {
	today := j.now().UTC().Truncate(24 * time.Hour)

	if j.file != nil && j.currentDate.Equal(today) {
		return nil
	}

	if j.file != nil {
		if err := j.file.Close(); err != nil {
			return fmt.Errorf("failed to close previous journal file: %w", err)
		}
		j.file = nil
	}

	fileName := j.fileNameFor(today)
	if err := j.fs.MkdirAll(filepath.Dir(fileName), 0755); err != nil {
		return fmt.Errorf("failed to create journal directory: %w", err)
	}

	file, err := j.fs.OpenFile(fileName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open journal file %s: %w", fileName, err)
	}

	size := int64(0)
	if info, err := file.Stat(); err == nil {
		size = info.Size()
	}

	j.file = file
	j.currentDate = today
	j.currentSize = size
	return nil
}

// AddEntry appends a new entry, rotating to a new file when the day changed.
func (j *Journal) AddEntry(command, collection, details string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.ensureCorrectFileOpen(); err != nil {
		return err
	}

	entry := JournalEntry{
		Timestamp:  j.now().UTC(),
		Command:    command,
		Collection: collection,
		Details:    details,
	}

	line := entry.Line()
	if _, err := j.file.WriteString(line); err != nil {
		return fmt.Errorf("failed to write to journal file: %w", err)
	}
	j.currentSize += int64(len(line))
	return nil
}

// Close closes the journal file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file != nil {
		if err := j.file.Close(); err != nil {
			return fmt.Errorf("failed to close journal file: %w", err)
		}
		j.file = nil
	}
	return nil
}

// Files lists the journal files of this journal, oldest first.
func (j *Journal) Files() ([]string, error) {
	dir := filepath.Dir(j.baseFilePath)
	prefix := filepath.Base(j.baseFilePath) + "_"

	entries, err := afero.ReadDir(j.fs, dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || filepath.Ext(name) != ".journal" {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	sort.Strings(files)
	return files, nil
}

// CleanupOldJournals removes journal files older than the retention period.
// The current day's file is never removed.
func (j *Journal) CleanupOldJournals() (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.retentionDays <= 0 {
		return 0, nil
	}
	cutoff := j.now().UTC().Truncate(24*time.Hour).AddDate(0, 0, -j.retentionDays)

	files, err := j.Files()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, f := range files {
		base := strings.TrimSuffix(filepath.Base(f), ".journal")
		m := datePattern.FindStringSubmatch(base)
		if m == nil {
			continue
		}
		day, err := time.Parse(journalDateLayout, m[1])
		if err != nil || !day.Before(cutoff) || day.Equal(j.currentDate) {
			continue
		}
		if err := j.fs.Remove(f); err != nil {
			return removed, fmt.Errorf("failed to remove journal file %s: %w", f, err)
		}
		removed++
	}
	return removed, nil
}

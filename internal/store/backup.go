package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// BackupFile describes one timestamped backup in the backups directory.
type BackupFile struct {
	Filename  string    `json:"filename"`
	Timestamp time.Time `json:"timestamp"`
	Size      int64     `json:"size"`
}

// BackupCurrent writes a snapshot of the database to a timestamped file and
// prunes the oldest backups beyond maxBackups. It returns an empty path when
// the database file does not exist.
func (s *Store) BackupCurrent(maxBackups int) (string, error) {
	snapshot, err := s.ExportSnapshot()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}

	if maxBackups <= 0 {
		maxBackups = defaultMaxBackups
	}

	if err := os.MkdirAll(s.backupDir, 0o755); err != nil {
		return "", fmt.Errorf("ensure backup directory: %w", err)
	}

	backupPath := uniqueBackupPath(s.backupDir, filepath.Base(s.file))
	if err := os.WriteFile(backupPath, snapshot, 0o600); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}

	prefix, ext := trimExt(filepath.Base(s.file))
	pruneBackups(s.backupDir, prefix, ext, maxBackups)

	log.Infof("wrote backup %s", filepath.Base(backupPath))
	return backupPath, nil
}

// ExportSnapshot returns a consistent copy of the current database contents.
func (s *Store) ExportSnapshot() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.file); errors.Is(err, os.ErrNotExist) {
		return nil, os.ErrNotExist
	}
	if s.db == nil {
		return nil, errors.New("store is closed")
	}

	prefix, _ := trimExt(filepath.Base(s.file))
	tempFile, err := os.CreateTemp(filepath.Dir(s.file), prefix+"-export-*.db")
	if err != nil {
		return nil, fmt.Errorf("create temp export file: %w", err)
	}
	tempPath := tempFile.Name()
	tempFile.Close()
	// VACUUM INTO refuses an existing target.
	os.Remove(tempPath)

	escaped := strings.ReplaceAll(tempPath, "'", "''")
	if _, err := s.db.Exec(fmt.Sprintf("VACUUM INTO '%s'", escaped)); err != nil {
		os.Remove(tempPath)
		return nil, fmt.Errorf("vacuum into temp file: %w", err)
	}

	data, err := os.ReadFile(tempPath)
	os.Remove(tempPath)
	if err != nil {
		return nil, fmt.Errorf("read export file: %w", err)
	}

	return data, nil
}

// ImportSnapshot replaces the current database contents with the provided
// SQLite database bytes. Returns the backup path if the existing database was
// moved aside. The running application keeps its in-memory state; the
// imported snapshot takes effect on the next start.
func (s *Store) ImportSnapshot(data []byte, maxBackups int) (string, error) {
	if len(data) == 0 {
		return "", errors.New("snapshot data is empty")
	}

	if maxBackups <= 0 {
		maxBackups = defaultMaxBackups
	}

	dir := filepath.Dir(s.file)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("prepare db directory: %w", err)
	}
	if err := os.MkdirAll(s.backupDir, 0o755); err != nil {
		return "", fmt.Errorf("prepare backup directory: %w", err)
	}

	prefix, ext := trimExt(filepath.Base(s.file))
	tempFile, err := os.CreateTemp(dir, prefix+"-import-*.db")
	if err != nil {
		return "", fmt.Errorf("create temp import file: %w", err)
	}
	tempPath := tempFile.Name()

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		os.Remove(tempPath)
		return "", fmt.Errorf("write temp import file: %w", err)
	}
	tempFile.Close()

	s.mu.Lock()
	defer s.mu.Unlock()

	_ = s.closeDB()

	var backupPath string
	if _, err := os.Stat(s.file); err == nil {
		backupPath = uniqueBackupPath(s.backupDir, filepath.Base(s.file))
		if err := os.Rename(s.file, backupPath); err != nil {
			_ = s.openDB()
			os.Remove(tempPath)
			return "", fmt.Errorf("rename existing db: %w", err)
		}
		s.removeSidecarFilesLocked()
	}

	if err := os.Rename(tempPath, s.file); err != nil {
		if backupPath != "" {
			_ = os.Rename(backupPath, s.file)
		}
		os.Remove(tempPath)
		_ = s.openDB()
		return "", fmt.Errorf("activate imported db: %w", err)
	}

	if err := s.openDB(); err != nil {
		if backupPath != "" {
			_ = os.Remove(s.file)
			_ = os.Rename(backupPath, s.file)
			_ = s.openDB()
		}
		return "", fmt.Errorf("reopen db after import: %w", err)
	}

	if err := s.ensureSchema(); err != nil {
		return backupPath, err
	}

	pruneBackups(s.backupDir, prefix, ext, maxBackups)
	s.pendingImport = true

	log.Infof("imported snapshot (%d bytes), previous database kept as %s", len(data), filepath.Base(backupPath))
	return backupPath, nil
}

// Backups lists the available backups, newest first.
func (s *Store) Backups() ([]BackupFile, error) {
	backups, err := s.listBackups()
	if err != nil {
		return nil, err
	}
	out := make([]BackupFile, 0, len(backups))
	for i := len(backups) - 1; i >= 0; i-- {
		b := backups[i]
		info, err := os.Stat(b.path)
		if err != nil {
			continue
		}
		out = append(out, BackupFile{
			Filename:  filepath.Base(b.path),
			Timestamp: time.Unix(b.timestamp, 0).UTC(),
			Size:      info.Size(),
		})
	}
	return out, nil
}

func (s *Store) listBackups() ([]backupInfo, error) {
	prefix, ext := trimExt(filepath.Base(s.file))
	entries, err := os.ReadDir(s.backupDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read backup directory: %w", err)
	}
	return collectBackups(s.backupDir, entries, prefix, ext), nil
}

// collectBackups filters entries to "<prefix>-<unix>.<ext>" files, oldest
// first. Files whose stem does not parse fall back to their mtime.
func collectBackups(dir string, entries []os.DirEntry, prefix, ext string) []backupInfo {
	var backups []backupInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if !strings.HasPrefix(name, prefix+"-") {
			continue
		}
		if ext != "" && !strings.HasSuffix(name, ext) {
			continue
		}

		stem := name
		if ext != "" {
			stem = strings.TrimSuffix(stem, ext)
		}
		tsPart := strings.TrimPrefix(stem, prefix+"-")
		ts, parseErr := strconv.ParseInt(tsPart, 10, 64)
		if parseErr != nil {
			info, statErr := entry.Info()
			if statErr != nil {
				continue
			}
			ts = info.ModTime().Unix()
		}

		backups = append(backups, backupInfo{
			path:      filepath.Join(dir, name),
			timestamp: ts,
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		if backups[i].timestamp == backups[j].timestamp {
			return backups[i].path < backups[j].path
		}
		return backups[i].timestamp < backups[j].timestamp
	})
	return backups
}

func uniqueBackupPath(dir, base string) string {
	prefix, ext := trimExt(base)

	timestamp := time.Now().Unix()
	for {
		name := fmt.Sprintf("%s-%d%s", prefix, timestamp, ext)
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return path
		}
		timestamp++
	}
}

func pruneBackups(dir, prefix, ext string, maxBackups int) {
	if maxBackups <= 0 {
		return
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	backups := collectBackups(dir, entries, prefix, ext)
	if len(backups) <= maxBackups {
		return
	}
	for _, b := range backups[:len(backups)-maxBackups] {
		if err := os.Remove(b.path); err != nil {
			log.Warnf("prune backup %s: %v", filepath.Base(b.path), err)
		}
	}
}

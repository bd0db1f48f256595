package api

import (
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxSnapshotBytes bounds an uploaded state snapshot.
const maxSnapshotBytes = 256 << 20

// @Title: List Backups
// @Route: GET /api/backups
// @Description: List all state backups, newest first
// @Response: [{"filename": "...", "timestamp": "...", "size": ...}]
func (s *Service) HandleBackupsList(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) || !s.haveBackups(w) {
		return
	}

	backups, err := s.backups.Backups()
	if err != nil {
		s.logger.Error(fmt.Sprintf("Failed to list backups: %v", err))
		s.writeError(w, http.StatusInternalServerError, "Failed to read backups")
		return
	}

	s.logger.Info("API: List backups")
	s.writeJSON(w, http.StatusOK, backups)
}

// @Title: Create Backup
// @Route: POST /api/backups/export
// @Description: Copy the committed state database into the backups directory
// @Response: {"status": "ok", "path": "..."}
func (s *Service) HandleBackupExport(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodPost) || !s.haveBackups(w) {
		return
	}

	backupPath, err := s.backups.BackupCurrent(s.opts.BackupKeep)
	if err != nil {
		s.logger.Error(fmt.Sprintf("Failed to create backup: %v", err))
		s.writeError(w, http.StatusInternalServerError, "Failed to save backup")
		return
	}
	if backupPath == "" {
		s.writeError(w, http.StatusNotFound, "Nothing to back up yet")
		return
	}

	s.logger.Info(fmt.Sprintf("API: Created backup at: %s", backupPath))
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"path":   backupPath,
	})
}

// @Title: Download Snapshot
// @Route: GET /api/backups/download
// @Description: Download a consistent SQLite snapshot of the committed state
// @Response: application/vnd.sqlite3 file download
func (s *Service) HandleBackupDownload(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) || !s.haveBackups(w) {
		return
	}

	data, err := s.backups.ExportSnapshot()
	if err != nil {
		s.logger.Error(fmt.Sprintf("Failed to export snapshot: %v", err))
		s.writeError(w, http.StatusInternalServerError, "Failed to export snapshot")
		return
	}

	filename := fmt.Sprintf("mkt-state-%s.db", time.Now().Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/vnd.sqlite3")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	w.Write(data)
	s.logger.Info(fmt.Sprintf("API: Served snapshot download: %s", filename))
}

// @Title: Upload Snapshot
// @Route: POST /api/backups/import
// @Description: Replace the state database with an uploaded snapshot. The current database is backed up first and the snapshot takes effect on the next start
// @Response: {"status": "ok", "backup": "..."}
func (s *Service) HandleBackupImport(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodPost) || !s.haveBackups(w) {
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSnapshotBytes))
	if err != nil {
		s.writeError(w, http.StatusRequestEntityTooLarge, "Snapshot too large")
		return
	}
	if len(data) == 0 {
		s.writeError(w, http.StatusBadRequest, "Empty snapshot")
		return
	}

	backupPath, err := s.backups.ImportSnapshot(data, s.opts.BackupKeep)
	if err != nil {
		s.logger.Error(fmt.Sprintf("Failed to import snapshot: %v", err))
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("Import failed: %v", err))
		return
	}

	s.logger.Warning(fmt.Sprintf("API: Imported snapshot (%d bytes); restart to load it", len(data)))
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"backup": backupPath,
	})
}

func (s *Service) haveBackups(w http.ResponseWriter) bool {
	if s.backups == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Backups are not available")
		return false
	}
	return true
}

// Package store persists committed marketplace state to a SQLite database
// file. The ABCI application hands it a full state snapshot on every commit;
// on startup the node loads the last snapshot back. A corrupt database is
// recovered from the newest timestamped backup, or recreated empty when no
// backup exists.
package store

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"marketplace.mini/mkt/internal/types"

	_ "modernc.org/sqlite"
)

var log = logging.Logger("store")

const (
	defaultDBFile        = "marketplace.db"
	defaultBackupDirName = "backups"
	maxBusyTimeoutMs     = 5000
	defaultMaxBackups    = 20
)

var (
	errNoBackups = errors.New("no state backups available")

	// ErrOutOfRange is returned when an amount does not fit a SQLite integer.
	ErrOutOfRange = errors.New("amount exceeds storable range")
)

// Store persists the marketplace state snapshot.
type Store struct {
	mu        sync.RWMutex
	db        *sql.DB
	file      string
	backupDir string
	updates   chan int64
	// pendingImport is set once a snapshot has been imported. Later commits
	// are not written so the imported state survives until the restart.
	pendingImport bool
}

type backupInfo struct {
	path      string
	timestamp int64
}

// NewStore opens (or creates) the state database at filePath.
func NewStore(filePath string) (*Store, error) {
	if filePath == "" {
		filePath = defaultDBFile
	}

	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("resolve db path: %w", err)
	}

	s := &Store{
		file:      absPath,
		backupDir: filepath.Join(filepath.Dir(absPath), defaultBackupDirName),
		updates:   make(chan int64, 1),
	}

	if err := os.MkdirAll(s.backupDir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}

	if err := s.tryOpenOrRecover(); err != nil {
		return nil, err
	}

	if err := s.ensureSchema(); err != nil {
		_ = s.closeDB()
		return nil, err
	}

	return s, nil
}

// Path returns the absolute database file path.
func (s *Store) Path() string { return s.file }

// Updates returns a channel that receives the height of each saved state.
// Only the latest height is kept when the reader falls behind.
func (s *Store) Updates() <-chan int64 {
	return s.updates
}

func (s *Store) notify(height int64) {
	for {
		select {
		case s.updates <- height:
			return
		default:
		}
		select {
		case <-s.updates:
		default:
		}
	}
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeDB()
}

func (s *Store) tryOpenOrRecover() error {
	if err := s.openDB(); err != nil {
		log.Warnf("open %s failed, recovering: %v", filepath.Base(s.file), err)
		if recErr := s.recoverDatabase(err); recErr != nil {
			return recErr
		}
	}
	return nil
}

func (s *Store) openDB() error {
	if err := os.MkdirAll(filepath.Dir(s.file), 0o755); err != nil {
		return fmt.Errorf("create db directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s", filepath.Clean(s.file))

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps the pragmas and the write transaction on
	// the same handle.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d", maxBusyTimeoutMs)); err != nil {
		db.Close()
		return fmt.Errorf("set busy timeout: %w", err)
	}

	// sqlite opens lazily; touch the schema so a corrupt file fails here.
	var n int
	if err := db.QueryRow("SELECT count(*) FROM sqlite_master").Scan(&n); err != nil {
		db.Close()
		return fmt.Errorf("read schema: %w", err)
	}

	s.db = db
	return nil
}

func (s *Store) recoverDatabase(openErr error) error {
	s.quarantine()
	if err := s.restoreLatestBackup(); err != nil {
		if errors.Is(err, errNoBackups) {
			if cleanErr := s.resetDatabaseFiles(); cleanErr != nil {
				return fmt.Errorf("reset database after %v: %w", openErr, cleanErr)
			}
			if err := s.openDB(); err != nil {
				return fmt.Errorf("create fresh database after %v: %w", openErr, err)
			}
			log.Warnf("no backup found, started %s empty", filepath.Base(s.file))
			return nil
		}
		return fmt.Errorf("restore database after %v: %w", openErr, err)
	}
	return nil
}

func (s *Store) closeDB() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) resetDatabaseFiles() error {
	_ = s.closeDB()

	var firstErr error
	for _, path := range []string{s.file, s.file + "-wal", s.file + "-shm"} {
		if err := os.Remove(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			if firstErr == nil {
				firstErr = fmt.Errorf("remove %s: %w", filepath.Base(path), err)
			}
		}
	}
	return firstErr
}

// quarantine moves an unreadable database file aside so it can be inspected
// after recovery replaces it.
func (s *Store) quarantine() {
	if _, err := os.Stat(s.file); err != nil {
		return
	}
	aside := fmt.Sprintf("%s.corrupt-%d", s.file, time.Now().Unix())
	if err := os.Rename(s.file, aside); err != nil {
		log.Warnf("move corrupt database aside: %v", err)
		return
	}
	log.Warnf("moved unreadable database to %s", filepath.Base(aside))
}

func (s *Store) removeSidecarFilesLocked() {
	for _, path := range []string{s.file + "-wal", s.file + "-shm"} {
		_ = os.Remove(path)
	}
}

func (s *Store) restoreLatestBackup() error {
	backups, err := s.listBackups()
	if err != nil {
		return err
	}
	if len(backups) == 0 {
		return errNoBackups
	}

	latest := backups[len(backups)-1]
	if err := s.resetDatabaseFiles(); err != nil {
		return err
	}
	if err := copyFile(latest.path, s.file); err != nil {
		return fmt.Errorf("copy backup %s: %w", filepath.Base(latest.path), err)
	}
	log.Infof("restored %s from backup %s", filepath.Base(s.file), filepath.Base(latest.path))
	return s.openDB()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS listings (
		id TEXT PRIMARY KEY,
		seq INTEGER NOT NULL UNIQUE,
		contract_ref TEXT NOT NULL,
		asset_id INTEGER NOT NULL,
		seller TEXT NOT NULL,
		holder TEXT NOT NULL,
		price INTEGER NOT NULL CHECK (price >= 1),
		listed INTEGER NOT NULL,
		previous_id TEXT NOT NULL DEFAULT '',
		created_height INTEGER NOT NULL DEFAULT 0,
		sold_height INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS listings_one_active
		ON listings (contract_ref, asset_id) WHERE listed = 1`,
	`CREATE TABLE IF NOT EXISTS registries (
		contract_ref TEXT PRIMARY KEY,
		next_id INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS assets (
		contract_ref TEXT NOT NULL,
		asset_id INTEGER NOT NULL,
		owner TEXT NOT NULL,
		metadata_ref TEXT NOT NULL,
		approved TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (contract_ref, asset_id)
	)`,
	`CREATE TABLE IF NOT EXISTS operators (
		contract_ref TEXT NOT NULL,
		owner TEXT NOT NULL,
		operator TEXT NOT NULL,
		PRIMARY KEY (contract_ref, owner, operator)
	)`,
	`CREATE TABLE IF NOT EXISTS balances (
		address TEXT PRIMARY KEY,
		amount INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS nonces (
		address TEXT PRIMARY KEY,
		next INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
}

func (s *Store) ensureSchema() error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}

	var mode string
	if err := s.db.QueryRow("PRAGMA journal_mode=WAL").Scan(&mode); err != nil {
		return fmt.Errorf("enable WAL: %w", err)
	}

	return nil
}

func toInt64(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, fmt.Errorf("%w: %d", ErrOutOfRange, v)
	}
	return int64(v), nil
}

func sortedAddresses(m map[types.Address]uint64) []types.Address {
	addrs := make([]types.Address, 0, len(m))
	for a := range m {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	return addrs
}

func parseUint(s string) uint64 {
	v, _ := strconv.ParseUint(s, 10, 64)
	return v
}

func parseInt(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}

func encodeHash(b []byte) string { return hex.EncodeToString(b) }

func decodeHash(s string) []byte {
	if s == "" {
		return nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}

func trimExt(base string) (prefix, ext string) {
	ext = filepath.Ext(base)
	prefix = strings.TrimSuffix(base, ext)
	if prefix == "" {
		prefix = base
	}
	return prefix, ext
}

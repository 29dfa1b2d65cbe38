package archive

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/xxh3"
	_ "modernc.org/sqlite"
)

// SQLite is an archive in a SQLite database. Blobs are stored zstd
// compressed with an xxh3 checksum of the uncompressed bytes.
type SQLite struct {
	db   *sql.DB
	path string
	enc  *zstd.Encoder
	dec  *zstd.Decoder
	mu   sync.Mutex
}

// OpenSQLite opens (creating if needed) the archive database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating archive directory: %w", err)
		}
	}

	// The busy timeout goes in the DSN so every pooled connection gets it;
	// other processes may hold the same file.
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS units (
		key      TEXT PRIMARY KEY,
		blob     BLOB NOT NULL,
		size     INTEGER NOT NULL,
		checksum INTEGER NOT NULL,
		created  INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		db.Close()
		return nil, err
	}
	return &SQLite{db: db, path: path, enc: enc, dec: dec}, nil
}

// Path returns the database file.
func (s *SQLite) Path() string { return s.path }

// Find returns the blob stored under key. A blob whose checksum no longer
// matches yields ErrCorrupt.
func (s *SQLite) Find(key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		packed   []byte
		size     int64
		checksum int64
	)
	err := s.db.QueryRow("SELECT blob, size, checksum FROM units WHERE key = ?", key).Scan(&packed, &size, &checksum)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("querying unit %s: %w", key, err)
	}
	blob, err := s.dec.DecodeAll(packed, make([]byte, 0, size))
	if err != nil {
		return nil, false, fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
	}
	if int64(len(blob)) != size || int64(xxh3.Hash(blob)) != checksum {
		return nil, false, fmt.Errorf("%w: %s: checksum mismatch", ErrCorrupt, key)
	}
	return blob, true, nil
}

// Register stores blob under key unless the key is already taken.
func (s *SQLite) Register(key string, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO units (key, blob, size, checksum, created) VALUES (?, ?, ?, ?, ?)",
		key, s.enc.EncodeAll(blob, nil), len(blob), int64(xxh3.Hash(blob)), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("saving unit %s: %w", key, err)
	}
	log.Debugf("archived %s (%d bytes)", key, len(blob))
	return nil
}

// Keys lists the stored keys in order.
func (s *SQLite) Keys() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query("SELECT key FROM units ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("listing units: %w", err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	s.enc.Close()
	s.dec.Close()
	return s.db.Close()
}

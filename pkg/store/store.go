// Package store keeps a ledger of orchestration runs in SQLite. The ledger
// exists to make re-keying explicit: a new run whose CA fingerprint differs
// from the network's last recorded run replaces the trust anchor for every
// node, and callers are expected to refuse that unless the operator asked
// for it.
package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"meshforge/pkg/orchestrator"
)

//go:embed schema.sql
var schemaFS embed.FS

// Run is one recorded orchestration run.
type Run struct {
	ID            string
	Network       string
	Subnet        string
	CAFingerprint string
	CreatedAt     time.Time
	Nodes         []NodeRecord
}

// NodeRecord is the per-node line of a run: the allocated address and the
// issued certificate's serial and expiry.
type NodeRecord struct {
	Node     string
	Address  string
	Serial   string
	NotAfter time.Time
}

// Ledger is a SQLite-backed run ledger.
type Ledger struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the ledger database under dataDir.
func Open(dataDir string) (*Ledger, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "meshforge.db")
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening ledger database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to ledger database: %w", err)
	}

	// SQLite works best with a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	l := &Ledger{db: db, path: dbPath}
	if err := l.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing ledger schema: %w", err)
	}
	return l, nil
}

func (l *Ledger) initSchema() error {
	schema, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("reading schema: %w", err)
	}
	_, err = l.db.Exec(string(schema))
	return err
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// RecordRun appends a completed artifact set to the ledger and returns the
// recorded run.
func (l *Ledger) RecordRun(set *orchestrator.ArtifactSet) (*Run, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	run := &Run{
		ID:            uuid.NewString(),
		Network:       set.Spec.SanitizedCAName(),
		Subnet:        set.Spec.Subnet.String(),
		CAFingerprint: set.Authority.Fingerprint(),
		CreatedAt:     time.Now().UTC(),
	}

	tx, err := l.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO runs (id, network, subnet, ca_fingerprint, created_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Network, run.Subnet, run.CAFingerprint, run.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("recording run: %w", err)
	}

	for _, name := range set.Names() {
		cert := set.Certificates[name]
		rec := NodeRecord{
			Node:     name,
			Address:  set.Assignment[name].String(),
			Serial:   cert.Serial(),
			NotAfter: cert.NotAfter.UTC(),
		}
		if _, err := tx.Exec(
			`INSERT INTO node_records (run_id, node, address, serial, not_after) VALUES (?, ?, ?, ?, ?)`,
			run.ID, rec.Node, rec.Address, rec.Serial, rec.NotAfter,
		); err != nil {
			return nil, fmt.Errorf("recording node %q: %w", name, err)
		}
		run.Nodes = append(run.Nodes, rec)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing run: %w", err)
	}
	return run, nil
}

// LastRun returns the most recent run for a network, or nil if the network
// has never been recorded.
func (l *Ledger) LastRun(network string) (*Run, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	run := &Run{}
	err := l.db.QueryRow(
		`SELECT id, network, subnet, ca_fingerprint, created_at
		 FROM runs WHERE network = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		network,
	).Scan(&run.ID, &run.Network, &run.Subnet, &run.CAFingerprint, &run.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying last run: %w", err)
	}

	rows, err := l.db.Query(
		`SELECT node, address, serial, not_after FROM node_records WHERE run_id = ? ORDER BY node`,
		run.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying node records: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var rec NodeRecord
		if err := rows.Scan(&rec.Node, &rec.Address, &rec.Serial, &rec.NotAfter); err != nil {
			return nil, fmt.Errorf("scanning node record: %w", err)
		}
		run.Nodes = append(run.Nodes, rec)
	}
	return run, rows.Err()
}

// Runs returns all runs for a network, newest first, without node records.
func (l *Ledger) Runs(network string) ([]Run, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rows, err := l.db.Query(
		`SELECT id, network, subnet, ca_fingerprint, created_at
		 FROM runs WHERE network = ? ORDER BY created_at DESC, id DESC`,
		network,
	)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		if err := rows.Scan(&run.ID, &run.Network, &run.Subnet, &run.CAFingerprint, &run.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// IsRekey reports whether recording a run with the given fingerprint would
// replace the network's current trust anchor. The first run for a network is
// never a re-key.
func (l *Ledger) IsRekey(network, fingerprint string) (bool, *Run, error) {
	last, err := l.LastRun(network)
	if err != nil {
		return false, nil, err
	}
	if last == nil {
		return false, nil, nil
	}
	return last.CAFingerprint != fingerprint, last, nil
}

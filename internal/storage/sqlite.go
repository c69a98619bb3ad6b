package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/alvmarrod/peer-weaver/internal/peer"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/multierr"
)

// Storage handles all database operations
type Storage struct {
	db *sql.DB
}

// NewStorage creates a new Storage instance, opening/creating the DB and initializing schema
func NewStorage(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	storage := &Storage{db: db}

	if err := storage.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

// initSchema creates tables and indices if they don't exist
func (s *Storage) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id INTEGER PRIMARY KEY AUTOINCREMENT,
		seeds TEXT NOT NULL, -- JSON array
		platform TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		elapsed_ms INTEGER DEFAULT 0,
		visited_nodes INTEGER DEFAULT 0,
		error_count INTEGER DEFAULT 0,
		timeout_count INTEGER DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS validators (
		run_id INTEGER NOT NULL,
		identity TEXT NOT NULL,
		name TEXT,
		FOREIGN KEY (run_id) REFERENCES runs(run_id),
		UNIQUE(run_id, identity)
	);

	CREATE TABLE IF NOT EXISTS discovered_ips (
		run_id INTEGER NOT NULL,
		ip TEXT NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(run_id),
		UNIQUE(run_id, ip)
	);

	CREATE TABLE IF NOT EXISTS identities (
		run_id INTEGER NOT NULL,
		identity TEXT NOT NULL,
		display_name TEXT,
		ip_count INTEGER DEFAULT 0,
		FOREIGN KEY (run_id) REFERENCES runs(run_id),
		UNIQUE(run_id, identity)
	);

	CREATE TABLE IF NOT EXISTS endpoints (
		run_id INTEGER NOT NULL,
		identity TEXT NOT NULL,
		ip TEXT NOT NULL,
		occurrence_count INTEGER DEFAULT 1,
		peer_role TEXT,
		rtt REAL,
		FOREIGN KEY (run_id) REFERENCES runs(run_id),
		UNIQUE(run_id, identity, ip)
	);

	CREATE INDEX IF NOT EXISTS idx_identities_run ON identities(run_id);
	CREATE INDEX IF NOT EXISTS idx_endpoints_run ON endpoints(run_id, identity);
	`

	_, err := s.db.Exec(schema)
	return err
}

// withTx runs fn in a transaction, rolling back on error
func (s *Storage) withTx(fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err = fn(tx); err != nil {
		return multierr.Append(err, tx.Rollback())
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// CreateRun stores run metadata, its validator roster and discovered IPs.
// Returns the new run_id.
func (s *Storage) CreateRun(run Run) (int64, error) {
	var runID int64

	seeds, err := encodeSeeds(run.Seeds)
	if err != nil {
		return 0, err
	}

	err = s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			INSERT INTO runs (seeds, platform, started_at, elapsed_ms, visited_nodes, error_count, timeout_count)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, seeds, run.Platform, run.StartedAt, run.ElapsedMs, run.VisitedNodes, run.ErrorCount, run.TimeoutCount)
		if err != nil {
			return fmt.Errorf("failed to insert run: %w", err)
		}

		runID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to retrieve run_id: %w", err)
		}

		for id, name := range run.Roster {
			if _, err := tx.Exec(`INSERT OR REPLACE INTO validators (run_id, identity, name) VALUES (?, ?, ?)`,
				runID, id, name); err != nil {
				return fmt.Errorf("failed to insert validator %s: %w", id, err)
			}
		}

		for _, ip := range run.DiscoveredIPs {
			if _, err := tx.Exec(`INSERT OR IGNORE INTO discovered_ips (run_id, ip) VALUES (?, ?)`,
				runID, ip); err != nil {
				return fmt.Errorf("failed to insert ip %s: %w", ip, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return runID, nil
}

// SaveIdentities upserts identity snapshots for a run
func (s *Storage) SaveIdentities(runID int64, snaps []peer.IdentitySnapshot) error {
	return s.withTx(func(tx *sql.Tx) error {
		var errs error
		for _, snap := range snaps {
			if _, err := tx.Exec(`
				INSERT INTO identities (run_id, identity, display_name, ip_count)
				VALUES (?, ?, ?, ?)
				ON CONFLICT(run_id, identity) DO UPDATE SET
					display_name = EXCLUDED.display_name,
					ip_count = EXCLUDED.ip_count
			`, runID, snap.ID, snap.DisplayName, len(snap.Endpoints)); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("failed to upsert identity %s: %w", snap.ID, err))
				continue
			}

			for _, ep := range snap.Endpoints {
				var rtt sql.NullFloat64
				if ep.RoundTripTime != nil {
					rtt = sql.NullFloat64{Float64: *ep.RoundTripTime, Valid: true}
				}
				if _, err := tx.Exec(`
					INSERT INTO endpoints (run_id, identity, ip, occurrence_count, peer_role, rtt)
					VALUES (?, ?, ?, ?, ?, ?)
					ON CONFLICT(run_id, identity, ip) DO UPDATE SET
						occurrence_count = EXCLUDED.occurrence_count,
						peer_role = EXCLUDED.peer_role,
						rtt = COALESCE(EXCLUDED.rtt, endpoints.rtt)
				`, runID, snap.ID, ep.IP, ep.OccurrenceCount, ep.PeerRole, rtt); err != nil {
					errs = multierr.Append(errs, fmt.Errorf("failed to upsert endpoint %s@%s: %w", snap.ID, ep.IP, err))
				}
			}
		}
		return errs
	})
}

// GetRun retrieves run metadata, roster and discovered IPs, returns nil if not found
func (s *Storage) GetRun(runID int64) (*Run, error) {
	var run Run
	var seeds string
	err := s.db.QueryRow(`
		SELECT run_id, seeds, platform, started_at, elapsed_ms, visited_nodes, error_count, timeout_count
		FROM runs
		WHERE run_id = ?
	`, runID).Scan(&run.RunID, &seeds, &run.Platform, &run.StartedAt, &run.ElapsedMs, &run.VisitedNodes,
		&run.ErrorCount, &run.TimeoutCount)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if run.Seeds, err = decodeSeeds(seeds); err != nil {
		return nil, err
	}

	run.Roster = make(map[string]string)
	rows, err := s.db.Query(`SELECT identity, COALESCE(name, '') FROM validators WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load validators: %w", err)
	}
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan validator: %w", err)
		}
		run.Roster[id] = name
	}
	if err := multierr.Combine(rows.Err(), rows.Close()); err != nil {
		return nil, fmt.Errorf("error iterating validators: %w", err)
	}

	ipRows, err := s.db.Query(`SELECT ip FROM discovered_ips WHERE run_id = ? ORDER BY ip`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load discovered ips: %w", err)
	}
	for ipRows.Next() {
		var ip string
		if err := ipRows.Scan(&ip); err != nil {
			ipRows.Close()
			return nil, fmt.Errorf("failed to scan ip: %w", err)
		}
		run.DiscoveredIPs = append(run.DiscoveredIPs, ip)
	}
	if err := multierr.Combine(ipRows.Err(), ipRows.Close()); err != nil {
		return nil, fmt.Errorf("error iterating discovered ips: %w", err)
	}

	return &run, nil
}

// LoadIdentities returns the plain-data identities stored for a run, sorted by id
func (s *Storage) LoadIdentities(runID int64) ([]peer.IdentitySnapshot, error) {
	rows, err := s.db.Query(`
		SELECT i.identity, COALESCE(i.display_name, ''), i.ip_count,
			e.ip, e.occurrence_count, COALESCE(e.peer_role, ''), e.rtt
		FROM identities i
		LEFT JOIN endpoints e ON e.run_id = i.run_id AND e.identity = i.identity
		WHERE i.run_id = ?
		ORDER BY i.identity, e.ip
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load identities: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*peer.IdentitySnapshot)
	for rows.Next() {
		var (
			id, name, role string
			ipCount        int
			ip             sql.NullString
			count          sql.NullInt64
			rtt            sql.NullFloat64
		)
		if err := rows.Scan(&id, &name, &ipCount, &ip, &count, &role, &rtt); err != nil {
			return nil, fmt.Errorf("failed to scan identity: %w", err)
		}

		snap, ok := byID[id]
		if !ok {
			snap = &peer.IdentitySnapshot{ID: id, DisplayName: name, EndpointCount: ipCount}
			byID[id] = snap
		}
		if !ip.Valid {
			continue
		}

		ep := peer.EndpointSnapshot{IP: ip.String, OccurrenceCount: int(count.Int64), PeerRole: role}
		if rtt.Valid {
			v := rtt.Float64
			ep.RoundTripTime = &v
		}
		snap.Endpoints = append(snap.Endpoints, ep)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating identities: %w", err)
	}

	snaps := make([]peer.IdentitySnapshot, 0, len(byID))
	for _, snap := range byID {
		snaps = append(snaps, *snap)
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].ID < snaps[j].ID })
	return snaps, nil
}

// ListRuns returns every stored run, newest first
func (s *Storage) ListRuns() ([]RunSummary, error) {
	rows, err := s.db.Query(`
		SELECT r.run_id, r.seeds, r.platform, r.started_at, r.elapsed_ms,
			(SELECT COUNT(*) FROM identities i WHERE i.run_id = r.run_id)
		FROM runs r
		ORDER BY r.run_id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var r RunSummary
		var seeds string
		if err := rows.Scan(&r.RunID, &seeds, &r.Platform, &r.StartedAt, &r.ElapsedMs, &r.IdentityCount); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if r.Seeds, err = decodeSeeds(seeds); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

func encodeSeeds(seeds []string) (string, error) {
	if seeds == nil {
		seeds = []string{}
	}
	data, err := json.Marshal(seeds)
	if err != nil {
		return "", fmt.Errorf("failed to encode seeds: %w", err)
	}
	return string(data), nil
}

func decodeSeeds(raw string) ([]string, error) {
	var seeds []string
	if err := json.Unmarshal([]byte(raw), &seeds); err != nil {
		return nil, fmt.Errorf("failed to decode seeds: %w", err)
	}
	if len(seeds) == 0 {
		return nil, nil
	}
	return seeds, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

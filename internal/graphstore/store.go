package graphstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/apptype"
	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/metrics"
)

// WriteGate vets every upsert before it reaches the database. The
// store has no view of the type registry, so the owner supplies the
// shape checks at wiring time.
type WriteGate struct {
	Node func(*apptype.Node) error
	Edge func(*apptype.Edge) error
}

// Store is the graph store adapter: CRUD and traversal over the property
// graph, with idempotent merge semantics on every write.
type Store struct {
	config *Config
	db     *sql.DB

	stmtMu    sync.RWMutex
	stmtCache map[string]*sql.Stmt

	nodeCache *ristretto.Cache
	gate      WriteGate
}

// SetWriteGate installs the shape checks applied to UpsertNode and
// UpsertEdge. Must be called before the store takes writes.
func (s *Store) SetWriteGate(gate WriteGate) {
	s.gate = gate
}

// Open creates a Store and initializes the schema.
func Open(config *Config) (*Store, error) {
	dbURL := config.URL
	var db *sql.DB
	var err error
	if strings.HasPrefix(dbURL, "file:") {
		db, err = sql.Open("libsql", dbURL)
	} else {
		authURL := dbURL
		if config.AuthToken != "" {
			if u, perr := url.Parse(dbURL); perr == nil {
				q := u.Query()
				q.Set("authToken", config.AuthToken)
				u.RawQuery = q.Encode()
				authURL = u.String()
			}
		}
		db, err = sql.Open("libsql", authURL)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create database connector: %w", err)
	}

	s := &Store{
		config:    config,
		db:        db,
		stmtCache: make(map[string]*sql.Stmt),
	}

	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize graph schema: %w", err)
	}

	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxIdleSec > 0 {
		db.SetConnMaxIdleTime(time.Duration(config.ConnMaxIdleSec) * time.Second)
	}
	if config.ConnMaxLifeSec > 0 {
		db.SetConnMaxLifetime(time.Duration(config.ConnMaxLifeSec) * time.Second)
	}

	if config.NodeCacheSize > 0 {
		cache, cerr := ristretto.NewCache(&ristretto.Config{
			NumCounters: config.NodeCacheSize * 10,
			MaxCost:     config.NodeCacheSize,
			BufferItems: 64,
		})
		if cerr != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create node cache: %w", cerr)
		}
		s.nodeCache = cache
	}

	return s, nil
}

// initialize creates tables and indexes if they don't exist
func (s *Store) initialize() error {
	done := metrics.TimeOp("graph_initialize")
	success := false
	defer func() { done(success) }()
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for initialization: %w", err)
	}
	defer tx.Rollback()

	for _, statement := range schema() {
		if _, err := tx.Exec(statement); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	success = true
	return nil
}

// getPreparedStmt returns or prepares and caches a statement.
func (s *Store) getPreparedStmt(ctx context.Context, sqlText string) (*sql.Stmt, error) {
	s.stmtMu.RLock()
	stmt, ok := s.stmtCache[sqlText]
	s.stmtMu.RUnlock()
	if ok {
		return stmt, nil
	}

	stmt, err := s.db.PrepareContext(ctx, sqlText)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}
	s.stmtMu.Lock()
	s.stmtCache[sqlText] = stmt
	s.stmtMu.Unlock()
	return stmt, nil
}

// PoolStats reports connection pool usage for the metrics reporter.
func (s *Store) PoolStats() (inUse, idle int) {
	stats := s.db.Stats()
	return stats.InUse, stats.Idle
}

// Close releases the database connection and caches.
func (s *Store) Close() error {
	if s.nodeCache != nil {
		s.nodeCache.Close()
	}
	return s.db.Close()
}

// encodeVector packs a float32 vector into a little-endian blob.
func encodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	out := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:(i+1)*4], math.Float32bits(f))
	}
	return out
}

// decodeVector unpacks a little-endian blob into a float32 vector.
func decodeVector(b []byte) ([]float32, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding blob size %d", len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		bits := binary.LittleEndian.Uint32(b[i*4 : (i+1)*4])
		out[i] = math.Float32frombits(bits)
	}
	return out, nil
}

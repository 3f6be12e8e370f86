package graphstore

// schema returns the DDL for the property graph. Nodes are the canonical
// records; the embedding column holds the last embedding input so sync
// repair can re-derive vector index records. Timestamps are unix seconds
// managed by the store.
func schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS nodes (
        id TEXT PRIMARY KEY,
        name TEXT NOT NULL,
        node_type TEXT NOT NULL,
        is_type_def INTEGER NOT NULL DEFAULT 0,
        ancestors TEXT NOT NULL DEFAULT '[]',
        properties TEXT NOT NULL DEFAULT '{}',
        status TEXT NOT NULL DEFAULT 'ephemeral',
        confidence REAL NOT NULL DEFAULT 0.5,
        evidence_count INTEGER NOT NULL DEFAULT 1,
        embedding BLOB,
        expires_at INTEGER,
        created_at INTEGER NOT NULL,
        updated_at INTEGER NOT NULL
    )`,

		`CREATE TABLE IF NOT EXISTS edges (
        id TEXT PRIMARY KEY,
        source TEXT NOT NULL,
        target TEXT NOT NULL,
        relation TEXT NOT NULL,
        confidence REAL NOT NULL DEFAULT 0.5,
        provenance TEXT NOT NULL DEFAULT '',
        properties TEXT NOT NULL DEFAULT '{}',
        status TEXT NOT NULL DEFAULT 'ephemeral',
        evidence_count INTEGER NOT NULL DEFAULT 1,
        embedding BLOB,
        expires_at INTEGER,
        created_at INTEGER NOT NULL,
        updated_at INTEGER NOT NULL,
        UNIQUE(source, target, relation),
        FOREIGN KEY (source) REFERENCES nodes(id),
        FOREIGN KEY (target) REFERENCES nodes(id)
    )`,

		`CREATE INDEX IF NOT EXISTS idx_nodes_name ON nodes(name)`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_type ON nodes(node_type)`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_updated_at ON nodes(updated_at)`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_status_expires ON nodes(status, expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(source)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_relation_target ON edges(relation, target)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_status_expires ON edges(status, expires_at)`,
	}
}

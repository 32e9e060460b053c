package database

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS entities (
		id            TEXT PRIMARY KEY,
		workspace_id  TEXT NOT NULL,
		user_id       TEXT NULL,
		type          TEXT NOT NULL,
		data          JSONB NOT NULL DEFAULT '{}',
		relationships JSONB NOT NULL DEFAULT '[]',
		metadata      JSONB NOT NULL DEFAULT '{}',
		search_text   TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMPTZ NOT NULL,
		updated_at    TIMESTAMPTZ NOT NULL,
		deleted_at    TIMESTAMPTZ NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_entities_workspace_type ON entities (workspace_id, type, deleted_at)`,
	`CREATE INDEX IF NOT EXISTS idx_entities_workspace_user ON entities (workspace_id, user_id)`,
	`CREATE TABLE IF NOT EXISTS relationships (
		id                TEXT PRIMARY KEY,
		workspace_id      TEXT NOT NULL,
		source_entity_id  TEXT NOT NULL REFERENCES entities (id) ON DELETE CASCADE,
		target_entity_id  TEXT NOT NULL REFERENCES entities (id) ON DELETE CASCADE,
		relationship_type TEXT NOT NULL,
		bidirectional     BOOLEAN NOT NULL DEFAULT TRUE,
		strength_score    INTEGER NULL,
		metadata          JSONB NOT NULL DEFAULT '{}',
		created_at        TIMESTAMPTZ NOT NULL,
		UNIQUE (workspace_id, source_entity_id, target_entity_id, relationship_type)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_relationships_source ON relationships (workspace_id, source_entity_id)`,
	`CREATE INDEX IF NOT EXISTS idx_relationships_target ON relationships (workspace_id, target_entity_id)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS entities (
		id            TEXT PRIMARY KEY,
		workspace_id  TEXT NOT NULL,
		user_id       TEXT NULL,
		type          TEXT NOT NULL,
		data          TEXT NOT NULL DEFAULT '{}',
		relationships TEXT NOT NULL DEFAULT '[]',
		metadata      TEXT NOT NULL DEFAULT '{}',
		search_text   TEXT NOT NULL DEFAULT '',
		created_at    DATETIME NOT NULL,
		updated_at    DATETIME NOT NULL,
		deleted_at    DATETIME NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_entities_workspace_type ON entities (workspace_id, type, deleted_at)`,
	`CREATE INDEX IF NOT EXISTS idx_entities_workspace_user ON entities (workspace_id, user_id)`,
	`CREATE TABLE IF NOT EXISTS relationships (
		id                TEXT PRIMARY KEY,
		workspace_id      TEXT NOT NULL,
		source_entity_id  TEXT NOT NULL REFERENCES entities (id) ON DELETE CASCADE,
		target_entity_id  TEXT NOT NULL REFERENCES entities (id) ON DELETE CASCADE,
		relationship_type TEXT NOT NULL,
		bidirectional     BOOLEAN NOT NULL DEFAULT 1,
		strength_score    INTEGER NULL,
		metadata          TEXT NOT NULL DEFAULT '{}',
		created_at        DATETIME NOT NULL,
		UNIQUE (workspace_id, source_entity_id, target_entity_id, relationship_type)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_relationships_source ON relationships (workspace_id, source_entity_id)`,
	`CREATE INDEX IF NOT EXISTS idx_relationships_target ON relationships (workspace_id, target_entity_id)`,
}

package store

const Schema = `
CREATE TABLE IF NOT EXISTS downloads (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id TEXT NOT NULL,
	owner_id INTEGER NOT NULL,
	link TEXT NOT NULL,
	track_id TEXT NOT NULL,
	title TEXT NOT NULL,
	artist TEXT,
	artists TEXT,  -- JSON array
	album TEXT,
	track_number INTEGER,
	disc_number INTEGER,
	file_path TEXT NOT NULL,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_downloads_owner_id ON downloads(owner_id);
CREATE INDEX IF NOT EXISTS idx_downloads_job_id ON downloads(job_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_downloads_owner_track ON downloads(owner_id, track_id);
`

package database

const schema = `
CREATE TABLE IF NOT EXISTS anon_sessions (
    session_id CHAR(36) PRIMARY KEY,
    fingerprint VARCHAR(255) NOT NULL,
    messages_used INT NOT NULL DEFAULT 0,
    story_scenes_created INT NOT NULL DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    last_active TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
    INDEX idx_anon_sessions_fingerprint (fingerprint)
);
`

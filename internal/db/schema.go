package db

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email TEXT NOT NULL UNIQUE COLLATE NOCASE,
		name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'member' CHECK(role IN ('admin','manager','member','client')),
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS magic_tokens (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email TEXT NOT NULL,
		token_hash TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending','approved','used')),
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		token_hash TEXT NOT NULL UNIQUE,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS projects (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		owner_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		manager_id INTEGER REFERENCES users(id) ON DELETE SET NULL,
		status TEXT NOT NULL DEFAULT 'planning'
			CHECK(status IN ('planning','in_progress','on_hold','completed','cancelled')),
		priority TEXT NOT NULL DEFAULT 'medium' CHECK(priority IN ('low','medium','high','critical')),
		start_date TEXT,
		due_date TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS project_members (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		role TEXT NOT NULL DEFAULT 'viewer' CHECK(role IN ('viewer','contributor','admin')),
		created_at DATETIME NOT NULL,
		UNIQUE(project_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS teams (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		leader_id INTEGER REFERENCES users(id) ON DELETE SET NULL,
		is_open INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS team_memberships (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		team_id INTEGER NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		role TEXT NOT NULL DEFAULT 'member' CHECK(role IN ('lead','senior','member','junior')),
		joined_at DATETIME NOT NULL,
		UNIQUE(team_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS team_invitations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		team_id INTEGER NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
		invitee_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		inviter_id INTEGER REFERENCES users(id) ON DELETE SET NULL,
		role TEXT NOT NULL DEFAULT 'member' CHECK(role IN ('lead','senior','member','junior')),
		message TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending','accepted','declined','expired')),
		version INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		responded_at DATETIME
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS team_invitations_one_pending
		ON team_invitations(team_id, invitee_id) WHERE status = 'pending'`,
	`CREATE TABLE IF NOT EXISTS project_teams (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		team_id INTEGER NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
		is_primary INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		UNIQUE(project_id, team_id)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS project_teams_one_primary
		ON project_teams(project_id) WHERE is_primary = 1`,
	`CREATE TABLE IF NOT EXISTS task_lists (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		position INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		UNIQUE(project_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		list_id INTEGER REFERENCES task_lists(id) ON DELETE SET NULL,
		parent_task_id INTEGER REFERENCES tasks(id) ON DELETE CASCADE,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		assignee_id INTEGER REFERENCES users(id) ON DELETE SET NULL,
		creator_id INTEGER REFERENCES users(id) ON DELETE SET NULL,
		status TEXT NOT NULL DEFAULT 'todo'
			CHECK(status IN ('todo','in_progress','blocked','done','cancelled')),
		priority TEXT NOT NULL DEFAULT 'medium' CHECK(priority IN ('low','medium','high','urgent')),
		start_date TEXT,
		due_date TEXT,
		completed_at DATETIME,
		estimated_hours REAL,
		position INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS tasks_project_status ON tasks(project_id, status)`,
	`CREATE INDEX IF NOT EXISTS tasks_assignee_status ON tasks(assignee_id, status)`,
	`CREATE INDEX IF NOT EXISTS tasks_due_date ON tasks(due_date)`,
	`CREATE TABLE IF NOT EXISTS task_dependencies (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id INTEGER NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
		depends_on_id INTEGER NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
		dependency_type TEXT NOT NULL DEFAULT 'FS' CHECK(dependency_type IN ('FS','SS','FF')),
		created_at DATETIME NOT NULL,
		UNIQUE(task_id, depends_on_id),
		CHECK(task_id <> depends_on_id)
	)`,
	`CREATE TABLE IF NOT EXISTS task_labels (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		color TEXT NOT NULL DEFAULT '#3B82F6',
		UNIQUE(project_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS task_label_assignments (
		task_id INTEGER NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
		label_id INTEGER NOT NULL REFERENCES task_labels(id) ON DELETE CASCADE,
		PRIMARY KEY(task_id, label_id)
	)`,
	`CREATE TABLE IF NOT EXISTS comments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		target_type TEXT NOT NULL,
		target_id INTEGER NOT NULL,
		parent_id INTEGER REFERENCES comments(id) ON DELETE CASCADE,
		author_id INTEGER REFERENCES users(id) ON DELETE SET NULL,
		body TEXT NOT NULL,
		edited INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS comments_target ON comments(target_type, target_id)`,
	`CREATE TABLE IF NOT EXISTS comment_mentions (
		comment_id INTEGER NOT NULL REFERENCES comments(id) ON DELETE CASCADE,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		PRIMARY KEY(comment_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS comment_reactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		comment_id INTEGER NOT NULL REFERENCES comments(id) ON DELETE CASCADE,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		reaction TEXT NOT NULL CHECK(reaction IN ('like','dislike','laugh','heart','angry')),
		created_at DATETIME NOT NULL,
		UNIQUE(comment_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS attachments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		target_type TEXT NOT NULL,
		target_id INTEGER NOT NULL,
		uploader_id INTEGER REFERENCES users(id) ON DELETE SET NULL,
		filename TEXT NOT NULL,
		content_type TEXT NOT NULL DEFAULT 'application/octet-stream',
		size INTEGER NOT NULL,
		digest TEXT NOT NULL,
		download_count INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS attachments_target ON attachments(target_type, target_id)`,
	`CREATE INDEX IF NOT EXISTS attachments_digest ON attachments(digest)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id TEXT NOT NULL,
		recipient_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		actor_id INTEGER,
		type TEXT NOT NULL,
		title TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		target_type TEXT NOT NULL DEFAULT '',
		target_id INTEGER NOT NULL DEFAULT 0,
		is_read INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		read_at DATETIME,
		UNIQUE(event_id, recipient_id)
	)`,
	`CREATE INDEX IF NOT EXISTS notifications_recipient ON notifications(recipient_id, is_read)`,
	`CREATE TABLE IF NOT EXISTS activity_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id TEXT NOT NULL UNIQUE,
		user_id INTEGER,
		action TEXT NOT NULL,
		target_type TEXT NOT NULL DEFAULT '',
		target_id INTEGER NOT NULL DEFAULT 0,
		project_id INTEGER,
		description TEXT NOT NULL DEFAULT '',
		changes TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS activity_log_project ON activity_log(project_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS activity_log_user ON activity_log(user_id, created_at)`,
	`CREATE TRIGGER IF NOT EXISTS activity_log_no_update
		BEFORE UPDATE ON activity_log
		BEGIN SELECT RAISE(ABORT, 'activity_log is append-only'); END`,
	`CREATE TRIGGER IF NOT EXISTS activity_log_no_delete
		BEFORE DELETE ON activity_log
		BEGIN SELECT RAISE(ABORT, 'activity_log is append-only'); END`,
}

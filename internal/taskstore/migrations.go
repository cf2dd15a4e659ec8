package taskstore

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    issue_id TEXT,
    payload TEXT,
    priority INTEGER NOT NULL DEFAULT 5,
    status TEXT NOT NULL DEFAULT 'pending',
    retry_count INTEGER NOT NULL DEFAULT 0,
    requeue BOOLEAN NOT NULL DEFAULT FALSE,
    error_message TEXT,
    result TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_issue_id ON tasks(issue_id);

CREATE TABLE IF NOT EXISTS issues (
    id TEXT PRIMARY KEY,
    issue_number INTEGER NOT NULL,
    repo_full_name TEXT NOT NULL,
    title TEXT NOT NULL,
    body TEXT,
    status TEXT NOT NULL DEFAULT 'pending',
    sandbox_id TEXT,
    branch_name TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_issues_status ON issues(status);

CREATE TABLE IF NOT EXISTS decision_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    issue_id TEXT NOT NULL REFERENCES issues(id),
    decision TEXT NOT NULL,
    agree_count INTEGER NOT NULL,
    total_votes INTEGER NOT NULL,
    note TEXT,
    votes TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_decision_log_issue_id ON decision_log(issue_id);

CREATE TABLE IF NOT EXISTS pull_requests (
    issue_id TEXT PRIMARY KEY REFERENCES issues(id),
    repo_full_name TEXT NOT NULL,
    branch_name TEXT NOT NULL,
    title TEXT NOT NULL,
    description TEXT,
    pr_number INTEGER NOT NULL,
    pr_url TEXT NOT NULL,
    status TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS step_results (
    task_id TEXT NOT NULL,
    step_name TEXT NOT NULL,
    result TEXT,
    completed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (task_id, step_name)
);
`

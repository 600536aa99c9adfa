package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				owner VARCHAR(255) NOT NULL DEFAULT '',
				trigger JSONB NOT NULL,
				trigger_kind VARCHAR(50) NOT NULL,
				trigger_slug VARCHAR(255),
				trigger_event VARCHAR(255),
				nodes JSONB NOT NULL DEFAULT '[]',
				edges JSONB NOT NULL DEFAULT '[]',
				active BOOLEAN NOT NULL DEFAULT false,
				last_run_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflows_trigger_kind ON workflows(trigger_kind, active);
			CREATE UNIQUE INDEX idx_workflows_trigger_slug ON workflows(trigger_slug) WHERE trigger_slug IS NOT NULL;
			CREATE INDEX idx_workflows_trigger_event ON workflows(trigger_event) WHERE trigger_event IS NOT NULL;
		`,
		2: `
			CREATE TABLE executions (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL,
				trigger_kind VARCHAR(50) NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL CHECK (status IN ('PENDING', 'RUNNING', 'SUCCESS', 'FAILED')),
				context JSONB NOT NULL DEFAULT '{}',
				error TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_executions_workflow_id ON executions(workflow_id, created_at DESC);
			CREATE INDEX idx_executions_status ON executions(status);
		`,
	}
}

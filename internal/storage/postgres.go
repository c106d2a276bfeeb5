package storage

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/schemantics/agentflow/pkg/models"
	"github.com/schemantics/agentflow/pkg/storage"
)

type DBInterface interface {
	Get(dest interface{}, query string, args ...interface{}) error
	Select(dest interface{}, query string, args ...interface{}) error
	QueryRowx(query string, args ...interface{}) *sqlx.Row
	Exec(query string, args ...interface{}) (sql.Result, error)
}

type PostgresStore struct {
	db DBInterface
}

func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Begin() (storage.Store, error) {
	if db, ok := s.db.(*sqlx.DB); ok {
		tx, err := db.Beginx()
		if err != nil {
			return nil, err
		}
		return &PostgresStore{db: tx}, nil
	}
	return nil, errors.New("cannot begin transaction on unknown type")
}

func (s *PostgresStore) Commit() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Commit()
	}
	return errors.New("cannot commit: not a transaction")
}

func (s *PostgresStore) Rollback() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Rollback()
	}
	return errors.New("cannot rollback: not a transaction")
}

func (s *PostgresStore) Close() error {
	if db, ok := s.db.(*sqlx.DB); ok {
		return db.Close()
	}
	return nil // No-op for *sqlx.Tx
}

// workflowRow mirrors the workflows table; JSON columns are decoded after scanning.
type workflowRow struct {
	ID              string     `db:"id"`
	Name            string     `db:"name"`
	Description     string     `db:"description"`
	Domain          string     `db:"domain"`
	Priority        string     `db:"priority"`
	Status          string     `db:"status"`
	CurrentStep     string     `db:"current_step"`
	SuccessCriteria []byte     `db:"success_criteria"`
	BusinessContext []byte     `db:"business_context"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
	StartedAt       *time.Time `db:"started_at"`
	CompletedAt     *time.Time `db:"completed_at"`
}

func (r workflowRow) toModel() (models.Workflow, error) {
	wf := models.Workflow{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Domain:      models.Domain(r.Domain),
		Priority:    models.Priority(r.Priority),
		Status:      models.WorkflowStatus(r.Status),
		CurrentStep: r.CurrentStep,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
	}
	if len(r.SuccessCriteria) > 0 {
		if err := json.Unmarshal(r.SuccessCriteria, &wf.SuccessCriteria); err != nil {
			return models.Workflow{}, errors.Wrap(err, "decode success_criteria")
		}
	}
	if len(r.BusinessContext) > 0 {
		if err := json.Unmarshal(r.BusinessContext, &wf.BusinessContext); err != nil {
			return models.Workflow{}, errors.Wrap(err, "decode business_context")
		}
	}
	return wf, nil
}

func (s *PostgresStore) SaveWorkflow(w models.Workflow) error {
	criteria, err := json.Marshal(w.SuccessCriteria)
	if err != nil {
		return errors.Wrap(err, "encode success_criteria")
	}
	bizCtx, err := json.Marshal(w.BusinessContext)
	if err != nil {
		return errors.Wrap(err, "encode business_context")
	}
	_, err = s.db.Exec(`INSERT INTO workflows
		(id, name, description, domain, priority, status, current_step, success_criteria, business_context, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		w.ID, w.Name, w.Description, w.Domain, w.Priority, w.Status, w.CurrentStep, criteria, bizCtx, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return errors.Wrapf(err, "save workflow %s", w.ID)
	}
	return nil
}

// GetWorkflow retrieves a workflow by ID, including steps, dependencies and
// recorded outputs.
func (s *PostgresStore) GetWorkflow(id string) (models.Workflow, error) {
	var row workflowRow
	err := s.db.Get(&row, "SELECT * FROM workflows WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.Workflow{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Workflow{}, err
	}
	wf, err := row.toModel()
	if err != nil {
		return models.Workflow{}, err
	}

	steps, err := s.stepsOf(id)
	if err != nil {
		return models.Workflow{}, errors.Wrapf(err, "get workflow %s", id)
	}

	deps, err := s.GetDependencies(id)
	if err != nil {
		return models.Workflow{}, err
	}
	byStep := make(map[string][]string)
	for _, dep := range deps {
		byStep[dep.StepID] = append(byStep[dep.StepID], dep.DependsOn)
	}
	for i := range steps {
		steps[i].Dependencies = byStep[steps[i].ID]
	}
	wf.Steps = steps

	outputs, err := s.GetOutputs(id)
	if err != nil {
		return models.Workflow{}, err
	}
	wf.Outputs = outputs

	return wf, nil
}

func (s *PostgresStore) ListWorkflows() ([]models.Workflow, error) {
	var rows []workflowRow
	err := s.db.Select(&rows, "SELECT * FROM workflows ORDER BY created_at DESC")
	if err != nil {
		return nil, err
	}
	workflows := make([]models.Workflow, 0, len(rows))
	for _, row := range rows {
		wf, err := row.toModel()
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, wf)
	}
	return workflows, nil
}

// UpdateWorkflowStatus updates the status and maintains the transition
// timestamps: started_at on RUNNING, completed_at on a terminal status.
func (s *PostgresStore) UpdateWorkflowStatus(id string, status models.WorkflowStatus) error {
	_, err := s.db.Exec(`
		UPDATE workflows
		SET status = $1,
		updated_at = CURRENT_TIMESTAMP,
		started_at = CASE WHEN $1 = 'RUNNING' AND started_at IS NULL THEN CURRENT_TIMESTAMP ELSE started_at END,
		completed_at = CASE WHEN $1 IN ('COMPLETED', 'FAILED') AND completed_at IS NULL THEN CURRENT_TIMESTAMP ELSE completed_at END
		WHERE id = $2`, status, id)
	return err
}

func (s *PostgresStore) UpdateCurrentStep(workflowID, stepID string) error {
	_, err := s.db.Exec("UPDATE workflows SET current_step = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2", stepID, workflowID)
	return err
}

type stepRow struct {
	ID              string     `db:"id"`
	WorkflowID      string     `db:"workflow_id"`
	AgentType       string     `db:"agent_type"`
	Description     string     `db:"description"`
	Retries         int        `db:"retries"`
	Attempts        int        `db:"attempts"`
	Status          string     `db:"status"`
	ErrorMsg        string     `db:"error_msg"`
	TimeoutSeconds  *int64     `db:"timeout_seconds"`
	OutputMapping   []byte     `db:"output_mapping"`
	RequiredFields  []byte     `db:"required_fields"`
	SuccessCriteria []byte     `db:"success_criteria"`
	StartedAt       *time.Time `db:"started_at"`
	FinishedAt      *time.Time `db:"finished_at"`
}

func (r stepRow) toModel() (models.Step, error) {
	step := models.Step{
		ID:          r.ID,
		WorkflowID:  r.WorkflowID,
		AgentType:   r.AgentType,
		Description: r.Description,
		RetryBudget: r.Retries,
		Attempts:    r.Attempts,
		Status:      models.StepStatus(r.Status),
		ErrorMsg:    r.ErrorMsg,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
	}
	if r.TimeoutSeconds != nil {
		timeout := time.Duration(*r.TimeoutSeconds) * time.Second
		step.Timeout = &timeout
	}
	if len(r.OutputMapping) > 0 {
		if err := json.Unmarshal(r.OutputMapping, &step.OutputMapping); err != nil {
			return models.Step{}, errors.Wrap(err, "decode output_mapping")
		}
	}
	if len(r.RequiredFields) > 0 {
		if err := json.Unmarshal(r.RequiredFields, &step.RequiredFields); err != nil {
			return models.Step{}, errors.Wrap(err, "decode required_fields")
		}
	}
	if len(r.SuccessCriteria) > 0 {
		if err := json.Unmarshal(r.SuccessCriteria, &step.SuccessCriteria); err != nil {
			return models.Step{}, errors.Wrap(err, "decode success_criteria")
		}
	}
	return step, nil
}

func (s *PostgresStore) SaveStep(t models.Step) error {
	mapping, err := json.Marshal(t.OutputMapping)
	if err != nil {
		return errors.Wrap(err, "encode output_mapping")
	}
	required, err := json.Marshal(t.RequiredFields)
	if err != nil {
		return errors.Wrap(err, "encode required_fields")
	}
	criteria, err := json.Marshal(t.SuccessCriteria)
	if err != nil {
		return errors.Wrap(err, "encode success_criteria")
	}
	var timeoutSecs *int64
	if t.Timeout != nil {
		secs := int64(t.Timeout.Seconds())
		timeoutSecs = &secs
	}
	_, err = s.db.Exec(`INSERT INTO steps
		(id, workflow_id, agent_type, description, retries, attempts, status, error_msg, timeout_seconds, output_mapping, required_fields, success_criteria, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id, workflow_id) DO UPDATE SET
		status = EXCLUDED.status, attempts = EXCLUDED.attempts, error_msg = EXCLUDED.error_msg,
		started_at = EXCLUDED.started_at, finished_at = EXCLUDED.finished_at`,
		t.ID, t.WorkflowID, t.AgentType, t.Description, t.RetryBudget, t.Attempts, t.Status, t.ErrorMsg, timeoutSecs, mapping, required, criteria, t.StartedAt, t.FinishedAt)
	return err
}

func (s *PostgresStore) GetStep(id, workflowID string) (models.Step, error) {
	var row stepRow
	err := s.db.Get(&row, "SELECT * FROM steps WHERE id = $1 AND workflow_id = $2", id, workflowID)
	if err == sql.ErrNoRows {
		return models.Step{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Step{}, err
	}
	return row.toModel()
}

// UpdateStepStatus updates the status and error message of a step,
// maintaining started_at/finished_at on the transitions.
func (s *PostgresStore) UpdateStepStatus(id, workflowID string, status models.StepStatus, errorMsg string) error {
	_, err := s.db.Exec(`
		UPDATE steps
		SET status = $1,
		error_msg = $2,
		started_at = CASE WHEN $1 = 'RUNNING' AND started_at IS NULL THEN CURRENT_TIMESTAMP ELSE started_at END,
		finished_at = CASE WHEN $1 IN ('COMPLETED', 'FAILED') THEN CURRENT_TIMESTAMP ELSE finished_at END
		WHERE id = $3 AND workflow_id = $4`, status, errorMsg, id, workflowID)
	return err
}

func (s *PostgresStore) UpdateStepAttempts(id, workflowID string, attempts int) error {
	_, err := s.db.Exec("UPDATE steps SET attempts = $1 WHERE id = $2 AND workflow_id = $3", attempts, id, workflowID)
	return err
}

func (s *PostgresStore) SaveDependency(d models.Dependency) error {
	_, err := s.db.Exec("INSERT INTO dependencies (step_id, depends_on, workflow_id) VALUES ($1, $2, $3)",
		d.StepID, d.DependsOn, d.WorkflowID)
	return err
}

func (s *PostgresStore) GetDependencies(workflowID string) ([]models.Dependency, error) {
	var deps []models.Dependency
	err := s.db.Select(&deps, "SELECT step_id, depends_on, workflow_id FROM dependencies WHERE workflow_id = $1", workflowID)
	if err != nil {
		return nil, err
	}
	return deps, nil
}

// SaveOutput records an accepted step result. Each step is written at most
// once per run; a re-run overwrites the previous result.
func (s *PostgresStore) SaveOutput(workflowID, stepID string, output models.Output) error {
	encoded, err := json.Marshal(output)
	if err != nil {
		return errors.Wrap(err, "encode step output")
	}
	_, err = s.db.Exec(`INSERT INTO step_outputs (workflow_id, step_id, output, recorded_at)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP)
		ON CONFLICT (workflow_id, step_id) DO UPDATE SET output = EXCLUDED.output, recorded_at = EXCLUDED.recorded_at`,
		workflowID, stepID, encoded)
	return err
}

func (s *PostgresStore) GetOutputs(workflowID string) (map[string]models.Output, error) {
	type outputRow struct {
		StepID string `db:"step_id"`
		Output []byte `db:"output"`
	}
	var rows []outputRow
	err := s.db.Select(&rows, "SELECT step_id, output FROM step_outputs WHERE workflow_id = $1", workflowID)
	if err != nil {
		return nil, err
	}
	outputs := make(map[string]models.Output, len(rows))
	for _, row := range rows {
		var out models.Output
		if err := json.Unmarshal(row.Output, &out); err != nil {
			return nil, errors.Wrapf(err, "decode output of step %s", row.StepID)
		}
		outputs[row.StepID] = out
	}
	return outputs, nil
}

func (s *PostgresStore) AppendExecutionLog(rec models.ExecutionLog) error {
	_, err := s.db.Exec(`INSERT INTO execution_log (run_id, workflow_id, step_id, attempt, event, message, logged_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.RunID, rec.WorkflowID, rec.StepID, rec.Attempt, rec.Event, rec.Message, rec.LoggedAt)
	return err
}

func (s *PostgresStore) GetExecutionLog(workflowID string) ([]models.ExecutionLog, error) {
	var recs []models.ExecutionLog
	err := s.db.Select(&recs, "SELECT * FROM execution_log WHERE workflow_id = $1 ORDER BY id", workflowID)
	if err != nil {
		return nil, err
	}
	return recs, nil
}

func (s *PostgresStore) stepsOf(workflowID string) ([]models.Step, error) {
	var rows []stepRow
	err := s.db.Select(&rows, "SELECT * FROM steps WHERE workflow_id = $1 ORDER BY id", workflowID)
	if err != nil {
		return nil, err
	}
	steps := make([]models.Step, 0, len(rows))
	for _, row := range rows {
		step, err := row.toModel()
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, nil
}

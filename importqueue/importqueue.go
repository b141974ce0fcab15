// Package importqueue runs scene imports in the background. Jobs move through
// pending, in progress and a final state; only completed jobs deliver a
// scene, and they deliver it through a single results channel so the viewer
// loop stays the only owner of the live scene.
package importqueue

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MichaelMauderer/Gazer/importer"
	"github.com/MichaelMauderer/Gazer/renderer"
	"github.com/MichaelMauderer/Gazer/scene"
	"github.com/MichaelMauderer/Gazer/stream"
)

// JobState represents the current state of an import job.
type JobState int

const (
	StatePending JobState = iota
	StateInProgress
	StateCompleted
	StateCancelled
	StateError
)

func (s JobState) String() string {
	switch s {
	case StatePending:
		return "Pending"
	case StateInProgress:
		return "InProgress"
	case StateCompleted:
		return "Completed"
	case StateCancelled:
		return "Cancelled"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

// MarshalJSON serializes JobState as a lowercase string for JSON.
func (s JobState) MarshalJSON() ([]byte, error) {
	var str string
	switch s {
	case StatePending:
		str = "pending"
	case StateInProgress:
		str = "in_progress"
	case StateCompleted:
		str = "completed"
	case StateCancelled:
		str = "cancelled"
	case StateError:
		str = "error"
	default:
		str = "unknown"
	}
	return json.Marshal(str)
}

// UnmarshalJSON deserializes JobState from a string.
func (s *JobState) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	switch str {
	case "pending":
		*s = StatePending
	case "in_progress":
		*s = StateInProgress
	case "completed":
		*s = StateCompleted
	case "cancelled":
		*s = StateCancelled
	case "error":
		*s = StateError
	default:
		*s = StatePending
	}
	return nil
}

// ImportFunc builds a scene. It must honour ctx and may report progress.
type ImportFunc func(ctx context.Context, progress importer.ProgressCallback) (*scene.Scene, error)

// Job is a single background import.
type Job struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	State    JobState          `json:"state"`
	Progress importer.Progress `json:"progress"`
	Error    string            `json:"error,omitempty"`

	fn     ImportFunc
	ctx    context.Context
	cancel context.CancelFunc

	CreatedAt   time.Time `json:"created_at"`
	ClaimedAt   time.Time `json:"claimed_at"`
	CompletedAt time.Time `json:"completed_at"`
	ErroredAt   time.Time `json:"errored_at"`
}

// Result is a finished import.
type Result struct {
	ID    string
	Scene *scene.Scene
}

// Queue is a thread-safe FIFO of import jobs.
type Queue struct {
	mu       sync.Mutex
	Jobs     map[string]*Job
	JobOrder []string
	Signal   chan string
	Db       *sql.DB
	results  chan Result
}

// NewQueue initializes and returns a new Queue.
func NewQueue() *Queue {
	return &Queue{
		Jobs:    make(map[string]*Job),
		Signal:  make(chan string, 100),
		results: make(chan Result, 16),
	}
}

// NewQueueWithDB returns a Queue that records its job history in db.
// Jobs left unfinished by a previous run cannot be resumed and are loaded
// as errored.
func NewQueueWithDB(db *sql.DB) *Queue {
	q := NewQueue()
	q.Db = db
	if err := q.createJobsTable(); err != nil {
		log.Printf("Failed to create imports table: %v", err)
	}
	if err := q.loadJobsFromDB(); err != nil {
		log.Printf("Failed to load imports from database: %v", err)
	}
	return q
}

func (q *Queue) createJobsTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS imports (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		state INTEGER NOT NULL,
		error TEXT,
		created_at DATETIME NOT NULL,
		claimed_at DATETIME,
		completed_at DATETIME,
		errored_at DATETIME,
		job_order_position INTEGER
	)`
	_, err := q.Db.Exec(query)
	return err
}

func (q *Queue) saveJobToDB(job *Job) error {
	if q.Db == nil {
		return nil
	}
	position := -1
	for i, id := range q.JobOrder {
		if id == job.ID {
			position = i
			break
		}
	}
	query := `
	INSERT OR REPLACE INTO imports (
		id, name, state, error, created_at, claimed_at, completed_at, errored_at, job_order_position
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := q.Db.Exec(query,
		job.ID,
		job.Name,
		int(job.State),
		job.Error,
		job.CreatedAt,
		job.ClaimedAt,
		job.CompletedAt,
		job.ErroredAt,
		position,
	)
	return err
}

func (q *Queue) loadJobsFromDB() error {
	if q.Db == nil {
		return nil
	}
	rows, err := q.Db.Query(`
	SELECT id, name, state, COALESCE(error, ''), created_at, claimed_at, completed_at, errored_at
	FROM imports
	ORDER BY job_order_position`)
	if err != nil {
		return err
	}
	defer rows.Close()

	var interrupted []string
	for rows.Next() {
		var job Job
		var state int
		if err := rows.Scan(&job.ID, &job.Name, &state, &job.Error,
			&job.CreatedAt, &job.ClaimedAt, &job.CompletedAt, &job.ErroredAt); err != nil {
			log.Printf("Error scanning import row: %v", err)
			continue
		}
		job.State = JobState(state)
		if job.State == StatePending || job.State == StateInProgress {
			job.State = StateError
			job.Error = "interrupted"
			job.ErroredAt = time.Now()
			interrupted = append(interrupted, job.ID)
		}
		q.Jobs[job.ID] = &job
		q.JobOrder = append(q.JobOrder, job.ID)
	}
	if len(interrupted) > 0 {
		log.Printf("Marked %d interrupted imports as failed: %v", len(interrupted), interrupted)
		for _, id := range interrupted {
			if err := q.saveJobToDB(q.Jobs[id]); err != nil {
				log.Printf("Failed to save import %s to database: %v", id, err)
			}
		}
	}
	return rows.Err()
}

// Add queues fn under name and returns the new job's ID.
func (q *Queue) Add(name string, fn ImportFunc) string {
	q.mu.Lock()
	defer q.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	job := &Job{
		ID:        uuid.NewString(),
		Name:      name,
		State:     StatePending,
		fn:        fn,
		ctx:       ctx,
		cancel:    cancel,
		CreatedAt: time.Now(),
	}
	q.Jobs[job.ID] = job
	q.JobOrder = append(q.JobOrder, job.ID)

	if err := q.saveJobToDB(job); err != nil {
		log.Printf("Failed to save import to database: %v", err)
	}
	select {
	case q.Signal <- job.ID:
	default:
	}
	if err := serializeListUpdate("create", job); err != nil {
		log.Printf("Failed to broadcast import: %v", err)
	}
	return job.ID
}

// Claim marks the oldest pending job as in progress and returns it, or nil
// when nothing is pending.
func (q *Queue) Claim() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, id := range q.JobOrder {
		job := q.Jobs[id]
		if job.State != StatePending {
			continue
		}
		job.State = StateInProgress
		job.ClaimedAt = time.Now()
		if err := q.saveJobToDB(job); err != nil {
			log.Printf("Failed to save import state to database: %v", err)
		}
		if err := serializeListUpdate("update", job); err != nil {
			log.Printf("Failed to broadcast import: %v", err)
		}
		return job
	}
	return nil
}

// UpdateProgress records progress for an in-progress job.
func (q *Queue) UpdateProgress(id string, p importer.Progress) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, exists := q.Jobs[id]
	if !exists || job.State != StateInProgress {
		return
	}
	job.Progress = p
	if err := serializeListUpdate("update", job); err != nil {
		log.Printf("Failed to broadcast import: %v", err)
	}
}

// Complete marks an in-progress job completed and delivers its scene.
// The send happens outside the queue lock and blocks until the consumer has
// room.
func (q *Queue) Complete(id string, s *scene.Scene) error {
	if s == nil {
		return errors.New("job produced no scene")
	}
	q.mu.Lock()
	job, exists := q.Jobs[id]
	if !exists {
		q.mu.Unlock()
		return errors.New("job not found")
	}
	if job.State != StateInProgress {
		q.mu.Unlock()
		return errors.New("job is not in progress, cannot complete")
	}
	job.State = StateCompleted
	job.CompletedAt = time.Now()
	if err := q.saveJobToDB(job); err != nil {
		log.Printf("Failed to save import completion to database: %v", err)
	}
	if err := serializeListUpdate("update", job); err != nil {
		log.Printf("Failed to broadcast import: %v", err)
	}
	q.mu.Unlock()

	q.results <- Result{ID: id, Scene: s}
	return nil
}

// Fail marks an in-progress job as errored.
func (q *Queue) Fail(id string, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, exists := q.Jobs[id]
	if !exists {
		return errors.New("job not found")
	}
	if job.State != StateInProgress {
		return errors.New("job is not in progress, cannot set error")
	}
	job.State = StateError
	job.ErroredAt = time.Now()
	if cause != nil {
		job.Error = cause.Error()
	}
	if err := q.saveJobToDB(job); err != nil {
		log.Printf("Failed to save import error state to database: %v", err)
	}
	if err := serializeListUpdate("update", job); err != nil {
		log.Printf("Failed to broadcast import: %v", err)
	}
	return nil
}

// Cancel aborts a pending or in-progress job. A cancelled job never
// delivers a scene.
func (q *Queue) Cancel(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, exists := q.Jobs[id]
	if !exists {
		return errors.New("job not found")
	}
	if job.State != StatePending && job.State != StateInProgress {
		return errors.New("job is not pending or in progress, cannot cancel")
	}
	if job.cancel != nil {
		job.cancel()
	}
	job.State = StateCancelled
	if err := q.saveJobToDB(job); err != nil {
		log.Printf("Failed to save import cancellation to database: %v", err)
	}
	return serializeListUpdate("update", job)
}

// Results delivers completed imports. There is a single consumer.
func (q *Queue) Results() <-chan Result {
	return q.results
}

// GetJobs returns copies of all jobs, newest first.
func (q *Queue) GetJobs() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	jobs := make([]Job, 0, len(q.JobOrder))
	for i := len(q.JobOrder) - 1; i >= 0; i-- {
		jobs = append(jobs, *q.Jobs[q.JobOrder[i]])
	}
	return jobs
}

// GetJob returns a copy of the job with id.
func (q *Queue) GetJob(id string) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, exists := q.Jobs[id]
	if !exists {
		return Job{}, false
	}
	return *job, true
}

// ClearFinished removes every job that is no longer pending or running and
// returns how many were removed.
func (q *Queue) ClearFinished() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.JobOrder[:0]
	cleared := 0
	for _, id := range q.JobOrder {
		job := q.Jobs[id]
		if job.State == StatePending || job.State == StateInProgress {
			kept = append(kept, id)
			continue
		}
		delete(q.Jobs, id)
		if q.Db != nil {
			if _, err := q.Db.Exec("DELETE FROM imports WHERE id = ?", id); err != nil {
				log.Printf("Failed to remove import %s from database: %v", id, err)
			}
		}
		if err := serializeListUpdate("delete", &Job{ID: id}); err != nil {
			log.Printf("Failed to broadcast import: %v", err)
		}
		cleared++
	}
	q.JobOrder = kept
	return cleared
}

// SerializedJob is the event payload broadcast for job list changes.
type SerializedJob struct {
	UpdateType string `json:"updateType"`
	Job        Job    `json:"job"`
	HTML       string `json:"html"`
}

func serializeListUpdate(updateType string, job *Job) error {
	var html bytes.Buffer
	if err := renderer.Templates().ExecuteTemplate(&html, "importRow", job); err != nil {
		return fmt.Errorf("error executing template: %v", err)
	}
	j, err := json.Marshal(SerializedJob{UpdateType: updateType, Job: *job, HTML: html.String()})
	if err != nil {
		return fmt.Errorf("error marshalling event: %v", err)
	}
	stream.Broadcast(stream.Message{Type: stream.TypeImport, Msg: string(j)})
	return nil
}

// Package queue serializes schema migrations per table through a durable,
// retryable job queue. Jobs are persisted before Enqueue returns and
// reloaded on startup, so a restart never loses an accepted change.
package queue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ppongpan/Q-Collector-sub002/api"
	"github.com/ppongpan/Q-Collector-sub002/internal/data/repository"
	"github.com/ppongpan/Q-Collector-sub002/internal/migration"
	"github.com/rs/zerolog/log"
)

// Executor is the slice of the migration executor the queue dispatches to.
type Executor interface {
	AddColumn(ctx context.Context, req migration.AddColumnRequest) (*api.Migration, error)
	DropColumn(ctx context.Context, req migration.DropColumnRequest) (*api.Migration, error)
	RenameColumn(ctx context.Context, req migration.RenameColumnRequest) (*api.Migration, error)
	MigrateColumnType(ctx context.Context, req migration.ModifyColumnTypeRequest) (*api.Migration, error)
}

// Options tune the queue. Zero values pick the defaults.
type Options struct {
	Workers     int
	MaxAttempts int
	BackoffBase time.Duration
	JobTimeout  time.Duration
}

const (
	defaultWorkers     = 4
	defaultMaxAttempts = 3
	defaultBackoffBase = 2 * time.Second
	defaultJobTimeout  = 5 * time.Minute
)

// Meta carries the job context that a FieldChange itself does not know.
type Meta struct {
	TableName string
	FormID    string
	UserID    string
}

// priorities order job dispatch: additive and safe changes first,
// destructive last, to minimize the window of data-at-risk.
var priorities = map[api.ChangeKind]int{
	api.ChangeAddField:    1,
	api.ChangeRenameField: 2,
	api.ChangeFieldType:   3,
	api.ChangeDeleteField: 4,
}

// PriorityFor returns the dispatch tier for a change kind. Unknown kinds
// sort last; the worker rejects them when dequeued.
func PriorityFor(kind api.ChangeKind) int {
	if p, ok := priorities[kind]; ok {
		return p
	}
	return 9
}

// Queue accepts field changes and executes them asynchronously with the
// guarantee that no two DDL jobs against the same table ever run
// concurrently.
type Queue struct {
	jobs     repository.JobRepository
	ledger   repository.LedgerRepository
	executor Executor
	notifier Notifier
	opts     Options

	mu           sync.Mutex
	pending      []*api.MigrationJob
	activeTables map[string]struct{}

	wake     chan struct{}
	sem      chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New builds a queue; call Start to begin dispatching.
func New(jobs repository.JobRepository, ledger repository.LedgerRepository, executor Executor, notifier Notifier, opts Options) *Queue {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = defaultBackoffBase
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = defaultJobTimeout
	}
	if notifier == nil {
		notifier = LogNotifier{}
	}

	return &Queue{
		jobs:         jobs,
		ledger:       ledger,
		executor:     executor,
		notifier:     notifier,
		opts:         opts,
		activeTables: make(map[string]struct{}),
		wake:         make(chan struct{}, 1),
		sem:          make(chan struct{}, opts.Workers),
		stopCh:       make(chan struct{}),
	}
}

// Start reloads persisted pending jobs and begins dispatching.
func (q *Queue) Start(ctx context.Context) error {
	reloaded, err := q.jobs.LoadPending(ctx)
	if err != nil {
		return fmt.Errorf("failed to reload pending jobs: %w", err)
	}

	q.mu.Lock()
	q.pending = append(q.pending, reloaded...)
	q.mu.Unlock()

	if len(reloaded) > 0 {
		log.Info().Int("jobs", len(reloaded)).Msg("requeued jobs from previous run")
	}

	q.wg.Add(1)
	go q.dispatch()
	q.kick()
	return nil
}

// Stop drains the queue: no new jobs are dispatched, in-flight DDL runs to
// completion (interrupting DDL mid-transaction risks catalog corruption),
// and jobs waiting out a backoff are parked as waiting for the next start.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() { close(q.stopCh) })
	q.wg.Wait()
}

// Enqueue persists the change as a job and returns immediately; the schema
// is not changed until the job reaches terminal status. Enqueuing the same
// logical change again while the first is still waiting returns the
// existing job instead of a duplicate.
func (q *Queue) Enqueue(ctx context.Context, change api.FieldChange, meta Meta) (*api.MigrationJob, error) {
	fp := fingerprint(change, meta.TableName)

	existing, err := q.jobs.FindWaitingByFingerprint(ctx, fp)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		log.Debug().
			Str("jobId", existing.ID.String()).
			Str("table", meta.TableName).
			Msg("identical change already queued, deduplicating")
		return existing, nil
	}

	job := &api.MigrationJob{
		ID:          uuid.New(),
		Fingerprint: fp,
		Kind:        change.Kind,
		TableName:   meta.TableName,
		FieldID:     change.FieldID,
		FormID:      meta.FormID,
		UserID:      meta.UserID,
		Priority:    PriorityFor(change.Kind),
		MaxAttempts: q.opts.MaxAttempts,
		Status:      api.JobWaiting,
		OldType:     change.OldType,
		NewType:     change.NewType,
	}

	switch change.Kind {
	case api.ChangeAddField:
		job.ColumnName = change.NewColumnName
	case api.ChangeDeleteField:
		job.ColumnName = change.OldColumnName
	case api.ChangeRenameField:
		job.ColumnName = change.OldColumnName
		job.NewColumnName = change.NewColumnName
	default:
		// CHANGE_TYPE and anything newer runs against the current name.
		job.ColumnName = change.NewColumnName
		if job.ColumnName == "" {
			job.ColumnName = change.OldColumnName
		}
	}

	if err := q.jobs.Insert(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}

	// The workers own the queued instance and mutate it across attempts, so
	// the caller gets its own copy to read and encode freely.
	queued := *job
	q.mu.Lock()
	q.pending = append(q.pending, &queued)
	q.mu.Unlock()
	q.kick()

	log.Info().
		Str("jobId", job.ID.String()).
		Str("kind", string(job.Kind)).
		Str("table", job.TableName).
		Str("column", job.ColumnName).
		Msg("migration job enqueued")

	return job, nil
}

// GetStatus returns the persisted state of one job.
func (q *Queue) GetStatus(ctx context.Context, jobID uuid.UUID) (*api.MigrationJob, error) {
	return q.jobs.GetByID(ctx, jobID)
}

// GetStatusByForm returns every job ever enqueued for a form.
func (q *Queue) GetStatusByForm(ctx context.Context, formID string) ([]*api.MigrationJob, error) {
	return q.jobs.FindByForm(ctx, formID)
}

// CancelWaiting cancels a queued-but-not-started job. Active jobs cannot be
// cancelled: they run to completion.
func (q *Queue) CancelWaiting(ctx context.Context, jobID uuid.UUID) error {
	q.mu.Lock()
	var job *api.MigrationJob
	for i, p := range q.pending {
		if p.ID == jobID {
			job = p
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			break
		}
	}
	q.mu.Unlock()

	if job == nil {
		return fmt.Errorf("job %s is not waiting; only queued jobs can be cancelled", jobID)
	}

	msg := "cancelled before execution"
	job.Status = api.JobFailed
	job.LastError = &msg
	if err := q.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("failed to persist cancellation: %w", err)
	}

	log.Info().Str("jobId", jobID.String()).Msg("waiting job cancelled")
	return nil
}

func (q *Queue) kick() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) dispatch() {
	defer q.wg.Done()
	for {
		select {
		case <-q.stopCh:
			return
		case <-q.wake:
		}

		for {
			job := q.next()
			if job == nil {
				break
			}

			select {
			case q.sem <- struct{}{}:
			case <-q.stopCh:
				q.park(job)
				return
			}

			q.wg.Add(1)
			go q.run(job)
		}
	}
}

// next picks the highest-priority, oldest job whose table has no active job
// and takes the table lease for it.
func (q *Queue) next() *api.MigrationJob {
	q.mu.Lock()
	defer q.mu.Unlock()

	bestIdx := -1
	for i, job := range q.pending {
		if _, busy := q.activeTables[job.TableName]; busy {
			continue
		}
		if bestIdx < 0 || job.Priority < q.pending[bestIdx].Priority {
			bestIdx = i
		}
	}
	if bestIdx < 0 {
		return nil
	}

	job := q.pending[bestIdx]
	q.pending = append(q.pending[:bestIdx], q.pending[bestIdx+1:]...)
	q.activeTables[job.TableName] = struct{}{}
	return job
}

// release frees the table lease taken in next.
func (q *Queue) release(tableName string) {
	q.mu.Lock()
	delete(q.activeTables, tableName)
	q.mu.Unlock()
	q.kick()
}

// park returns an undispatched job to the waiting set during shutdown. The
// job goes back to the head so it keeps its place within its priority tier.
func (q *Queue) park(job *api.MigrationJob) {
	q.release(job.TableName)
	q.mu.Lock()
	q.pending = append([]*api.MigrationJob{job}, q.pending...)
	q.mu.Unlock()
}

// run executes one job to terminal status. The context is deliberately
// detached from the server's: once dequeued, a DDL step must not be
// cancelled mid-transaction.
func (q *Queue) run(job *api.MigrationJob) {
	defer q.wg.Done()
	defer func() {
		<-q.sem
		q.release(job.TableName)
	}()

	for {
		job.Attempts++
		job.Status = api.JobActive
		q.persist(job)

		ctx, cancel := context.WithTimeout(context.Background(), q.opts.JobTimeout)
		m, err := q.executeOnce(ctx, job)
		cancel()

		if err == nil {
			job.Status = api.JobCompleted
			job.LastError = nil
			q.persist(job)
			log.Info().
				Str("jobId", job.ID.String()).
				Str("table", job.TableName).
				Int64("migrationId", m.ID).
				Int("attempts", job.Attempts).
				Msg("migration job completed")
			return
		}

		msg := err.Error()
		job.LastError = &msg

		if job.Attempts >= job.MaxAttempts || !retryable(err) {
			q.terminalFailure(job, err)
			return
		}

		q.persist(job)
		backoff := q.opts.BackoffBase << (job.Attempts - 1)
		log.Warn().
			Str("jobId", job.ID.String()).
			Str("table", job.TableName).
			Int("attempt", job.Attempts).
			Dur("backoff", backoff).
			Err(err).
			Msg("migration job failed, retrying")

		if !q.wait(backoff) {
			// Shutting down: park the job as waiting for the next start.
			job.Status = api.JobWaiting
			q.persist(job)
			return
		}
	}
}

// executeOnce maps the job onto one executor operation. The executor is told
// to skip failure recording: the queue writes exactly one failed ledger
// entry when the job becomes terminal, not one per attempt.
func (q *Queue) executeOnce(ctx context.Context, job *api.MigrationJob) (*api.Migration, error) {
	switch job.Kind {
	case api.ChangeAddField:
		return q.executor.AddColumn(ctx, migration.AddColumnRequest{
			TableName:         job.TableName,
			FormID:            job.FormID,
			FieldID:           job.FieldID,
			ColumnName:        job.ColumnName,
			FieldKind:         job.NewType,
			ExecutedBy:        job.UserID,
			IgnoreDuplicate:   true,
			SkipFailureRecord: true,
		})
	case api.ChangeDeleteField:
		return q.executor.DropColumn(ctx, migration.DropColumnRequest{
			TableName:         job.TableName,
			FormID:            job.FormID,
			FieldID:           job.FieldID,
			ColumnName:        job.ColumnName,
			ExecutedBy:        job.UserID,
			Backup:            true,
			SkipFailureRecord: true,
		})
	case api.ChangeRenameField:
		return q.executor.RenameColumn(ctx, migration.RenameColumnRequest{
			TableName:         job.TableName,
			FormID:            job.FormID,
			FieldID:           job.FieldID,
			OldColumnName:     job.ColumnName,
			NewColumnName:     job.NewColumnName,
			ExecutedBy:        job.UserID,
			SkipFailureRecord: true,
		})
	case api.ChangeFieldType:
		return q.executor.MigrateColumnType(ctx, migration.ModifyColumnTypeRequest{
			TableName:         job.TableName,
			FormID:            job.FormID,
			FieldID:           job.FieldID,
			ColumnName:        job.ColumnName,
			OldFieldKind:      job.OldType,
			NewFieldKind:      job.NewType,
			ExecutedBy:        job.UserID,
			SkipFailureRecord: true,
		})
	default:
		return nil, &migration.UnknownMigrationTypeError{Kind: string(job.Kind)}
	}
}

// terminalFailure marks the job failed, writes the single failed ledger
// entry, and emits the failure event. Never silently dropped: every step
// that itself fails is logged.
func (q *Queue) terminalFailure(job *api.MigrationJob, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), q.opts.JobTimeout)
	defer cancel()

	job.Status = api.JobFailed
	q.persist(job)

	fieldID := job.FieldID
	msg := cause.Error()
	entry := &api.Migration{
		FieldID:      &fieldID,
		FormID:       job.FormID,
		Type:         migrationTypeFor(job.Kind),
		TableName:    job.TableName,
		ColumnName:   job.ColumnName,
		ExecutedBy:   job.UserID,
		Success:      false,
		ErrorMessage: &msg,
	}
	if err := q.ledger.Append(ctx, entry); err != nil {
		log.Error().
			Err(err).
			Str("jobId", job.ID.String()).
			Msg("failed to record terminal job failure in ledger")
	}

	q.notifier.NotifyFailure(ctx, FailureEvent{
		JobID:       job.ID,
		MigrationID: entry.ID,
		FormID:      job.FormID,
		TableName:   job.TableName,
		Err:         cause,
	})
}

func (q *Queue) persist(job *api.MigrationJob) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := q.jobs.Update(ctx, job); err != nil {
		log.Error().
			Err(err).
			Str("jobId", job.ID.String()).
			Str("status", string(job.Status)).
			Msg("failed to persist job state")
	}
}

// wait sleeps for the backoff or returns false when the queue is stopping.
func (q *Queue) wait(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-q.stopCh:
		return false
	}
}

// retryable reports whether another attempt could possibly succeed.
// Validation and existence errors are deterministic; only transaction-level
// failures (locks, connectivity) are worth retrying.
func retryable(err error) bool {
	var (
		dup     *migration.DuplicateColumnError
		missing *migration.MissingColumnError
		conv    *migration.TypeConversionValidationError
		expired *migration.ExpiredBackupError
		unknown *migration.UnknownMigrationTypeError
	)
	switch {
	case errors.As(err, &dup),
		errors.As(err, &missing),
		errors.As(err, &conv),
		errors.As(err, &expired),
		errors.As(err, &unknown):
		return false
	}
	return true
}

func migrationTypeFor(kind api.ChangeKind) api.MigrationType {
	switch kind {
	case api.ChangeAddField:
		return api.MigrationAddColumn
	case api.ChangeDeleteField:
		return api.MigrationDropColumn
	case api.ChangeRenameField:
		return api.MigrationRenameColumn
	case api.ChangeFieldType:
		return api.MigrationModifyColumn
	default:
		return api.MigrationType(kind)
	}
}

// fingerprint identifies a logical change for deduplication.
func fingerprint(change api.FieldChange, tableName string) string {
	h := sha256.Sum256([]byte(strings.Join([]string{
		string(change.Kind),
		tableName,
		change.FieldID,
		change.OldColumnName,
		change.NewColumnName,
		change.OldType,
		change.NewType,
	}, "|")))
	return hex.EncodeToString(h[:])
}

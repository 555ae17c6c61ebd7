package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"textml-orchestrator/core/models"
	"textml-orchestrator/pkg/logger"
	"textml-orchestrator/training"
)

type fakeJobStore struct {
	mu   sync.Mutex
	jobs map[string]*models.TrainingJob

	markTrainingErr error
}

func newFakeJobStore(jobs ...*models.TrainingJob) *fakeJobStore {
	s := &fakeJobStore{jobs: make(map[string]*models.TrainingJob)}
	for _, j := range jobs {
		s.jobs[j.ID] = j
	}
	return s
}

func (s *fakeJobStore) GetJob(_ context.Context, id string) (*models.TrainingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, errors.New("training job not found")
	}
	copied := *job
	return &copied, nil
}

func (s *fakeJobStore) MarkTraining(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markTrainingErr != nil {
		return false, s.markTrainingErr
	}
	job, ok := s.jobs[id]
	if !ok || job.Status != models.JobStatusQueued {
		return false, nil
	}
	job.Status = models.JobStatusTraining
	return true, nil
}

func (s *fakeJobStore) MarkReady(_ context.Context, id string, result *models.TrainingResult, modelPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status != models.JobStatusTraining {
		return fmt.Errorf("job %s is not in status training", id)
	}
	job.Status = models.JobStatusReady
	job.Result = result
	job.ModelPath = modelPath
	job.Progress = 100
	return nil
}

func (s *fakeJobStore) MarkFailed(_ context.Context, id string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return errors.New("training job not found")
	}
	if job.Status.Terminal() {
		return nil
	}
	job.Status = models.JobStatusFailed
	job.Error = reason
	return nil
}

func (s *fakeJobStore) UpdateProgress(_ context.Context, id string, progress float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok {
		job.Progress = progress
	}
	return nil
}

func (s *fakeJobStore) setCancelled(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[id].Cancelled = true
}

func (s *fakeJobStore) status(id string) models.JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id].Status
}

func (s *fakeJobStore) errorMsg(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id].Error
}

type fakeDelivery struct {
	body     []byte
	mu       sync.Mutex
	acked    bool
	requeued bool
}

func (d *fakeDelivery) Body() []byte { return d.body }

func (d *fakeDelivery) Ack() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.acked = true
	return nil
}

func (d *fakeDelivery) Requeue() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requeued = true
	return nil
}

func (d *fakeDelivery) state() (acked, requeued bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acked, d.requeued
}

type fakeDatasets struct {
	examples []models.TextExample
	err      error
}

func (f *fakeDatasets) LoadDatasetSnapshot(context.Context, string) ([]models.TextExample, error) {
	return f.examples, f.err
}

type fakeSink struct {
	err   error
	saved int32
}

func (f *fakeSink) SaveModel(_ context.Context, projectID string, _ *training.Bundle) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	atomic.AddInt32(&f.saved, 1)
	return "models/" + projectID + "/model.bundle", nil
}

// trainerFunc adapts a function to the Trainer interface.
type trainerFunc func(models.TrainingConfig, []models.TextExample, training.Checkpoint) (*models.TrainingResult, *training.Bundle, error)

func (f trainerFunc) Train(cfg models.TrainingConfig, ex []models.TextExample, cp training.Checkpoint) (*models.TrainingResult, *training.Bundle, error) {
	return f(cfg, ex, cp)
}

func okTrainer() Trainer {
	return trainerFunc(func(_ models.TrainingConfig, _ []models.TextExample, cp training.Checkpoint) (*models.TrainingResult, *training.Bundle, error) {
		if err := cp("fit", 50); err != nil {
			return nil, nil, err
		}
		return &models.TrainingResult{Accuracy: 90}, &training.Bundle{}, nil
	})
}

func queuedJob(id string) *models.TrainingJob {
	return &models.TrainingJob{
		ID:          id,
		ProjectID:   "proj-1",
		Status:      models.JobStatusQueued,
		Config:      models.TrainingConfig{},
		DatasetPath: "datasets/jobs/" + id + ".json",
	}
}

func deliveryFor(jobID string) *fakeDelivery {
	return &fakeDelivery{body: []byte(`{"jobId":"` + jobID + `","action":"start_training"}`)}
}

func newWorker(jobs JobStore, t Trainer, maxConcurrent int) *Worker {
	return New(jobs, &fakeDatasets{examples: []models.TextExample{{Text: "hi", Label: "a"}}}, &fakeSink{}, nil, t, maxConcurrent, logger.Nop())
}

func TestSuccessfulRunMarksReady(t *testing.T) {
	store := newFakeJobStore(queuedJob("job-1"))
	w := newWorker(store, okTrainer(), 3)

	d := deliveryFor("job-1")
	w.HandleDelivery(d)

	if got := store.status("job-1"); got != models.JobStatusReady {
		t.Fatalf("status = %q, want ready", got)
	}
	if acked, requeued := d.state(); !acked || requeued {
		t.Fatalf("acked=%v requeued=%v, want acked only", acked, requeued)
	}
	if store.jobs["job-1"].ModelPath == "" {
		t.Fatal("model path not recorded")
	}
}

func TestPoisonMessageAckedAndDropped(t *testing.T) {
	store := newFakeJobStore()
	w := newWorker(store, okTrainer(), 3)

	for _, body := range []string{"not json", `{"jobId":"","action":"start_training"}`, `{"jobId":"x","action":"other"}`} {
		d := &fakeDelivery{body: []byte(body)}
		w.HandleDelivery(d)
		if acked, requeued := d.state(); !acked || requeued {
			t.Fatalf("body %q: acked=%v requeued=%v, want acked only", body, acked, requeued)
		}
	}
}

func TestUnknownJobAcked(t *testing.T) {
	store := newFakeJobStore()
	w := newWorker(store, okTrainer(), 3)

	d := deliveryFor("missing")
	w.HandleDelivery(d)
	if acked, _ := d.state(); !acked {
		t.Fatal("delivery for unknown job must be acked")
	}
}

func TestRedeliveryOfFinishedJobIsIdempotent(t *testing.T) {
	store := newFakeJobStore(queuedJob("job-1"))
	trained := int32(0)
	counting := trainerFunc(func(cfg models.TrainingConfig, ex []models.TextExample, cp training.Checkpoint) (*models.TrainingResult, *training.Bundle, error) {
		atomic.AddInt32(&trained, 1)
		return okTrainer().Train(cfg, ex, cp)
	})
	w := newWorker(store, counting, 3)

	w.HandleDelivery(deliveryFor("job-1"))

	// Redelivery after completion: must ack without retraining.
	d := deliveryFor("job-1")
	w.HandleDelivery(d)

	if got := atomic.LoadInt32(&trained); got != 1 {
		t.Fatalf("trainer ran %d times, want 1", got)
	}
	if acked, requeued := d.state(); !acked || requeued {
		t.Fatalf("redelivery: acked=%v requeued=%v, want acked only", acked, requeued)
	}
	if got := store.status("job-1"); got != models.JobStatusReady {
		t.Fatalf("status = %q, want ready", got)
	}
}

func TestDuplicateDeliveryWhileInFlight(t *testing.T) {
	store := newFakeJobStore(queuedJob("job-1"))
	release := make(chan struct{})
	started := make(chan struct{})
	blocking := trainerFunc(func(models.TrainingConfig, []models.TextExample, training.Checkpoint) (*models.TrainingResult, *training.Bundle, error) {
		close(started)
		<-release
		return &models.TrainingResult{}, &training.Bundle{}, nil
	})
	w := newWorker(store, blocking, 3)

	first := deliveryFor("job-1")
	done := make(chan struct{})
	go func() {
		w.HandleDelivery(first)
		close(done)
	}()
	<-started

	dup := deliveryFor("job-1")
	w.HandleDelivery(dup)
	if acked, requeued := dup.state(); !acked || requeued {
		t.Fatalf("duplicate: acked=%v requeued=%v, want acked only", acked, requeued)
	}

	close(release)
	<-done
	if got := store.status("job-1"); got != models.JobStatusReady {
		t.Fatalf("status = %q, want ready", got)
	}
}

func TestConcurrencyCapRequeuesOverflow(t *testing.T) {
	const cap = 3
	const burst = cap + 5

	jobs := make([]*models.TrainingJob, burst)
	for i := range jobs {
		jobs[i] = queuedJob(fmt.Sprintf("job-%d", i))
	}
	store := newFakeJobStore(jobs...)

	var running, peak int32
	release := make(chan struct{})
	gated := trainerFunc(func(models.TrainingConfig, []models.TextExample, training.Checkpoint) (*models.TrainingResult, *training.Bundle, error) {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		<-release
		atomic.AddInt32(&running, -1)
		return &models.TrainingResult{}, &training.Bundle{}, nil
	})
	w := newWorker(store, gated, cap)

	deliveries := make([]*fakeDelivery, burst)
	var wg sync.WaitGroup
	for i := 0; i < burst; i++ {
		deliveries[i] = deliveryFor(fmt.Sprintf("job-%d", i))
		wg.Add(1)
		go func(d *fakeDelivery) {
			defer wg.Done()
			w.HandleDelivery(d)
		}(deliveries[i])
	}

	// Wait until the cap is saturated, then the rest must have been requeued.
	deadline := time.After(2 * time.Second)
	for atomic.LoadInt32(&running) < cap {
		select {
		case <-deadline:
			t.Fatalf("only %d jobs running, want %d", atomic.LoadInt32(&running), cap)
		case <-time.After(5 * time.Millisecond):
		}
	}

	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&peak); got > cap {
		t.Fatalf("peak concurrency %d exceeds cap %d", got, cap)
	}

	acked, requeued := 0, 0
	for _, d := range deliveries {
		a, r := d.state()
		if a {
			acked++
		}
		if r {
			requeued++
		}
	}
	if acked != cap || requeued != burst-cap {
		t.Fatalf("acked=%d requeued=%d, want %d acked and %d requeued", acked, requeued, cap, burst-cap)
	}
}

func TestCancelledBeforeStartFailsWithoutTraining(t *testing.T) {
	job := queuedJob("job-1")
	job.Cancelled = true
	store := newFakeJobStore(job)

	trained := int32(0)
	counting := trainerFunc(func(models.TrainingConfig, []models.TextExample, training.Checkpoint) (*models.TrainingResult, *training.Bundle, error) {
		atomic.AddInt32(&trained, 1)
		return &models.TrainingResult{}, &training.Bundle{}, nil
	})
	w := newWorker(store, counting, 3)

	d := deliveryFor("job-1")
	w.HandleDelivery(d)

	if got := atomic.LoadInt32(&trained); got != 0 {
		t.Fatalf("trainer ran %d times, want 0", got)
	}
	if got := store.status("job-1"); got != models.JobStatusFailed {
		t.Fatalf("status = %q, want failed", got)
	}
	if msg := store.errorMsg("job-1"); msg != "cancelled before training started" {
		t.Fatalf("error = %q", msg)
	}
	if acked, _ := d.state(); !acked {
		t.Fatal("cancelled delivery must be acked")
	}
}

func TestCancelMidTrainingAbortsAtCheckpoint(t *testing.T) {
	store := newFakeJobStore(queuedJob("job-1"))
	w := newWorker(store, trainerFunc(func(_ models.TrainingConfig, _ []models.TextExample, cp training.Checkpoint) (*models.TrainingResult, *training.Bundle, error) {
		// First checkpoint passes, then the client cancels, and the next
		// checkpoint must abort.
		if err := cp("split", 15); err != nil {
			return nil, nil, err
		}
		store.setCancelled("job-1")
		if err := cp("fit", 50); err != nil {
			return nil, nil, err
		}
		t.Fatal("checkpoint did not abort after cancellation")
		return nil, nil, nil
	}), 3)

	d := deliveryFor("job-1")
	w.HandleDelivery(d)

	if got := store.status("job-1"); got != models.JobStatusFailed {
		t.Fatalf("status = %q, want failed", got)
	}
	if msg := store.errorMsg("job-1"); msg != "cancelled during training" {
		t.Fatalf("error = %q", msg)
	}
	if acked, _ := d.state(); !acked {
		t.Fatal("cancelled delivery must be acked")
	}
}

func TestValidationFailureMarksFailedAndAcks(t *testing.T) {
	store := newFakeJobStore(queuedJob("job-1"))
	w := New(store,
		&fakeDatasets{examples: []models.TextExample{{Text: "only one", Label: "a"}}},
		&fakeSink{}, nil, training.NewTrainer(), 3, logger.Nop())

	d := deliveryFor("job-1")
	w.HandleDelivery(d)

	if got := store.status("job-1"); got != models.JobStatusFailed {
		t.Fatalf("status = %q, want failed", got)
	}
	if msg := store.errorMsg("job-1"); msg == "" {
		t.Fatal("validation failure must record a reason")
	}
	if acked, requeued := d.state(); !acked || requeued {
		t.Fatalf("acked=%v requeued=%v, want acked only: validation failures must not retry", acked, requeued)
	}
}

func TestTrainerErrorMarksFailedAndAcks(t *testing.T) {
	store := newFakeJobStore(queuedJob("job-1"))
	w := newWorker(store, trainerFunc(func(models.TrainingConfig, []models.TextExample, training.Checkpoint) (*models.TrainingResult, *training.Bundle, error) {
		return nil, nil, errors.New("numerical explosion")
	}), 3)

	d := deliveryFor("job-1")
	w.HandleDelivery(d)

	if got := store.status("job-1"); got != models.JobStatusFailed {
		t.Fatalf("status = %q, want failed", got)
	}
	if msg := store.errorMsg("job-1"); msg != "numerical explosion" {
		t.Fatalf("error = %q", msg)
	}
	if acked, _ := d.state(); !acked {
		t.Fatal("trainer failure must be acked, not retried")
	}
}

func TestSnapshotLoadFailureMarksFailed(t *testing.T) {
	store := newFakeJobStore(queuedJob("job-1"))
	w := New(store, &fakeDatasets{err: errors.New("blob gone")}, &fakeSink{}, nil, okTrainer(), 3, logger.Nop())

	d := deliveryFor("job-1")
	w.HandleDelivery(d)

	if got := store.status("job-1"); got != models.JobStatusFailed {
		t.Fatalf("status = %q, want failed", got)
	}
	if acked, _ := d.state(); !acked {
		t.Fatal("delivery must be acked")
	}
}

func TestModelSaveFailureRequeues(t *testing.T) {
	store := newFakeJobStore(queuedJob("job-1"))
	w := New(store,
		&fakeDatasets{examples: []models.TextExample{{Text: "hi", Label: "a"}}},
		&fakeSink{err: errors.New("storage down")}, nil, okTrainer(), 3, logger.Nop())

	d := deliveryFor("job-1")
	w.HandleDelivery(d)

	if acked, requeued := d.state(); acked || !requeued {
		t.Fatalf("acked=%v requeued=%v, want requeued only", acked, requeued)
	}
	// The job stays in training; a redelivery will find it claimed and ack.
	if got := store.status("job-1"); got != models.JobStatusTraining {
		t.Fatalf("status = %q, want training", got)
	}
}

func TestClaimErrorRequeues(t *testing.T) {
	store := newFakeJobStore(queuedJob("job-1"))
	store.markTrainingErr = errors.New("db down")
	w := newWorker(store, okTrainer(), 3)

	d := deliveryFor("job-1")
	w.HandleDelivery(d)

	if acked, requeued := d.state(); acked || !requeued {
		t.Fatalf("acked=%v requeued=%v, want requeued only", acked, requeued)
	}
	if got := store.status("job-1"); got != models.JobStatusQueued {
		t.Fatalf("status = %q, want queued", got)
	}
}

func TestPanicInTrainerMarksFailed(t *testing.T) {
	store := newFakeJobStore(queuedJob("job-1"))
	w := newWorker(store, trainerFunc(func(models.TrainingConfig, []models.TextExample, training.Checkpoint) (*models.TrainingResult, *training.Bundle, error) {
		panic("index out of range")
	}), 3)

	d := deliveryFor("job-1")
	w.HandleDelivery(d)

	if got := store.status("job-1"); got != models.JobStatusFailed {
		t.Fatalf("status = %q, want failed", got)
	}
	if acked, _ := d.state(); !acked {
		t.Fatal("delivery must be acked after panic recovery")
	}
}

package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

type recordingRunner struct {
	ids []uuid.UUID
	err error
}

func (r *recordingRunner) Run(_ context.Context, id uuid.UUID) error {
	r.ids = append(r.ids, id)
	return r.err
}

func TestHandle(t *testing.T) {
	id := uuid.MustParse("0b6f2f5e-1c1f-4d7a-9d0b-3c7b7d1e2a10")
	tests := []struct {
		name    string
		body    string
		runErr  error
		wantAck bool
		wantRun bool
	}{
		{"ok", `{"document_id":"` + id.String() + `","enqueued_at":"2025-01-02T03:04:05Z"}`, nil, true, true},
		{"pipeline failure still acks", `{"document_id":"` + id.String() + `"}`, errors.New("boom"), true, true},
		{"garbage", `not json`, nil, false, false},
		{"missing id", `{"enqueued_at":"2025-01-02T03:04:05Z"}`, nil, false, false},
		{"bad uuid", `{"document_id":"nope"}`, nil, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &recordingRunner{err: tt.runErr}
			w := NewIngestWorker(nil, runner, "jobs", 2, nil)

			if got := w.handle(context.Background(), []byte(tt.body)); got != tt.wantAck {
				t.Errorf("handle() = %v, want %v", got, tt.wantAck)
			}
			if ran := len(runner.ids) == 1 && runner.ids[0] == id; ran != tt.wantRun {
				t.Errorf("runner ids = %v", runner.ids)
			}
		})
	}
}

func TestNewIngestWorkerDefaults(t *testing.T) {
	w := NewIngestWorker(nil, &recordingRunner{}, "jobs", 0, nil)
	if w.concurrency != 1 {
		t.Errorf("concurrency = %d, want 1", w.concurrency)
	}
	w.Close()
}

type ackRecorder struct {
	acks, nacks int
}

func (a *ackRecorder) Ack(uint64, bool) error        { a.acks++; return nil }
func (a *ackRecorder) Nack(uint64, bool, bool) error { a.nacks++; return nil }
func (a *ackRecorder) Reject(uint64, bool) error     { a.nacks++; return nil }

// blockingRunner holds a job open until release is closed and records the
// state of its context at that point.
type blockingRunner struct {
	started chan struct{}
	release chan struct{}
	ctxErr  error
}

func (r *blockingRunner) Run(ctx context.Context, _ uuid.UUID) error {
	close(r.started)
	<-r.release
	r.ctxErr = ctx.Err()
	return nil
}

func TestLoopFinishesInFlightJobOnShutdown(t *testing.T) {
	runner := &blockingRunner{started: make(chan struct{}), release: make(chan struct{})}
	w := NewIngestWorker(nil, runner, "jobs", 1, nil)
	ack := &ackRecorder{}

	deliveries := make(chan amqp.Delivery, 1)
	deliveries <- amqp.Delivery{
		Acknowledger: ack,
		Body:         []byte(`{"document_id":"0b6f2f5e-1c1f-4d7a-9d0b-3c7b7d1e2a10"}`),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.loop(ctx, 0, deliveries)
		close(done)
	}()

	<-runner.started
	cancel()
	close(runner.release)
	<-done

	if runner.ctxErr != nil {
		t.Errorf("job context = %v, want it to outlive shutdown", runner.ctxErr)
	}
	if ack.acks != 1 || ack.nacks != 0 {
		t.Errorf("acks = %d, nacks = %d", ack.acks, ack.nacks)
	}
}

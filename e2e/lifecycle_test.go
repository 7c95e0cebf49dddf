package e2e_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/glizzus/cmdcron/e2e"
	"github.com/glizzus/cmdcron/internal/command"
	"github.com/glizzus/cmdcron/internal/datalayer"
	"github.com/glizzus/cmdcron/internal/engine"
	"github.com/glizzus/cmdcron/internal/executor"
	"github.com/glizzus/cmdcron/internal/handler"
	"github.com/glizzus/cmdcron/internal/repository"
	"github.com/glizzus/cmdcron/internal/run"
	"github.com/glizzus/cmdcron/internal/worker"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type stack struct {
	engine    *engine.Engine
	executor  *executor.Executor
	schedules *repository.PostgresScheduleRepository
	runs      *repository.PostgresRunRepository
}

// newStack wires the engine to a real executor over Postgres. Commands
// are launched through "echo", so a run prints its own command line.
func newStack(t *testing.T, now time.Time, events worker.EventHandler, defs ...command.Definition) *stack {
	t.Helper()
	pool := e2e.GetPool(t, e2e.UsePostgres(t))
	s := &stack{
		schedules: repository.NewPostgresScheduleRepository(pool),
		runs:      repository.NewPostgresRunRepository(pool),
	}
	e2e.SeedGlobalNoise(t, s.schedules)

	opts := []executor.Option{executor.WithLogger(quiet)}
	if events != nil {
		opts = append(opts, executor.WithEvents(events))
	}
	s.executor = executor.New(s.runs, executor.Config{
		PollInterval:  10 * time.Millisecond,
		FlushInterval: 50 * time.Millisecond,
		RunTimeout:    10 * time.Second,
	}, opts...)
	t.Cleanup(s.executor.Wait)

	s.engine = engine.New(s.schedules, s.runs, command.NewStaticCatalog(defs...), s.executor,
		engine.Config{Prefix: []string{"echo"}},
		engine.WithLogger(quiet),
		engine.WithClock(func() time.Time { return now }),
	)
	return s
}

func launchedNames(report engine.TickReport) []string {
	var names []string
	for _, l := range report.Launched {
		names = append(names, l.CommandName)
	}
	return names
}

func TestScheduledRunLifecycle(t *testing.T) {
	ctx := t.Context()
	at := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	s := newStack(t, at, nil, command.Definition{Name: "e2e_generate_report", App: "reports"})

	_, err := s.engine.SaveSchedule(ctx, repository.Schedule{
		CommandName: "e2e_generate_report",
		Minute:      "0",
		Hour:        "9",
		Active:      true,
		Arguments:   command.Arguments{"report_type": "weekly"},
	})
	if err != nil {
		t.Fatalf("SaveSchedule: %v", err)
	}

	report := s.engine.Tick(ctx, at)
	if diff := cmp.Diff([]string{"e2e_generate_report"}, launchedNames(report)); diff != "" {
		t.Fatalf("launched mismatch (-want +got):\n%s", diff)
	}
	s.executor.Wait()

	runID := report.Launched[0].RunID
	status, err := s.engine.GetStatus(ctx, runID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status.Status != "Success" || status.EndedAt == nil || status.DurationText == "" {
		t.Errorf("status = %+v", status)
	}

	rec, err := s.engine.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if !strings.Contains(rec.Output, "STDOUT:\ne2e_generate_report --report-type=weekly\n") {
		t.Errorf("output = %q", rec.Output)
	}
	if rec.AppName != "reports" {
		t.Errorf("app = %q, want reports", rec.AppName)
	}

	// A second tick in the same minute must not launch again.
	again := s.engine.Tick(ctx, at.Add(30*time.Second))
	if len(launchedNames(again)) != 0 {
		t.Errorf("second tick launched %v", launchedNames(again))
	}
}

func TestRunNowFailureIsRecorded(t *testing.T) {
	ctx := t.Context()
	at := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	s := newStack(t, at, nil, command.Definition{Name: "e2e_missing_binary", App: "ops"})

	// "echo" cannot fail, so launch through a binary that does not exist.
	s.engine = engine.New(s.schedules, s.runs, command.NewStaticCatalog(command.Definition{Name: "e2e_missing_binary", App: "ops"}), s.executor,
		engine.Config{Prefix: []string{"/nonexistent/cmdcron-launcher"}},
		engine.WithLogger(quiet),
		engine.WithClock(func() time.Time { return at }),
	)

	rec, err := s.engine.RunNow(ctx, "e2e_missing_binary", nil)
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	s.executor.Wait()

	got, err := s.engine.GetRun(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != run.StatusFailure {
		t.Errorf("status = %s, want failure", got.Status)
	}
	if !strings.Contains(got.Output, "Error: execution fault during spawn") {
		t.Errorf("output = %q", got.Output)
	}
}

func TestRunEventsReachRedis(t *testing.T) {
	ctx := t.Context()
	client := e2e.UseRedis(t)
	stream := "e2e_run_events"

	receiver, err := worker.NewRedisEventReceiver(ctx, client, stream, "e2e_group", "e2e_consumer")
	if err != nil {
		t.Fatalf("NewRedisEventReceiver: %v", err)
	}

	storage := datalayer.NewMemoryStorage()
	at := time.Date(2024, 3, 4, 11, 0, 0, 0, time.UTC)
	s := newStack(t, at, worker.NewRedisEventHandler(client, stream), command.Definition{Name: "e2e_hello_world", App: "example_app"})

	rec, err := s.engine.RunNow(ctx, "e2e_hello_world", command.Arguments{"name": "redis"})
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	s.executor.Wait()

	recvCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()
	collected := &worker.MemoryEventHandler{}
	handlers := worker.MultiEventHandler{
		collected,
		worker.NewArchivingEventHandler(s.runs, storage),
		stopAfter{kind: worker.EventRunFinished, cancel: cancel},
	}
	if err := receiver.Receive(recvCtx, handlers); err != nil {
		t.Fatalf("Receive: %v", err)
	}

	var kinds []worker.EventKind
	for _, event := range collected.Events() {
		if event.RunID == rec.ID {
			kinds = append(kinds, event.Kind)
		}
	}
	if diff := cmp.Diff([]worker.EventKind{worker.EventRunStarted, worker.EventRunFinished}, kinds); diff != "" {
		t.Errorf("event kinds mismatch (-want +got):\n%s", diff)
	}

	archived, err := storage.Get(ctx, datalayer.OutputKey(rec.ID))
	if err != nil {
		t.Fatalf("archived output missing: %v", err)
	}
	defer archived.Close()
	body, _ := io.ReadAll(archived)
	if !strings.Contains(string(body), "e2e_hello_world --name=redis") {
		t.Errorf("archived output = %q", body)
	}
}

// stopAfter cancels the receive loop once an event of kind is handled.
type stopAfter struct {
	kind   worker.EventKind
	cancel context.CancelFunc
}

func (s stopAfter) HandleEvents(_ context.Context, events ...worker.RunEvent) error {
	for _, event := range events {
		if event.Kind == s.kind {
			s.cancel()
		}
	}
	return nil
}

func TestHTTPTriggerAndPoll(t *testing.T) {
	at := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	s := newStack(t, at, nil, command.Definition{Name: "e2e_cleanup_old_data", App: "example_app"})
	srv := httptest.NewServer(handler.New(s.engine, quiet).Router(nil))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/schedules/e2e_cleanup_old_data/run", "application/json", strings.NewReader(`{"arguments":{"days":7}}`))
	if err != nil {
		t.Fatalf("POST run: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	var started struct {
		RunID     string `json:"run_id"`
		StatusURL string `json:"status_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&started); err != nil {
		t.Fatalf("decode: %v", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		statusResp, err := http.Get(srv.URL + started.StatusURL)
		if err != nil {
			t.Fatalf("GET status: %v", err)
		}
		var payload run.StatusPayload
		err = json.NewDecoder(statusResp.Body).Decode(&payload)
		statusResp.Body.Close()
		if err != nil {
			t.Fatalf("decode status: %v", err)
		}
		if payload.StatusCode == "S" {
			if !strings.Contains(payload.OutputPreview, "e2e_cleanup_old_data --days=7") {
				t.Errorf("preview = %q", payload.OutputPreview)
			}
			return
		}
		if payload.StatusCode == "F" || time.Now().After(deadline) {
			t.Fatalf("run did not succeed: %+v", payload)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestNewEngine(t *testing.T) {
	engine := NewEngine()

	snapshot := engine.Snapshot()
	if snapshot.TotalRequests != 0 {
		t.Errorf("Initial TotalRequests = %d, want 0", snapshot.TotalRequests)
	}
	if snapshot.Phase != PhaseInit {
		t.Errorf("Initial phase = %v, want %v", snapshot.Phase, PhaseInit)
	}
	if len(snapshot.Phases) != 0 {
		t.Errorf("Initial phase history = %v, want empty", snapshot.Phases)
	}
}

func TestEngine_RecordRequest(t *testing.T) {
	engine := NewEngine()

	engine.RecordRequest("form 71 start page", 10*time.Millisecond, 1000, true)
	engine.RecordRequest("form 71 question 0", 20*time.Millisecond, 2000, true)
	engine.RecordRequest("form 71 question 0", 30*time.Millisecond, 500, false)

	snapshot := engine.Snapshot()

	if snapshot.TotalRequests != 3 {
		t.Errorf("TotalRequests = %d, want 3", snapshot.TotalRequests)
	}
	if snapshot.SuccessRequests != 2 {
		t.Errorf("SuccessRequests = %d, want 2", snapshot.SuccessRequests)
	}
	if snapshot.FailedRequests != 1 {
		t.Errorf("FailedRequests = %d, want 1", snapshot.FailedRequests)
	}
	if snapshot.TotalBytes != 3500 {
		t.Errorf("TotalBytes = %d, want 3500", snapshot.TotalBytes)
	}
	if got := snapshot.Requests["form 71 question 0"].Count; got != 2 {
		t.Errorf("question 0 count = %d, want 2", got)
	}
	if got := snapshot.Requests["form 71 start page"].Count; got != 1 {
		t.Errorf("start page count = %d, want 1", got)
	}
	if snapshot.ErrorRate < 0.33 || snapshot.ErrorRate > 0.34 {
		t.Errorf("ErrorRate = %v, want ~0.333", snapshot.ErrorRate)
	}
}

func TestEngine_LatencyPercentiles(t *testing.T) {
	engine := NewEngine()

	for i := 1; i <= 10; i++ {
		engine.RecordRequest("", time.Duration(i)*10*time.Millisecond, 100, true)
	}

	latency := engine.Snapshot().Latency

	if latency.P50 < 40*time.Millisecond || latency.P50 > 60*time.Millisecond {
		t.Errorf("P50 = %v, want ~50ms (±10ms)", latency.P50)
	}
	if latency.P99 < 90*time.Millisecond || latency.P99 > 110*time.Millisecond {
		t.Errorf("P99 = %v, want ~100ms (±10ms)", latency.P99)
	}
	if latency.Count != 10 {
		t.Errorf("Count = %d, want 10", latency.Count)
	}
}

func TestEngine_ClampsOutOfRangeLatency(t *testing.T) {
	engine := NewEngine()

	engine.RecordRequest("", 0, 0, true)
	engine.RecordRequest("", 2*time.Hour, 0, true)

	latency := engine.Snapshot().Latency
	if latency.Count != 2 {
		t.Fatalf("Count = %d, want 2", latency.Count)
	}
	if latency.Max < 59*time.Minute {
		t.Errorf("Max = %v, want clamped to ~1h", latency.Max)
	}
}

func TestEngine_SessionOutcomes(t *testing.T) {
	engine := NewEngine()

	for i := 0; i < 5; i++ {
		engine.SessionStarted()
	}
	engine.SessionFinished(OutcomeCompleted, "", 2*time.Second)
	engine.SessionFinished(OutcomeCompleted, "ignored", 4*time.Second)
	engine.SessionFinished(OutcomeFailed, "unsupported_field", time.Second)
	engine.SessionFinished(OutcomeRetired, "", time.Second)
	engine.SessionFinished(OutcomeIncomplete, "", time.Second)

	s := engine.Snapshot().Sessions
	if s.Started != 5 || s.Completed != 2 || s.Failed != 1 || s.Retired != 1 || s.Incomplete != 1 {
		t.Errorf("sessions = %+v", s)
	}
	if s.FailedBy["unsupported_field"] != 1 || len(s.FailedBy) != 1 {
		t.Errorf("FailedBy = %v, want only unsupported_field=1", s.FailedBy)
	}
	if got := engine.Snapshot().SessionDuration.Count; got != 2 {
		t.Errorf("SessionDuration.Count = %d, want 2", got)
	}
}

func TestEngine_PhaseTransitions(t *testing.T) {
	engine := NewEngine()

	engine.SetPhase(PhaseRampUp)
	engine.RecordRequest("", time.Millisecond, 0, true)
	engine.SetPhase(PhaseRampUp)
	engine.SetPhase(PhaseSteady)
	engine.SetPhase(PhaseDone)

	if engine.Phase() != PhaseDone {
		t.Errorf("Phase = %v, want %v", engine.Phase(), PhaseDone)
	}

	history := engine.Snapshot().Phases
	want := []Phase{PhaseRampUp, PhaseSteady, PhaseDone}
	if len(history) != len(want) {
		t.Fatalf("history length = %d, want %d", len(history), len(want))
	}
	for i, p := range want {
		if history[i].Phase != p {
			t.Errorf("history[%d] = %v, want %v", i, history[i].Phase, p)
		}
	}
	if history[1].Requests != 1 {
		t.Errorf("requests at steady = %d, want 1", history[1].Requests)
	}
}

func TestEngine_ConcurrentRecording(t *testing.T) {
	engine := NewEngine()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				engine.RecordRequest("form 1 question 0", time.Millisecond, 10, i%2 == 0)
			}
		}()
	}
	wg.Wait()

	snapshot := engine.Snapshot()
	if snapshot.TotalRequests != 4000 {
		t.Errorf("TotalRequests = %d, want 4000", snapshot.TotalRequests)
	}
	if snapshot.Requests["form 1 question 0"].Count != 4000 {
		t.Errorf("per-request count = %d, want 4000", snapshot.Requests["form 1 question 0"].Count)
	}
}

func TestHandler_ExposesEngine(t *testing.T) {
	engine := NewEngine()
	engine.RecordRequest("form 71 start page", 5*time.Millisecond, 100, true)
	engine.SessionStarted()
	engine.SessionFinished(OutcomeFailed, "transport", time.Second)
	engine.SetActive(3)
	engine.SetTarget(4)
	engine.SetPhase(PhaseSteady)

	srv := httptest.NewServer(Handler(engine))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	body := string(raw)

	for _, want := range []string{
		`formload_requests_total{result="success"} 1`,
		`formload_sessions_total{outcome="failed"} 1`,
		`formload_sessions_failed_total{kind="transport"} 1`,
		`formload_active_sessions 3`,
		`formload_target_sessions 4`,
		`formload_phase{phase="steady"} 1`,
		`formload_request_duration_seconds_count{request="form 71 start page"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

package main

import (
	"strings"
	"testing"

	"github.com/git-ai-tools/metrics-pipeline/internal/recorder"
)

func sampleValue(t *testing.T, rec *recorder.Recorder, name string) uint64 {
	t.Helper()
	for _, s := range rec.Snapshot().Samples {
		if s.Name == name {
			return s.Value
		}
	}
	return 0
}

func TestDispatchCommittedEvent(t *testing.T) {
	rec := recorder.New()
	line := `{"type":"committed","repo_url":"github.com/org/repo","human_additions":12,` +
		`"diff_added_lines":40,"diff_deleted_lines":7,"ai_additions":[20,8],"ai_accepted":[24]}`
	if err := dispatchEvent(rec, []byte(line)); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}

	if got := sampleValue(t, rec, recorder.MetricCommittedHumanAdditions); got != 12 {
		t.Errorf("expected human_additions 12, got %d", got)
	}
	if got := sampleValue(t, rec, recorder.MetricCommittedAIAdditions); got != 28 {
		t.Errorf("expected ai_additions 28, got %d", got)
	}
	if got := sampleValue(t, rec, recorder.MetricCommittedAIAccepted); got != 24 {
		t.Errorf("expected ai_accepted 24, got %d", got)
	}
}

func TestDispatchAgentUsageEvent(t *testing.T) {
	rec := recorder.New()
	if err := dispatchEvent(rec, []byte(`{"type":"agent_usage","tool":"assistant"}`)); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if got := sampleValue(t, rec, recorder.MetricAgentUsageCount); got != 1 {
		t.Errorf("expected agent_usage 1, got %d", got)
	}
}

func TestDispatchCheckpointEvent(t *testing.T) {
	rec := recorder.New()
	if err := dispatchEvent(rec, []byte(`{"type":"checkpoint","lines_added":5,"lines_deleted":2}`)); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if got := sampleValue(t, rec, recorder.MetricCheckpointCount); got != 1 {
		t.Errorf("expected checkpoint count 1, got %d", got)
	}
}

func TestDispatchUnknownType(t *testing.T) {
	rec := recorder.New()
	if err := dispatchEvent(rec, []byte(`{"type":"mystery"}`)); err == nil {
		t.Fatal("expected error for unknown event type")
	}
}

func TestDispatchMalformedJSON(t *testing.T) {
	rec := recorder.New()
	if err := dispatchEvent(rec, []byte(`{"type":`)); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestReadEventsSkipsBadLines(t *testing.T) {
	rec := recorder.New()
	input := strings.Join([]string{
		`{"type":"agent_usage"}`,
		`not json at all`,
		``,
		`{"type":"unknown_thing"}`,
		`{"type":"agent_usage"}`,
	}, "\n")

	readEvents(strings.NewReader(input), rec)

	if got := sampleValue(t, rec, recorder.MetricAgentUsageCount); got != 2 {
		t.Errorf("expected 2 agent_usage events recorded, got %d", got)
	}
}

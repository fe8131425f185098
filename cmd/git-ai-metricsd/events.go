package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/git-ai-tools/metrics-pipeline/internal/logging"
	"github.com/git-ai-tools/metrics-pipeline/internal/recorder"
)

// maxEventLine bounds one NDJSON line. Events are small; anything
// bigger is a producer bug.
const maxEventLine = 1 << 20

// eventEnvelope carries just the discriminator; the payload is decoded
// a second time into the concrete event type.
type eventEnvelope struct {
	Type string `json:"type"`
}

// dispatchEvent decodes one NDJSON line and records it.
func dispatchEvent(rec *recorder.Recorder, line []byte) error {
	var env eventEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}

	switch env.Type {
	case "committed":
		var ev recorder.CommitEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return fmt.Errorf("decode committed event: %w", err)
		}
		rec.RecordCommit(ev)
	case "agent_usage":
		var ev recorder.AgentUsageEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return fmt.Errorf("decode agent_usage event: %w", err)
		}
		rec.RecordAgentUsage(ev)
	case "checkpoint":
		var ev recorder.CheckpointEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return fmt.Errorf("decode checkpoint event: %w", err)
		}
		rec.RecordCheckpoint(ev)
	default:
		return fmt.Errorf("unknown event type: %q", env.Type)
	}
	return nil
}

// readEvents consumes NDJSON events until EOF. Malformed lines are
// logged and skipped; one broken producer line must not kill the feed.
func readEvents(r io.Reader, rec *recorder.Recorder) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxEventLine)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := dispatchEvent(rec, line); err != nil {
			logging.Warn("dropping event", logging.F("error", err.Error()))
		}
	}
	if err := scanner.Err(); err != nil {
		logging.Warn("event stream read error", logging.F("error", err.Error()))
	}
}

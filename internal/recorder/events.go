package recorder

// Attribute keys attached opportunistically per event.
const (
	AttrRepoURL       = "repo_url"
	AttrAuthor        = "author"
	AttrCommitSHA     = "commit_sha"
	AttrBaseCommitSHA = "base_commit_sha"
	AttrBranch        = "branch"
	AttrTool          = "tool"
	AttrModel         = "model"
	AttrPromptID      = "prompt_id"
)

// EventContext carries the attributes shared by all event types. Empty
// fields are omitted from the recorded attribute set.
type EventContext struct {
	RepoURL       string `json:"repo_url,omitempty"`
	Author        string `json:"author,omitempty"`
	CommitSHA     string `json:"commit_sha,omitempty"`
	BaseCommitSHA string `json:"base_commit_sha,omitempty"`
	Branch        string `json:"branch,omitempty"`
	Tool          string `json:"tool,omitempty"`
	Model         string `json:"model,omitempty"`
	PromptID      string `json:"prompt_id,omitempty"`
}

// Attrs converts the context into a recorder attribute set.
func (c EventContext) Attrs() Attrs {
	attrs := Attrs{}
	put := func(k, v string) {
		if v != "" {
			attrs[k] = v
		}
	}
	put(AttrRepoURL, c.RepoURL)
	put(AttrAuthor, c.Author)
	put(AttrCommitSHA, c.CommitSHA)
	put(AttrBaseCommitSHA, c.BaseCommitSHA)
	put(AttrBranch, c.Branch)
	put(AttrTool, c.Tool)
	put(AttrModel, c.Model)
	put(AttrPromptID, c.PromptID)
	if len(attrs) == 0 {
		return nil
	}
	return attrs
}

// CommitEvent is emitted by the post-commit hook. AIAdditions and
// AIAccepted arrive per contributing tool and are summed into one
// aggregate, matching the commit attribution model.
type CommitEvent struct {
	EventContext
	HumanAdditions   uint64   `json:"human_additions"`
	DiffAddedLines   uint64   `json:"diff_added_lines"`
	DiffDeletedLines uint64   `json:"diff_deleted_lines"`
	AIAdditions      []uint64 `json:"ai_additions,omitempty"`
	AIAccepted       []uint64 `json:"ai_accepted,omitempty"`
}

// AgentUsageEvent is emitted once per AI agent invocation.
type AgentUsageEvent struct {
	EventContext
}

// CheckpointEvent is emitted when the tool checkpoints working-tree
// state between commits.
type CheckpointEvent struct {
	EventContext
	LinesAdded   uint64 `json:"lines_added"`
	LinesDeleted uint64 `json:"lines_deleted"`
}

// RecordCommit fans a commit event out into the committed.* counters.
// Zero-valued counters are still skipped for AI sums so that commits
// with no AI involvement produce no ai_* identities.
func (r *Recorder) RecordCommit(ev CommitEvent) {
	attrs := ev.Attrs()

	r.Record(MetricCommittedHumanAdditions, KindCounter, ev.HumanAdditions, attrs)
	r.Record(MetricCommittedDiffAdded, KindCounter, ev.DiffAddedLines, attrs)
	r.Record(MetricCommittedDiffDeleted, KindCounter, ev.DiffDeletedLines, attrs)

	if total := sum(ev.AIAdditions); total > 0 {
		r.Record(MetricCommittedAIAdditions, KindCounter, total, attrs)
	}
	if total := sum(ev.AIAccepted); total > 0 {
		r.Record(MetricCommittedAIAccepted, KindCounter, total, attrs)
	}
}

// RecordAgentUsage counts one agent invocation.
func (r *Recorder) RecordAgentUsage(ev AgentUsageEvent) {
	r.Record(MetricAgentUsageCount, KindCounter, 1, ev.Attrs())
}

// RecordCheckpoint counts one checkpoint and observes its line deltas.
func (r *Recorder) RecordCheckpoint(ev CheckpointEvent) {
	attrs := ev.Attrs()
	r.Record(MetricCheckpointCount, KindCounter, 1, attrs)
	r.Record(MetricCheckpointLinesAdded, KindHistogram, ev.LinesAdded, attrs)
	r.Record(MetricCheckpointLinesDeleted, KindHistogram, ev.LinesDeleted, attrs)
}

func sum(vs []uint64) uint64 {
	var total uint64
	for _, v := range vs {
		total += v
	}
	return total
}

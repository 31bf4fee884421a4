// snapshot.go: point-in-time pipeline state served over the status API
// and the progress websockets
package pipeline

import (
	"sync"

	"github.com/tphakala/photoindex/internal/datastore"
)

// Pipeline status values.
const (
	StatusIdle       = "idle"
	StatusProcessing = "processing"
	StatusDone       = "done"
)

// StageStatus is the live view of one stage: ledger totals plus what this
// process is doing right now.
type StageStatus struct {
	Stage       string `json:"stage"`
	Workers     int    `json:"workers"`
	QueueDepth  int    `json:"queue_depth"`
	Pending     int64  `json:"pending"`
	InFlight    int64  `json:"in_flight"`
	Done        int64  `json:"done"`
	Failed      int64  `json:"failed"`
	Skipped     int64  `json:"skipped"`
	Processed   int64  `json:"processed"` // settled by this process since start
	CurrentFile string `json:"current_file,omitempty"`
	LastFile    string `json:"last_file,omitempty"`
}

// Stats is the full pipeline snapshot.
type Stats struct {
	Status        string        `json:"status"` // idle, processing or done
	ScanActive    bool          `json:"scan_active"`
	Discovered    int64         `json:"discovered"`
	Processed     int64         `json:"processed"`
	UptimeSeconds float64       `json:"uptime_seconds"` // scan elapsed, frozen at completion
	Bottleneck    string        `json:"bottleneck,omitempty"`
	Stages        []StageStatus `json:"stages"`
}

// ScanProgress is the compact scan view pushed over the scan websocket.
type ScanProgress struct {
	IsScanning     bool   `json:"is_scanning"`
	TotalFiles     int64  `json:"total_files"`
	ProcessedFiles int64  `json:"processed_files"`
	CurrentFile    string `json:"current_file,omitempty"`
	Phase          string `json:"phase,omitempty"`
}

// FlowEdge is one edge of the static stage graph.
type FlowEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Flow returns the stage graph for the flow endpoint. Discovery is shown
// as the source feeding the root stages.
func Flow() []FlowEdge {
	edges := make([]FlowEdge, 0, len(rootStages)+4)
	for _, stage := range rootStages {
		edges = append(edges, FlowEdge{From: "discovery", To: string(stage)})
	}
	for _, from := range datastore.AllStages() {
		for _, to := range downstream[from] {
			edges = append(edges, FlowEdge{From: string(from), To: string(to)})
		}
	}
	return edges
}

// tracker records what each stage worked on most recently and how many
// of its workers hold a claim right now. With several workers per stage
// the current file is last-writer-wins, which is close enough for a
// progress display.
type tracker struct {
	mu      sync.Mutex
	current map[datastore.Stage]string
	running map[datastore.Stage]int
	last    map[datastore.Stage]string
	settled map[datastore.Stage]int64
}

func newTracker() *tracker {
	return &tracker{
		current: make(map[datastore.Stage]string),
		running: make(map[datastore.Stage]int),
		last:    make(map[datastore.Stage]string),
		settled: make(map[datastore.Stage]int64),
	}
}

func (t *tracker) setCurrent(stage datastore.Stage, file string) {
	t.mu.Lock()
	t.current[stage] = file
	t.running[stage]++
	t.mu.Unlock()
}

func (t *tracker) clearCurrent(stage datastore.Stage, file string) {
	t.mu.Lock()
	t.running[stage]--
	if t.current[stage] == file {
		t.current[stage] = ""
	}
	t.mu.Unlock()
}

func (t *tracker) runningCount(stage datastore.Stage) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running[stage]
}

func (t *tracker) noteSettled(stage datastore.Stage, file string) {
	t.mu.Lock()
	t.last[stage] = file
	t.settled[stage]++
	t.mu.Unlock()
}

func (t *tracker) view(stage datastore.Stage) (current, last string, settled int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current[stage], t.last[stage], t.settled[stage]
}

// anyCurrent returns some stage's current file, in stage order, "" when
// every worker sits idle.
func (t *tracker) anyCurrent() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, stage := range datastore.AllStages() {
		if file := t.current[stage]; file != "" {
			return file
		}
	}
	return ""
}

// bottleneck names the stage with the worst pending backlog relative to
// what it has settled so far, "" when nothing is pending.
func bottleneck(stages []StageStatus) string {
	worst := ""
	var worstRatio float64
	for i := range stages {
		if stages[i].Pending == 0 {
			continue
		}
		ratio := float64(stages[i].Pending) / float64(max(stages[i].Processed, 1))
		if ratio > worstRatio {
			worstRatio = ratio
			worst = stages[i].Stage
		}
	}
	return worst
}

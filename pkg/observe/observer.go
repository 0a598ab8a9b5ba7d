// Package observe carries crawl progress from the pipeline to pluggable observers
// such as structured logs or Prometheus metrics. Observers are passed explicitly to
// each component; nothing in the pipeline reports through package-level state.
package observe

import "time"

// Stage denotes the milestone an Event represents
type Stage string

// Supported stages
const (
	StageFetchDone     Stage = "FETCH_DONE"     // One HTTP fetch finished, successfully or not
	StageFetchRetry    Stage = "FETCH_RETRY"    // A transient fetch error is cooling down before another attempt
	StageLeafFound     Stage = "LEAF_FOUND"     // The coordinator finished collecting a leaf listing
	StageBatchStart    Stage = "BATCH_START"    // A dispatch attempt started
	StageRecordDone    Stage = "RECORD_DONE"    // A product record was added to the batch
	StageRecordSkipped Stage = "RECORD_SKIPPED" // A URL was resolved as failed under the skip policy
	StageBatchAbort    Stage = "BATCH_ABORT"    // A batch-fatal error stopped the attempt
	StageBatchDone     Stage = "BATCH_DONE"     // Every URL of the batch was resolved
	StageBatchExhaust  Stage = "BATCH_EXHAUST"  // The attempt ceiling was reached
	StagePersisted     Stage = "PERSISTED"      // The sink wrote a batch to disk
)

// Event captures one milestone. Fields not meaningful for a stage are left zero.
type Event struct {
	Stage     Stage
	Site      string
	BatchID   string
	URL       string
	OutputDir string
	Title     string
	Status    int   // HTTP status for fetch events
	Bytes     int64 // Response size for fetch events
	Count     int   // Stage specific: completed, unresolved, written or discovered count
	Total     int   // Stage specific: size of the set Count refers to
	Attempt   int
	Dur       time.Duration // Fetch latency, batch runtime or cooldown
	Err       error
	ErrorType string // utils.CategorizeError of Err, when known
}

// Observer consumes pipeline events. Implementations must be safe for concurrent use.
type Observer interface {
	Observe(evt Event)
}

// Func adapts a plain function to the Observer interface
type Func func(evt Event)

// Observe implements Observer
func (f Func) Observe(evt Event) { f(evt) }

// Nop discards every event
var Nop Observer = Func(func(Event) {})

// Multi fans each event out to all observers in order. Nil observers are ignored.
func Multi(observers ...Observer) Observer {
	var list []Observer
	for _, o := range observers {
		if o != nil {
			list = append(list, o)
		}
	}
	switch len(list) {
	case 0:
		return Nop
	case 1:
		return list[0]
	}
	return multi(list)
}

type multi []Observer

func (m multi) Observe(evt Event) {
	for _, o := range m {
		o.Observe(evt)
	}
}

// StatusClass groups an HTTP status code for metric labels
func StatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500 && status < 600:
		return "5xx"
	case status == 0:
		return "error"
	}
	return "other"
}

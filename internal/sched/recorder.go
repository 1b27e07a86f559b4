// internal/sched/recorder.go

package sched

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/emirpasic/gods/lists/arraylist"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Recorder is a Tracer that keeps the event history in memory, logs it and
// optionally streams it to a CSV file.
type Recorder struct {
	mu      sync.Mutex
	session string
	logger  logrus.FieldLogger // nil = silent
	names   []string
	history *arraylist.List

	// logging-related
	csvFile   *os.File
	csvWriter *csv.Writer
}

// NewRecorder creates a recorder logging to logger; a nil logger only
// records.
func NewRecorder(logger logrus.FieldLogger) *Recorder {
	return &Recorder{
		session: uuid.NewString(),
		logger:  logger,
		history: arraylist.New(),
	}
}

// Session returns the run identifier written to every CSV row.
func (r *Recorder) Session() string { return r.session }

// SetTaskNames lets the console output print names instead of ids.
func (r *Recorder) SetTaskNames(names []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append([]string(nil), names...)
}

// EnableCSVLogging opens the given file path for CSV logging of events.
// Must be called before the kernel starts.
func (r *Recorder) EnableCSVLogging(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)

	// write header
	if err := w.Write([]string{"session", "timestamp", "tick", "event", "task_id", "priority", "state", "detail"}); err != nil {
		f.Close()
		return err
	}
	w.Flush()

	r.mu.Lock()
	r.csvFile = f
	r.csvWriter = w
	r.mu.Unlock()
	return nil
}

// Trace implements Tracer.
func (r *Recorder) Trace(ev StatusEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.history.Add(ev)

	// ticks are kept in the history and the CSV but not logged
	if r.logger != nil && ev.Kind != StatusTick {
		r.log(ev)
	}

	if r.csvWriter != nil {
		rec := []string{
			r.session,
			ev.Time.Format(time.RFC3339Nano),
			strconv.FormatUint(ev.Tick, 10),
			ev.Kind.String(),
			strconv.Itoa(int(ev.TaskID)),
			strconv.Itoa(int(ev.Priority)),
			ev.State.String(),
			ev.Detail,
		}
		_ = r.csvWriter.Write(rec)
		r.csvWriter.Flush()
	}
}

func (r *Recorder) log(ev StatusEvent) {
	entry := r.logger.WithFields(logrus.Fields{
		"session":  r.session,
		"tick":     ev.Tick,
		"task":     r.taskName(ev.TaskID),
		"priority": ev.Priority,
		"state":    ev.State,
	})
	if ev.Detail != "" {
		entry = entry.WithField("detail", ev.Detail)
	}
	if ev.Kind == StatusError {
		entry.Warn(ev.Kind.String())
		return
	}
	entry.Info(ev.Kind.String())
}

func (r *Recorder) taskName(id TaskID) string {
	if id == InvalidTask {
		return "-"
	}
	if int(id) < len(r.names) && r.names[id] != "" {
		return r.names[id]
	}
	return fmt.Sprintf("%04d", id)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []StatusEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]StatusEvent, 0, r.history.Size())
	it := r.history.Iterator()
	for it.Next() {
		out = append(out, it.Value().(StatusEvent))
	}
	return out
}

// Filter returns the recorded events of the given kind in order.
func (r *Recorder) Filter(kind StatusKind) []StatusEvent {
	var out []StatusEvent
	for _, ev := range r.Events() {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// Close flushes and closes the CSV file, if any.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.csvFile == nil {
		return nil
	}
	r.csvWriter.Flush()
	err := r.csvWriter.Error()
	if cerr := r.csvFile.Close(); err == nil {
		err = cerr
	}
	r.csvFile, r.csvWriter = nil, nil
	return err
}

// Package ridelog records each telemetry cycle to a per-ride CSV file so
// a session can be replayed or charted afterwards.
package ridelog

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lowaak/bike-bridge/internal/telemetry"
)

var header = []string{"timestamp", "power_watts", "cadence_rpm", "speed_kmh", "incline_percent", "resistance_level"}

// Writer appends one CSV row per snapshot. Each Writer owns one ride
// file named after its session ID.
type Writer struct {
	mu        sync.Mutex
	file      *os.File
	csv       *csv.Writer
	sessionID string
	logger    *log.Logger
	closed    bool
}

// NewWriter creates the ride file under dir and writes the header row.
func NewWriter(logger *log.Logger, dir string) (*Writer, error) {
	if logger == nil {
		panic("ridelog: logger cannot be nil")
	}

	sessionID := uuid.NewString()
	name := fmt.Sprintf("ride-%s-%s.csv", time.Now().Format("20060102-150405"), sessionID[:8])
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create ride log %s: %w", path, err)
	}

	w := &Writer{
		file:      f,
		csv:       csv.NewWriter(f),
		sessionID: sessionID,
		logger:    logger,
	}
	if err := w.csv.Write(header); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write ride log header: %w", err)
	}
	w.csv.Flush()

	logger.Printf("RideLog: session %s recording to %s", sessionID, path)
	return w, nil
}

func (w *Writer) SessionID() string {
	return w.sessionID
}

// Record appends one row. Rows are flushed immediately so a crash loses
// at most the row in flight.
func (w *Writer) Record(snap telemetry.Snapshot) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("ride log is closed")
	}

	row := []string{
		snap.Timestamp.Format(time.RFC3339),
		strconv.Itoa(int(snap.PowerWatts)),
		strconv.Itoa(int(snap.CadenceRpm)),
		strconv.FormatFloat(float64(snap.SpeedKmh), 'f', 1, 32),
		strconv.FormatFloat(float64(snap.InclinePercent), 'f', 1, 32),
		strconv.Itoa(int(snap.ResistanceLevel)),
	}
	if err := w.csv.Write(row); err != nil {
		return fmt.Errorf("failed to write ride log row: %w", err)
	}
	w.csv.Flush()
	return w.csv.Error()
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

package audit

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "time/tzdata"

	"github.com/goodsign/monday"
)

var workbookHeader = []string{"pseudo", "date", "heure", "ip"}

const (
	workbookDateLayout = "02/01/2006"
	workbookTimeLayout = "15:04:05"
)

// Workbook appends logins to a flat CSV file with French date and time columns.
type Workbook struct {
	mu   sync.Mutex
	path string
	loc  *time.Location
}

// NewWorkbook opens the workbook at path. tz names the zone used for the date and
// time columns; empty means UTC.
func NewWorkbook(path, tz string) (*Workbook, error) {
	if path == "" {
		return nil, errors.New("audit: workbook path is required")
	}
	loc := time.UTC
	if tz != "" {
		var err error
		if loc, err = time.LoadLocation(tz); err != nil {
			return nil, fmt.Errorf("load workbook timezone %q: %w", tz, err)
		}
	}
	return &Workbook{path: path, loc: loc}, nil
}

// Path returns the workbook file location.
func (w *Workbook) Path() string { return w.path }

// Append writes one row, creating the file and its header on first use.
func (w *Workbook) Append(pseudo, ip string, at time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return fmt.Errorf("create workbook dir: %w", err)
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat workbook: %w", err)
	}
	// An empty file, new or left by a failed first write, still needs its header.
	fresh := fi.Size() == 0

	if ip == "" {
		ip = UnknownIP
	}
	local := at.In(w.loc)
	writer := csv.NewWriter(f)
	if fresh {
		if err := writer.Write(workbookHeader); err != nil {
			return err
		}
	}
	if err := writer.Write([]string{
		pseudo,
		monday.Format(local, workbookDateLayout, monday.LocaleFrFR),
		monday.Format(local, workbookTimeLayout, monday.LocaleFrFR),
		ip,
	}); err != nil {
		return err
	}
	writer.Flush()
	return writer.Error()
}

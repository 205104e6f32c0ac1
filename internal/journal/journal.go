package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/rameshiyer27/bastion/internal/worker"
)

const sheetName = "Executions"

var headers = []string{
	"Timestamp", "Job ID", "Strategy", "Symbol", "Side",
	"Requested Qty", "Filled Qty", "Avg Price", "Slices",
	"Status", "Failure Reason",
}

// Journal writes every terminal job to an Excel workbook so the desk
// has a reviewable record of what the core did and why. Writes are
// buffered in memory and flushed on demand or on Close.
type Journal struct {
	mu       sync.Mutex
	file     *excelize.File
	path     string
	nextRow  int
	dirty    bool
}

// New opens or creates the audit journal workbook
func New(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("executions_%s.xlsx", time.Now().Format("2006-01-02")))

	j := &Journal{path: path}
	if _, err := os.Stat(path); err == nil {
		f, err := excelize.OpenFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open journal workbook: %w", err)
		}
		j.file = f
		rows, err := f.GetRows(sheetName)
		if err != nil {
			return nil, fmt.Errorf("failed to read journal sheet: %w", err)
		}
		j.nextRow = len(rows) + 1
		return j, nil
	}

	f := excelize.NewFile()
	idx, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to create journal sheet: %w", err)
	}
	f.SetActiveSheet(idx)
	f.DeleteSheet("Sheet1")

	for col, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		f.SetCellValue(sheetName, cell, header)
	}

	j.file = f
	j.nextRow = 2
	j.dirty = true
	return j, nil
}

// Record appends one terminal job to the workbook
func (j *Journal) Record(job worker.ExecutionJob) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	values := []interface{}{
		job.EndedAt.Format(time.RFC3339),
		job.JobID,
		job.Intent.StrategyName,
		job.Intent.Symbol,
		string(job.Intent.Side),
		job.Sizing.FinalQuantity,
		job.FilledQuantity(),
		job.AverageFillPrice(),
		len(job.Slices),
		string(job.Status),
		job.FailureReason,
	}

	for col, value := range values {
		cell, err := excelize.CoordinatesToCellName(col+1, j.nextRow)
		if err != nil {
			return fmt.Errorf("failed to address journal cell: %w", err)
		}
		if err := j.file.SetCellValue(sheetName, cell, value); err != nil {
			return fmt.Errorf("failed to write journal cell: %w", err)
		}
	}

	j.nextRow++
	j.dirty = true
	return nil
}

// Flush writes buffered rows to disk
func (j *Journal) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.dirty {
		return nil
	}
	if err := j.file.SaveAs(j.path); err != nil {
		return fmt.Errorf("failed to save journal workbook: %w", err)
	}
	j.dirty = false
	return nil
}

// Path returns the workbook location
func (j *Journal) Path() string {
	return j.path
}

// Close flushes and releases the workbook
func (j *Journal) Close() error {
	if err := j.Flush(); err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}

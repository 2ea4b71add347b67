// Package batch runs one pipeline operation over many documents with a
// bounded worker pool.
package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/gmsas95/paperflow/internal/errors"
)

// Func is the operation applied to each document
type Func func(ctx context.Context, documentID string) error

// Processor fans documents out to workers
type Processor struct {
	config Config
	logger *zap.Logger
}

type Config struct {
	MaxConcurrency int
	Timeout        time.Duration
	RetryCount     int
	RetryDelay     time.Duration
}

type OutputItem struct {
	ID        string        `json:"id"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Attempts  int           `json:"attempts"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

type Result struct {
	Total     int           `json:"total"`
	Success   int           `json:"success"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
	Items     []OutputItem  `json:"items"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 2,
		Timeout:        5 * time.Minute,
		RetryCount:     1,
		RetryDelay:     2 * time.Second,
	}
}

func NewProcessor(cfg Config, logger *zap.Logger) *Processor {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Processor{config: cfg, logger: logger}
}

// Run applies fn to every id. Items come back in input order.
func (p *Processor) Run(ctx context.Context, ids []string, fn Func) *Result {
	result := &Result{
		Total:     len(ids),
		StartTime: time.Now(),
		Items:     make([]OutputItem, 0, len(ids)),
	}

	type job struct {
		index int
		id    string
	}
	type done struct {
		index int
		item  OutputItem
	}

	jobs := make(chan job, len(ids))
	results := make(chan done, len(ids))

	var wg sync.WaitGroup
	for i := 0; i < p.config.MaxConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				results <- done{index: j.index, item: p.processItem(ctx, j.id, fn)}
			}
		}()
	}

	for i, id := range ids {
		jobs <- job{index: i, id: id}
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	collected := make([]done, 0, len(ids))
	for d := range results {
		collected = append(collected, d)
		if d.item.Success {
			result.Success++
		} else {
			result.Failed++
		}
	}
	sort.Slice(collected, func(i, j int) bool { return collected[i].index < collected[j].index })
	for _, d := range collected {
		result.Items = append(result.Items, d.item)
	}

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	p.logger.Info("Batch finished",
		zap.Int("total", result.Total),
		zap.Int("success", result.Success),
		zap.Int("failed", result.Failed),
		zap.Duration("duration", result.Duration))
	return result
}

func (p *Processor) processItem(ctx context.Context, id string, fn Func) OutputItem {
	output := OutputItem{ID: id, Timestamp: time.Now()}
	start := time.Now()

	var err error
	for attempt := 0; attempt <= p.config.RetryCount; attempt++ {
		if ctx.Err() != nil {
			err = ctx.Err()
			break
		}
		output.Attempts++

		itemCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
		err = fn(itemCtx, id)
		cancel()

		if err == nil || permanent(err) {
			break
		}
		if attempt < p.config.RetryCount {
			p.logger.Debug("Retrying document", zap.String("document_id", id), zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(p.config.RetryDelay):
			}
		}
	}
	output.Duration = time.Since(start)

	if err != nil {
		output.Error = err.Error()
		p.logger.Warn("Document failed in batch", zap.String("document_id", id), zap.Error(err))
		return output
	}
	output.Success = true
	return output
}

// permanent errors come from the document state, not from a backend, and
// retrying cannot fix them
func permanent(err error) bool {
	return errors.Is(err, apperrors.ErrInvalidTransition) ||
		errors.Is(err, apperrors.ErrDocumentNotFound) ||
		errors.Is(err, apperrors.ErrConfigInvalid)
}

// SaveReport writes the result as JSON for .json paths and as text otherwise
func SaveReport(path string, result *Result) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	if strings.EqualFold(filepath.Ext(path), ".json") {
		encoder := json.NewEncoder(file)
		encoder.SetIndent("", "  ")
		return encoder.Encode(result)
	}

	for _, item := range result.Items {
		fmt.Fprintf(file, "=== %s ===\n", item.ID)
		if item.Success {
			fmt.Fprintln(file, "Status: ok")
		} else {
			fmt.Fprintf(file, "Error: %s\n", item.Error)
		}
		fmt.Fprintf(file, "Attempts: %d | Time: %v\n\n", item.Attempts, item.Duration)
	}
	return nil
}

func (r *Result) Summary() string {
	var sb strings.Builder
	sb.WriteString("=== Batch Summary ===\n")
	sb.WriteString(fmt.Sprintf("Total:     %d\n", r.Total))
	sb.WriteString(fmt.Sprintf("Success:   %d\n", r.Success))
	sb.WriteString(fmt.Sprintf("Failed:    %d\n", r.Failed))
	sb.WriteString(fmt.Sprintf("Duration:  %v\n", r.Duration.Round(time.Millisecond)))
	return sb.String()
}

func (r *Result) ToJSON() (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Package usage meters reasoning-backend token consumption. Every backend
// call appends one record to a line-delimited JSON ledger; cost reporting
// is an offline aggregation over that file.
package usage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
	"unicode/utf8"
)

const queryPreviewLen = 100

// Record is one metered backend invocation. Immutable once written.
type Record struct {
	Timestamp    time.Time `json:"timestamp"`
	Model        string    `json:"model_id"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	TotalTokens  int       `json:"total_tokens"`
	CostUSD      float64   `json:"estimated_cost_usd"`
	QueryPreview string    `json:"query_preview,omitempty"`
	SessionID    string    `json:"session_id,omitempty"`
}

// WriteError marks a ledger append failure. Callers log it and move on;
// usage tracking must never abort a user-facing query.
type WriteError struct {
	Err error
}

func (e *WriteError) Error() string { return fmt.Sprintf("ledger write: %v", e.Err) }
func (e *WriteError) Unwrap() error { return e.Err }

// Ledger is the append-only usage log. Appends are serialized under one
// mutex so concurrent sessions never interleave within a record.
type Ledger struct {
	mu     sync.Mutex
	file   *os.File
	prices PriceTable
	logger *slog.Logger
}

// Open opens (or creates) a ledger file for appending.
func Open(path string, prices PriceTable, logger *slog.Logger) (*Ledger, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if prices == nil {
		prices = DefaultPrices()
	}
	return &Ledger{
		file:   file,
		prices: prices,
		logger: logger.With("component", "ledger"),
	}, nil
}

// Record prices and appends one usage entry. The returned Record is complete
// even when the append fails, so callers can still surface per-turn cost.
func (l *Ledger) Record(model string, inputTokens, outputTokens int, query, sessionID string) (Record, error) {
	query = truncatePreview(query)

	rec := Record{
		Timestamp:    time.Now().UTC(),
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		TotalTokens:  inputTokens + outputTokens,
		CostUSD:      l.prices.Cost(model, inputTokens, outputTokens),
		QueryPreview: query,
		SessionID:    sessionID,
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return rec, &WriteError{Err: err}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return rec, &WriteError{Err: err}
	}
	return rec, nil
}

// truncatePreview caps the query preview, backing up to a rune boundary so
// a multi-byte character is never split mid-sequence.
func truncatePreview(query string) string {
	if len(query) <= queryPreviewLen {
		return query
	}
	cut := queryPreviewLen
	for cut > 0 && !utf8.RuneStart(query[cut]) {
		cut--
	}
	return query[:cut]
}

// Prices exposes the ledger's price table so callers can price a usage
// delta without writing a record.
func (l *Ledger) Prices() PriceTable { return l.prices }

// Close releases the ledger file.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// Read parses a ledger file record-by-record. Corrupt lines are skipped
// (each record is independently parseable); a missing file is an empty
// ledger, not an error.
func Read(path string) ([]Record, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer file.Close()

	var records []Record
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return records, fmt.Errorf("scan ledger: %w", err)
	}
	return records, nil
}

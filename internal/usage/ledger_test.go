package usage

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRecordAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.jsonl")
	ledger, err := Open(path, DefaultPrices(), testLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer ledger.Close()

	rec, err := ledger.Record("gpt-4o-mini", 1000, 500, "What courses am I taking?", "sess-1")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if rec.TotalTokens != 1500 {
		t.Errorf("expected 1500 total tokens, got %d", rec.TotalTokens)
	}
	// 1000/1000*0.00015 + 500/1000*0.0006 = 0.00045
	if rec.CostUSD != 0.00045 {
		t.Errorf("expected cost 0.00045, got %v", rec.CostUSD)
	}

	records, err := Read(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].Model != "gpt-4o-mini" || records[0].SessionID != "sess-1" {
		t.Errorf("round-tripped record mismatch: %+v", records[0])
	}
}

func TestQueryPreviewTruncated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.jsonl")
	ledger, err := Open(path, nil, testLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer ledger.Close()

	long := strings.Repeat("q", 500)
	rec, err := ledger.Record("m", 1, 1, long, "")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(rec.QueryPreview) != 100 {
		t.Errorf("expected 100-char preview, got %d", len(rec.QueryPreview))
	}

	// Truncation must not split a multi-byte rune.
	wide, err := ledger.Record("m", 1, 1, strings.Repeat("日", 100), "")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if !utf8.ValidString(wide.QueryPreview) {
		t.Errorf("preview is not valid UTF-8: %q", wide.QueryPreview)
	}
	if len(wide.QueryPreview) == 0 || len(wide.QueryPreview) > 100 {
		t.Errorf("preview length out of range: %d", len(wide.QueryPreview))
	}
}

func TestConcurrentAppendsNoTornRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.jsonl")
	ledger, err := Open(path, nil, testLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer ledger.Close()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ledger.Record("m", 10, 10, "concurrent", ""); err != nil {
				t.Errorf("record: %v", err)
			}
		}()
	}
	wg.Wait()

	records, err := Read(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(records) != n {
		t.Fatalf("expected %d intact records, got %d", n, len(records))
	}
	for _, rec := range records {
		if rec.TotalTokens != 20 {
			t.Errorf("torn record: %+v", rec)
		}
	}
}

func TestReadMissingFile(t *testing.T) {
	records, err := Read(filepath.Join(t.TempDir(), "absent.jsonl"))
	if err != nil {
		t.Fatalf("missing ledger should read as empty, got %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected no records, got %d", len(records))
	}
}

func TestReadSkipsCorruptLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.jsonl")
	content := `{"model_id":"m","input_tokens":5,"output_tokens":5,"total_tokens":10}
not json at all
{"model_id":"m","input_tokens":1,"output_tokens":1,"total_tokens":2}
`
	if err := os.WriteFile(path, []byte(content), 0640); err != nil {
		t.Fatalf("write: %v", err)
	}

	records, err := Read(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected corrupt line skipped, got %d records", len(records))
	}
}

package intentlog

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"intent-guard/internal/types"
)

// Record is one appended journal row: an intent creation or a status update.
// Intent is carried in full on creation rows so the log alone can rebuild
// the latest-known-status-per-intent view.
type Record struct {
	Time      string                 `json:"ts"`
	IntentID  string                 `json:"intent_id"`
	Status    string                 `json:"status"`
	Reason    string                 `json:"reason,omitempty"`
	Intent    *types.Intent          `json:"intent,omitempty"`
	Execution *types.ExecutionResult `json:"execution,omitempty"`
}

// Log is an append-only JSONL journal split into daily files.
type Log struct {
	mu  sync.Mutex
	dir string
}

func New(dir string) *Log {
	if dir == "" {
		if v := os.Getenv("GUARD_LOG_DIR"); v != "" {
			dir = v
		} else {
			dir = "logs"
		}
	}
	return &Log{dir: dir}
}

func (l *Log) dailyFilepath(t time.Time) string {
	d := t.In(time.FixedZone("IST", 19800)).Format("2006-01-02")
	return filepath.Join(l.dir, "intents", d+".txt")
}

// Append writes one record to today's file. The timestamp is set here.
func (l *Log) Append(r Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now().In(time.FixedZone("IST", 19800))
	r.Time = now.Format("2006-01-02 15:04:05")
	p := l.dailyFilepath(now)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	b, _ := json.Marshal(r)
	_, err = fmt.Fprintln(f, string(b))
	return err
}

// ReadAll returns every record in the journal, oldest file first, preserving
// append order within each file. Compressed (.gz) files are read too.
func (l *Log) ReadAll() ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	root := filepath.Join(l.dir, "intents")
	var paths []string
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(p, ".txt") || strings.HasSuffix(p, ".txt.gz") {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	var out []Record
	for _, p := range paths {
		recs, err := readFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		out = append(out, recs...)
	}
	return out, nil
}

// LatestByIntent folds the journal forward into one row per intent id,
// latest status wins. Creation rows contribute the intent payload; later
// status rows keep it.
func (l *Log) LatestByIntent() (map[string]Record, error) {
	records, err := l.ReadAll()
	if err != nil {
		return nil, err
	}
	latest := make(map[string]Record, len(records))
	for _, r := range records {
		if r.IntentID == "" {
			continue
		}
		prev, ok := latest[r.IntentID]
		if ok && r.Intent == nil {
			r.Intent = prev.Intent
		}
		if ok && r.Execution == nil {
			r.Execution = prev.Execution
		}
		latest[r.IntentID] = r
	}
	return latest, nil
}

func readFile(p string) ([]Record, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var reader io.Reader = f
	if strings.HasSuffix(p, ".gz") {
		gr, err := gzip.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer gr.Close()
		reader = gr
	}

	var out []Record
	sc := bufio.NewScanner(reader)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var r Record
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			// A torn trailing line must not poison the whole journal.
			continue
		}
		out = append(out, r)
	}
	return out, sc.Err()
}

// CompressOlder gzips journal files whose mtime is older than retentionDays.
func (l *Log) CompressOlder(retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	root := filepath.Join(l.dir, "intents")
	return filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if filepath.Ext(p) != ".txt" {
			return nil
		}
		info, er := os.Stat(p)
		if er != nil {
			return nil
		}
		cutoff := time.Now().AddDate(0, 0, -retentionDays)
		if info.ModTime().Before(cutoff) {
			gz := p + ".gz"
			// if already gz exists, remove original .txt
			if _, e2 := os.Stat(gz); e2 == nil {
				_ = os.Remove(p)
				return nil
			}

			in, e3 := os.Open(p)
			if e3 != nil {
				return nil
			}
			defer in.Close()

			out, e4 := os.OpenFile(gz, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
			if e4 != nil {
				return nil
			}
			gw := gzip.NewWriter(out)
			if _, e5 := io.Copy(gw, in); e5 == nil {
				_ = gw.Close()
				_ = out.Close()
				_ = os.Remove(p)
			} else {
				_ = gw.Close()
				_ = out.Close()
			}
		}
		return nil
	})
}

// Package journal appends committed transactions to hourly zstd compressed
// JSONL files.
package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"linkplan.ai/internal/remote"
)

const prefix = "tx"

type TxJournal struct {
	baseDir string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func New(baseDir string) *TxJournal {
	return &TxJournal{baseDir: baseDir, now: time.Now}
}

func (j *TxJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.closeLocked()
}

// RecordTx appends rec to the file for the current UTC hour.
func (j *TxJournal) RecordTx(rec remote.TxRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	hour := j.now().UTC().Format("2006-01-02-15")
	if hour != j.curHour || j.w == nil {
		if err := j.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := j.w.Write(b); err != nil {
		return err
	}
	if err := j.w.WriteByte('\n'); err != nil {
		return err
	}
	if err := j.w.Flush(); err != nil {
		return err
	}
	return j.enc.Flush()
}

func (j *TxJournal) rotateLocked(hour string) error {
	if err := j.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(j.baseDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(j.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	j.f = f
	j.enc = enc
	j.w = bufio.NewWriterSize(enc, 64*1024)
	j.curHour = hour
	return nil
}

func (j *TxJournal) closeLocked() error {
	var err1 error
	if j.w != nil {
		_ = j.w.Flush()
	}
	if j.enc != nil {
		err1 = j.enc.Close()
		j.enc = nil
	}
	if j.f != nil {
		_ = j.f.Close()
		j.f = nil
	}
	j.w = nil
	j.curHour = ""
	return err1
}

func (j *TxJournal) pathForHour(hour string) string {
	return filepath.Join(j.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", prefix, hour))
}

// Files lists the journal files under dir, oldest first.
func Files(dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, prefix+"-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

// ReadFile decodes every record in one journal file. A truncated final frame
// is tolerated: the records decoded before it are returned.
func ReadFile(path string) ([]remote.TxRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []remote.TxRecord
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec remote.TxRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return out, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return out, err
	}
	return out, nil
}

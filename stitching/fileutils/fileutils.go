package fileutils

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// ReadCSV reads a comma-separated file with a header row. Header names are trimmed;
// ColumnIndex matches them case-insensitively.
func ReadCSV(path string) ([]string, [][]string, error) {
	if path == "" {
		return nil, nil, errors.New("ReadCSV: empty path")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	return DecodeCSV(f)
}

// DecodeCSV is ReadCSV over an arbitrary reader.
func DecodeCSV(r io.Reader) ([]string, [][]string, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = false

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, errors.New("csv has no header row")
		}
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	rows := make([][]string, 0, 256)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read row %d: %w", len(rows)+2, err)
		}
		rows = append(rows, rec)
	}
	return header, rows, nil
}

// ColumnIndex returns the position of each requested column, or an error naming the
// first one that is missing.
func ColumnIndex(header []string, names ...string) (map[string]int, error) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.ToLower(h)
		if _, ok := pos[h]; !ok {
			pos[h] = i
		}
	}
	out := make(map[string]int, len(names))
	for _, n := range names {
		i, ok := pos[strings.ToLower(n)]
		if !ok {
			return nil, fmt.Errorf("missing column %q (have %s)", n, strings.Join(header, ","))
		}
		out[n] = i
	}
	return out, nil
}

// HasColumns reports whether every name appears in header.
func HasColumns(header []string, names ...string) bool {
	_, err := ColumnIndex(header, names...)
	return err == nil
}

// WriteCSVFileAtomic writes header and rows as a comma-separated table without an
// index column. The destination is only replaced once the whole table is on disk.
func WriteCSVFileAtomic(path string, header []string, rows [][]string) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("encode rows: %w", err)
	}
	if err := WriteFileAtomicSameDir(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}

func WriteJSONFileAtomic(path string, v any, pretty bool) error {
	var b []byte
	var err error
	if pretty {
		b, err = json.MarshalIndent(v, "", "  ")
	} else {
		b, err = json.Marshal(v)
	}
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	b = append(b, '\n')
	if err := WriteFileAtomicSameDir(path, b, 0o644); err != nil {
		return fmt.Errorf("write json: %w", err)
	}
	return nil
}

// WriteFileAtomicSameDir writes data to a temp file next to path and renames it into
// place. On any failure the temp file is removed and path is left untouched.
func WriteFileAtomicSameDir(path string, data []byte, mode fs.FileMode) error {
	if path == "" {
		return errors.New("WriteFileAtomicSameDir: empty path")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tmp_"+filepath.Base(path)+"_*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if err := tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		return err
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

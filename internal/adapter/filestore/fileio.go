package filestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
)

var nanValue = math.NaN()

// writeFile writes name through a temp file in the same directory and renames
// it into place, so readers never see a partial file.
func (s *Store) writeFile(name string, fill func(*os.File) error) error {
	tmp, err := s.stage(name, fill)
	if err != nil {
		return err
	}
	return s.commit(tmp, name)
}

// writePair stages a data file and its JSON report, then renames the report
// followed by the data file. The data rename is the commit point: when it
// fails the previous report is put back, so the pair on disk never mixes
// generations.
func (s *Store) writePair(dataName string, fill func(*os.File) error, reportName string, report any) error {
	dataTmp, err := s.stage(dataName, fill)
	if err != nil {
		return fmt.Errorf("stage %s: %w", dataName, err)
	}
	body, err := marshalIndent(report)
	if err != nil {
		os.Remove(dataTmp)
		return fmt.Errorf("encode %s: %w", reportName, err)
	}
	reportTmp, err := s.stage(reportName, writeBytes(body))
	if err != nil {
		os.Remove(dataTmp)
		return fmt.Errorf("stage %s: %w", reportName, err)
	}

	prev, err := os.ReadFile(s.Path(reportName))
	hadPrev := err == nil
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		os.Remove(dataTmp)
		os.Remove(reportTmp)
		return fmt.Errorf("read %s: %w", reportName, err)
	}

	if err := s.commit(reportTmp, reportName); err != nil {
		os.Remove(dataTmp)
		return err
	}
	if err := s.commit(dataTmp, dataName); err != nil {
		if rerr := s.restore(reportName, prev, hadPrev); rerr != nil {
			return errors.Join(err, fmt.Errorf("restore %s: %w", reportName, rerr))
		}
		return err
	}
	return nil
}

// restore puts back the report that was replaced, or removes it when there
// was none.
func (s *Store) restore(name string, prev []byte, hadPrev bool) error {
	if !hadPrev {
		if err := os.Remove(s.Path(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	}
	return s.writeFile(name, writeBytes(prev))
}

func writeBytes(body []byte) func(*os.File) error {
	return func(f *os.File) error {
		_, err := f.Write(body)
		return err
	}
}

func (s *Store) stage(name string, fill func(*os.File) error) (string, error) {
	path := s.Path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return "", err
	}
	if err := fill(f); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func (s *Store) commit(tmp, name string) error {
	if err := os.Rename(tmp, s.Path(name)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}

func (s *Store) writeJSON(name string, v any) error {
	body, err := marshalIndent(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	return s.writeFile(name, writeBytes(body))
}

// readJSON decodes name into v. ok is false when the file does not exist.
func (s *Store) readJSON(name string, v any) (bool, error) {
	body, err := os.ReadFile(s.Path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", name, err)
	}
	return true, nil
}

func (s *Store) mustReadJSON(name string, v any) error {
	ok, err := s.readJSON(name, v)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", name, fs.ErrNotExist)
	}
	return nil
}

func marshalIndent(v any) ([]byte, error) {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(body, '\n'), nil
}

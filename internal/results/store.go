package results

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"dw2rc/internal/domain"
)

// Store reads and writes the per-language result files
type Store struct {
	langFolder string
}

// New returns a store scoped to one language folder
func New(langFolder string) *Store {
	return &Store{langFolder: langFolder}
}

// ResultsPath is the conversion result file for a resource type
func (s *Store) ResultsPath(t domain.ResourceType) string {
	return filepath.Join(s.langFolder, t.ResultsFile())
}

// UploadPath is the upload result file for a resource type
func (s *Store) UploadPath(t domain.ResourceType) string {
	return filepath.Join(s.langFolder, t.UploadFile())
}

// ReadConversion returns the last persisted conversion result, or nil when
// there is none.
func (s *Store) ReadConversion(t domain.ResourceType) (*domain.ConversionResult, error) {
	var m map[string]any
	found, err := readJSON(s.ResultsPath(t), &m)
	if err != nil || !found {
		return nil, err
	}
	return domain.ResultFromMap(t, m), nil
}

// ReadConversionMap returns the raw persisted record
func (s *Store) ReadConversionMap(t domain.ResourceType) (map[string]any, error) {
	var m map[string]any
	found, err := readJSON(s.ResultsPath(t), &m)
	if err != nil || !found {
		return nil, err
	}
	return m, nil
}

// WriteConversion overwrites the conversion result for its resource type
func (s *Store) WriteConversion(r *domain.ConversionResult) error {
	return writeJSON(s.ResultsPath(r.Type), r.ToMap())
}

// Invalidate deletes the conversion result for a resource type
func (s *Store) Invalidate(t domain.ResourceType) error {
	err := os.Remove(s.ResultsPath(t))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to invalidate %s: %w", t, err)
	}
	return nil
}

// LastSuccess reports whether the last conversion of a type succeeded
func (s *Store) LastSuccess(t domain.ResourceType) (bool, error) {
	r, err := s.ReadConversion(t)
	if err != nil || r == nil {
		return false, err
	}
	return r.Success, nil
}

// ReadUpload returns the last persisted upload result, or nil
func (s *Store) ReadUpload(t domain.ResourceType) (*domain.UploadResult, error) {
	var u domain.UploadResult
	found, err := readJSON(s.UploadPath(t), &u)
	if err != nil || !found {
		return nil, err
	}
	return &u, nil
}

// WriteUpload overwrites the upload result for a resource type
func (s *Store) WriteUpload(t domain.ResourceType, u *domain.UploadResult) error {
	return writeJSON(s.UploadPath(t), u)
}

func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return true, nil
}

// writeJSON replaces the file through a rename in the same folder
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

// WriteJSON is shared with the batch checkpoint
func WriteJSON(path string, v any) error {
	return writeJSON(path, v)
}

// ReadJSON is shared with the batch checkpoint
func ReadJSON(path string, v any) (bool, error) {
	return readJSON(path, v)
}

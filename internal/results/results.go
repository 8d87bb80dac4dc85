// Package results stores the ground truths and network outputs of a
// validation run so they can be plotted later.
package results

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/antonholmquist/jason"
	"github.com/google/uuid"

	"github.com/bubblelab/bubblenet/internal/errors"
	"github.com/bubblelab/bubblenet/internal/logger"
)

// TestResult is one saved validation run.
type TestResult struct {
	ID           string    `json:"id"`
	Prefix       string    `json:"prefix"`
	Epoch        int       `json:"epoch"`
	CreatedAt    time.Time `json:"created_at"`
	GroundTruths []float64 `json:"ground_truths"`
	Outputs      []float64 `json:"outputs"`
	// Events optionally names the events behind each value.
	Events []string `json:"events,omitempty"`
}

// GetLogger returns the results module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("results")
}

func validate(r *TestResult) error {
	if len(r.GroundTruths) != len(r.Outputs) {
		return errors.Newf("%d ground truths but %d outputs", len(r.GroundTruths), len(r.Outputs)).
			Component("results").
			Category(errors.CategoryValidation).
			Context("result_id", r.ID).
			Build()
	}
	if len(r.Events) > 0 && len(r.Events) != len(r.Outputs) {
		return errors.Newf("%d event names but %d outputs", len(r.Events), len(r.Outputs)).
			Component("results").
			Category(errors.CategoryValidation).
			Context("result_id", r.ID).
			Build()
	}
	return nil
}

// FileName returns <prefix>epoch<N>_<id>.json.
func (r *TestResult) FileName() string {
	return fmt.Sprintf("%sepoch%d_%s.json", r.Prefix, r.Epoch, r.ID)
}

// Save writes r into dir, assigning an id and timestamp when missing, and
// returns the file path.
func Save(dir string, r *TestResult) (string, error) {
	if err := validate(r); err != nil {
		return "", err
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.FileError(err, dir)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", errors.New(fmt.Errorf("encoding result: %w", err)).
			Component("results").
			Category(errors.CategoryGeneric).
			Build()
	}
	path := filepath.Join(dir, r.FileName())
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errors.FileError(err, path)
	}

	GetLogger().Debug("result saved",
		logger.String("path", path),
		logger.Int("epoch", r.Epoch),
		logger.Int("values", len(r.Outputs)))
	return path, nil
}

func parseErr(path string, err error) error {
	return errors.New(fmt.Errorf("reading result %s: %w", path, err)).
		Component("results").
		Category(errors.CategoryFileParsing).
		Context("file_path", path).
		Build()
}

// Load reads a result written by Save.
func Load(path string) (*TestResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.FileError(err, path)
	}
	defer f.Close()

	obj, err := jason.NewObjectFromReader(f)
	if err != nil {
		return nil, parseErr(path, err)
	}

	r := &TestResult{}
	if r.GroundTruths, err = obj.GetFloat64Array("ground_truths"); err != nil {
		return nil, parseErr(path, err)
	}
	if r.Outputs, err = obj.GetFloat64Array("outputs"); err != nil {
		return nil, parseErr(path, err)
	}
	// metadata is optional
	r.ID, _ = obj.GetString("id")
	r.Prefix, _ = obj.GetString("prefix")
	if epoch, err := obj.GetInt64("epoch"); err == nil {
		r.Epoch = int(epoch)
	}
	if created, err := obj.GetString("created_at"); err == nil {
		if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
			r.CreatedAt = t
		}
	}
	if names, err := obj.GetStringArray("events"); err == nil {
		r.Events = names
	}

	if err := validate(r); err != nil {
		return nil, err
	}
	return r, nil
}

// LoadAll loads every result in dir whose file name starts with prefix,
// in lexical order.
func LoadAll(dir, prefix string) ([]*TestResult, error) {
	paths, err := filepath.Glob(filepath.Join(dir, prefix+"epoch*_*.json"))
	if err != nil {
		return nil, errors.FileError(err, dir)
	}
	out := make([]*TestResult, 0, len(paths))
	for _, p := range paths {
		r, err := Load(p)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

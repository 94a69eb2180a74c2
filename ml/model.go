package ml

import (
	"os"
	"path/filepath"
)

type MLModel interface {
	Train(features [][]float64, labels []int) error
	// TrainClasses is Train with an explicit class count, for label sets
	// where some codes are absent from the training rows.
	TrainClasses(features [][]float64, labels []int, nClasses int) error
	Predict(features []float64) (int, float64, error)
	Save(path string) error
	Load(path string) error
}

// writeFileAtomic replaces path only once the full payload is on disk, so a
// failed write never leaves a truncated artifact behind.
func writeFileAtomic(path string, payload []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

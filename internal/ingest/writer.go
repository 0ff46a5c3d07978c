package ingest

import (
	"fmt"
	"os"
	"path/filepath"

	"WearSync/internal/capture"
	"WearSync/internal/model"
)

// Sink 落盘接口，每个 (参与者, 日期, 指标) 对应唯一路径
type Sink interface {
	Write(participantID string, pair model.Pair, body []byte) (string, error)
}

// FileSink 写入数据目录，临时文件 + rename 保证原子的创建或覆盖
type FileSink struct {
	dir string
}

func NewFileSink(dir string) *FileSink {
	return &FileSink{dir: dir}
}

func (s *FileSink) Dir() string {
	return s.dir
}

func (s *FileSink) Write(participantID string, pair model.Pair, body []byte) (string, error) {
	name, err := capture.Encode(participantID, pair.Date, pair.Metric)
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.dir, name)
	if err := writeFileAtomic(path, body, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// 临时文件以 "." 开头且扩展名不是 json，目录扫描不会把它当作已采集
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create dir %s: %w", dir, err)
	}

	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmpFile.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		cleanup()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		cleanup()
		return fmt.Errorf("failed to sync %s: %w", path, err)
	}
	if err := tmpFile.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		cleanup()
		return fmt.Errorf("failed to chmod %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("failed to rename into %s: %w", path, err)
	}
	return nil
}

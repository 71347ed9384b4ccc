package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// SnapshotFile 是配置的快速加载副本，进程启动时优先读取。
type SnapshotFile struct {
	fs   afero.Fs
	path string
}

// NewSnapshotFile 创建快照文件后端，fs 为 nil 时使用真实文件系统。
func NewSnapshotFile(fs afero.Fs, path string) *SnapshotFile {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &SnapshotFile{fs: fs, path: path}
}

// Path 返回快照文件路径。
func (f *SnapshotFile) Path() string {
	return f.path
}

// Load 解析快照文件，文件不存在时返回 ok=false。
func (f *SnapshotFile) Load() (Settings, bool, error) {
	raw, err := afero.ReadFile(f.fs, f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Settings{}, false, nil
		}
		return Settings{}, false, fmt.Errorf("read snapshot: %w", err)
	}
	var out Settings
	if err := yaml.Unmarshal(raw, &out); err != nil {
		return Settings{}, false, fmt.Errorf("decode snapshot %s: %w", f.path, err)
	}
	return out, true, nil
}

// Save 通过临时文件 + rename 原子地替换快照。
func (f *SnapshotFile) Save(s Settings) error {
	payload, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	dir := filepath.Dir(f.path)
	if err := f.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp, err := afero.TempFile(f.fs, dir, ".snapshot-*")
	if err != nil {
		return fmt.Errorf("create snapshot temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		f.fs.Remove(tmpName)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		f.fs.Remove(tmpName)
		return err
	}
	if err := f.fs.Rename(tmpName, f.path); err != nil {
		f.fs.Remove(tmpName)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

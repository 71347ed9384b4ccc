package cache

import (
	"fmt"

	"github.com/spf13/afero"
)

// DirReady 返回检查缓存根目录是否存在的函数，nil 表示目录可用。
func DirReady(fsys afero.Fs, root string) func() error {
	return func() error {
		info, err := fsys.Stat(root)
		if err != nil {
			return fmt.Errorf("stat %s: %w", root, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("%s is not a directory", root)
		}
		return nil
	}
}

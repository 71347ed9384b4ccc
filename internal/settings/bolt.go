package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketName = []byte("settings")

// BoltBackend 将站点配置以 JSON 形式持久化到 bbolt，每次操作独立打开数据库，
// 使 CLI 与常驻进程可以轮流访问同一个文件。
type BoltBackend struct {
	path    string
	timeout time.Duration
}

// NewBoltBackend 创建 bbolt 持久化后端，timeout 控制等待文件锁的最长时间。
func NewBoltBackend(path string, timeout time.Duration) *BoltBackend {
	if timeout <= 0 {
		timeout = time.Second
	}
	return &BoltBackend{path: path, timeout: timeout}
}

// Load 读取站点配置，记录不存在时返回 ok=false。
func (b *BoltBackend) Load(site string) (Settings, bool, error) {
	if _, err := os.Stat(b.path); os.IsNotExist(err) {
		return Settings{}, false, nil
	}
	db, err := b.open(true)
	if err != nil {
		return Settings{}, false, err
	}
	defer db.Close()

	var (
		out   Settings
		found bool
	)
	err = db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketName)
		if bucket == nil {
			return nil
		}
		raw := bucket.Get([]byte(site))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &out)
	})
	if err != nil {
		return Settings{}, false, fmt.Errorf("read settings %s: %w", site, err)
	}
	return out, found, nil
}

// Save 覆盖写入站点配置。
func (b *BoltBackend) Save(site string, s Settings) error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	db, err := b.open(false)
	if err != nil {
		return err
	}
	defer db.Close()

	return db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(bucketName)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(site), payload)
	})
}

func (b *BoltBackend) open(readOnly bool) (*bolt.DB, error) {
	db, err := bolt.Open(b.path, 0o600, &bolt.Options{Timeout: b.timeout, ReadOnly: readOnly})
	if err != nil {
		return nil, fmt.Errorf("open settings db %s: %w", b.path, err)
	}
	return db, nil
}

package cache

import (
	"context"
	"errors"
	"io"
	"time"
)

// 目录中的安全标记文件，以及统计时忽略的文件。
const (
	MarkerFile   = "index.php"
	htaccessFile = ".htaccess"
	gzipSuffix   = ".gz"
	tempPrefix   = ".cache-"
)

// Store 负责管理磁盘缓存的读写。磁盘布局遵循：
//
//	<StoragePath>/<host>/<path>/<filename>      # 正文
//	<StoragePath>/<host>/<path>/<filename>.gz   # 可选的 gzip 副本
//	<StoragePath>/<host>/<path>/index.php       # 空标记文件，防止目录列表
//
// 所有目录参数都是 cachekey.DirectoryFor 产出的相对路径，空串表示缓存根目录。
type Store interface {
	// Write 写入正文，opts.GzipBody 非空时额外写入 gzip 副本。写入通过临时文件 + rename
	// 保证原子性，允许覆盖同名条目。
	Write(ctx context.Context, locator Locator, body []byte, opts PutOptions) (*Entry, error)

	// Read 返回可流式读取的缓存条目；acceptGzip 为真且存在 .gz 副本时优先返回副本。
	// 条目不存在（包括读取途中被删除）时返回 ErrNotFound。
	Read(ctx context.Context, locator Locator, acceptGzip bool) (*ReadResult, error)

	// Delete 删除目录或文件。不存在视为成功；recursive 为假时只删除目录下的直接文件。
	Delete(ctx context.Context, dir string, recursive bool) error

	// SizeAndCount 统计目录下缓存文件的总字节数与文件数，结果按 TTL 缓存。
	SizeAndCount(ctx context.Context, dir string) (Usage, error)

	// InvalidateUsage 使缓存的统计结果失效。
	InvalidateUsage()

	// IsEmpty 判断目录是否只包含标记文件或为空；目录不存在时返回 false。
	IsEmpty(dir string) bool

	// PurgeExpired 删除目录树中修改时间早于 maxAge 的缓存文件。
	PurgeExpired(ctx context.Context, dir string, maxAge time.Duration) (int, error)
}

// PutOptions 控制写入过程中的可选属性。
type PutOptions struct {
	ModTime time.Time
	// GzipBody 是待压缩写入 .gz 副本的未压缩内容，nil 表示不写副本。
	GzipBody  []byte
	GzipLevel int
}

// Locator 唯一定位一个缓存条目：存储目录 + 文件名。
type Locator struct {
	Dir      string
	Filename string
}

// Entry 表示一个缓存条目的文件信息。
type Entry struct {
	Locator   Locator   `json:"locator"`
	FilePath  string    `json:"file_path"`
	SizeBytes int64     `json:"size_bytes"`
	ModTime   time.Time `json:"mod_time"`
	Gzip      bool      `json:"gzip"`
	GzipErr   error     `json:"-"`
}

// ReadResult 组合 Entry 与正文 Reader，便于代理层直接将 Body 流式返回。
type ReadResult struct {
	Entry  Entry
	Reader io.ReadSeekCloser
}

// Usage 是目录占用统计。
type Usage struct {
	Bytes      int64     `json:"bytes"`
	Files      int64     `json:"files"`
	ComputedAt time.Time `json:"computed_at"`
}

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")

// ErrPartialDelete 表示递归删除中至少有一个文件未能删除。
var ErrPartialDelete = errors.New("cache delete incomplete")

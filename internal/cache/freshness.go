package cache

import "time"

// Freshness 判断缓存条目是否仍在有效期内。
type Freshness struct {
	TTL time.Duration
	Now func() time.Time
}

// Fresh 当 now - modTime <= TTL 时返回 true。TTL<=0 表示永不过期。
func (f Freshness) Fresh(entry Entry) bool {
	if f.TTL <= 0 {
		return true
	}
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	return now().Sub(entry.ModTime) <= f.TTL
}

// Expired 是 Fresh 的取反。
func (f Freshness) Expired(entry Entry) bool {
	return !f.Fresh(entry)
}

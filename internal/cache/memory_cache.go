package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache 进程内缓存，单实例部署时保存来源URL到文件ID的映射
// 过期项由go-cache的后台协程按CleanupInterval清理
type MemoryCache struct {
	items      *gocache.Cache
	defaultTTL time.Duration
}

// NewMemoryCache 创建内存缓存，未设置的时间参数取DefaultConfig中的值
func NewMemoryCache(config Config) (Cache, error) {
	def := DefaultConfig()
	ttl := config.DefaultTTL
	if ttl <= 0 {
		ttl = def.DefaultTTL
	}
	interval := config.CleanupInterval
	if interval <= 0 {
		interval = def.CleanupInterval
	}

	return &MemoryCache{
		items:      gocache.New(ttl, interval),
		defaultTTL: ttl,
	}, nil
}

// Get 读取缓存项
func (m *MemoryCache) Get(key string) (string, bool, error) {
	value, ok := m.items.Get(key)
	if !ok {
		return "", false, nil
	}
	s, ok := value.(string)
	return s, ok, nil
}

// Set 写入缓存项，ttl不大于0时使用默认过期时间，与Redis实现保持一致
func (m *MemoryCache) Set(key string, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	m.items.Set(key, value, ttl)
	return nil
}

// Delete 删除缓存项
func (m *MemoryCache) Delete(key string) error {
	m.items.Delete(key)
	return nil
}

// Clear 清空缓存
func (m *MemoryCache) Clear() error {
	m.items.Flush()
	return nil
}

func init() {
	RegisterCache("memory", NewMemoryCache)
}

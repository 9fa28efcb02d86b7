package cache

import (
	"crypto/sha1"
	"encoding/hex"
	"time"
)

// Cache 缓存接口
type Cache interface {
	Get(key string) (value string, found bool, err error)
	Set(key string, value string, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// Factory 缓存工厂函数类型
type Factory func(config Config) (Cache, error)

// 注册的缓存实现
var registry = make(map[string]Factory)

// RegisterCache 注册缓存实现
func RegisterCache(name string, factory Factory) {
	registry[name] = factory
}

// NewCache 创建缓存实例
func NewCache(config Config) (Cache, error) {
	if factory, ok := registry[config.Type]; ok {
		return factory(config)
	}
	// 默认使用内存缓存
	return NewMemoryCache(config)
}

// Config 缓存配置
type Config struct {
	// 缓存类型: "memory", "redis" 等
	Type string
	// Redis连接地址 (仅Redis缓存使用)
	RedisAddr string
	// Redis密码 (仅Redis缓存使用)
	RedisPassword string
	// Redis数据库编号 (仅Redis缓存使用)
	RedisDB int
	// 默认缓存过期时间
	DefaultTTL time.Duration
	// 自动清理间隔时间 (仅内存缓存使用)
	CleanupInterval time.Duration
	// 键前缀 (仅Redis缓存使用)，Clear只删除带此前缀的键
	KeyPrefix string
}

// DefaultConfig 返回默认缓存配置
func DefaultConfig() Config {
	return Config{
		Type:            "memory",
		DefaultTTL:      time.Hour * 24,
		CleanupInterval: time.Minute * 10,
		KeyPrefix:       "pm:",
	}
}

// GenerateCacheKey 生成标准化的缓存键
// 可以基于不同参数生成一致的键
func GenerateCacheKey(prefix string, parts ...string) string {
	if len(parts) == 0 {
		return prefix
	}

	key := prefix
	for _, part := range parts {
		key += ":" + part
	}
	return key
}

// FileSourceKey 生成来源URL到文件ID映射的缓存键
// URL长度不受控，使用其SHA1摘要作为键的一部分
func FileSourceKey(sourceURL string) string {
	sum := sha1.Sum([]byte(sourceURL))
	return GenerateCacheKey("file", "source", hex.EncodeToString(sum[:]))
}

// LookupFileID 查询来源URL已登记的文件ID
func LookupFileID(c Cache, sourceURL string) (string, bool, error) {
	return c.Get(FileSourceKey(sourceURL))
}

// RememberFileID 缓存来源URL对应的文件ID
func RememberFileID(c Cache, sourceURL, fileID string, ttl time.Duration) error {
	return c.Set(FileSourceKey(sourceURL), fileID, ttl)
}

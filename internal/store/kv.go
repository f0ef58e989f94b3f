// Package store 本地持久化键值（排序、市场、主题、通知开关、已通知代码），读取时一律校验，不合法回退默认值。
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// KV 最小键值接口，值均为字符串。
type KV interface {
	Get(key string) (string, bool)
	Set(key, value string) error
}

// MemoryKV 进程内实现，测试与 NETNET_STATE_PATH 为空时使用。
type MemoryKV struct {
	mu sync.RWMutex
	m  map[string]string
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{m: make(map[string]string)}
}

func (k *MemoryKV) Get(key string) (string, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	v, ok := k.m[key]
	return v, ok
}

func (k *MemoryKV) Set(key, value string) error {
	k.mu.Lock()
	k.m[key] = value
	k.mu.Unlock()
	return nil
}

// FileKV 整体存为一个 JSON 对象，写入走临时文件 + rename。
type FileKV struct {
	path string
	mu   sync.Mutex
	m    map[string]string
}

// OpenFile 文件不存在视为空；内容损坏时丢弃旧内容从空开始。
func OpenFile(path string) (*FileKV, error) {
	k := &FileKV{path: path, m: make(map[string]string)}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return k, nil
		}
		return nil, fmt.Errorf("store: read %s: %w", path, err)
	}
	if err := json.Unmarshal(b, &k.m); err != nil || k.m == nil {
		k.m = make(map[string]string)
	}
	return k, nil
}

func (k *FileKV) Get(key string) (string, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	v, ok := k.m[key]
	return v, ok
}

func (k *FileKV) Set(key, value string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	prev, had := k.m[key]
	k.m[key] = value
	if err := k.flush(); err != nil {
		if had {
			k.m[key] = prev
		} else {
			delete(k.m, key)
		}
		return err
	}
	return nil
}

func (k *FileKV) flush() error {
	b, err := json.MarshalIndent(k.m, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal: %w", err)
	}
	if dir := filepath.Dir(k.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("store: mkdir: %w", err)
		}
	}
	tmp := k.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("store: write: %w", err)
	}
	if err := os.Rename(tmp, k.path); err != nil {
		return fmt.Errorf("store: rename: %w", err)
	}
	return nil
}

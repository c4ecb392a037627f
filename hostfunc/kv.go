package hostfunc

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/bytedance/sonic"
)

const (
	DefaultKVMaxKeySize   = 256
	DefaultKVMaxValueSize = 64 << 10
	DefaultKVMaxEntries   = 1000
)

// KVConfig bounds a KV store. Zero fields disable the corresponding limit.
type KVConfig struct {
	MaxKeySize   int
	MaxValueSize int
	MaxEntries   int
}

func DefaultKVConfig() KVConfig {
	return KVConfig{
		MaxKeySize:   DefaultKVMaxKeySize,
		MaxValueSize: DefaultKVMaxValueSize,
		MaxEntries:   DefaultKVMaxEntries,
	}
}

// KV is an in-memory store guest code reaches through kv_get, kv_set,
// kv_delete and kv_keys. Values are any JSON value.
type KV struct {
	cfg  KVConfig
	data map[string]any
	mu   sync.RWMutex
}

func NewKV(cfg KVConfig) *KV {
	return &KV{cfg: cfg, data: make(map[string]any)}
}

// Bind registers the store's functions on r.
func (s *KV) Bind(r *Registry) {
	r.Register("kv_get", s.Get)
	r.Register("kv_set", s.Set)
	r.Register("kv_delete", s.Delete)
	r.Register("kv_keys", s.Keys)
}

func (s *KV) key(args map[string]any) (string, error) {
	key, ok := args["key"].(string)
	if !ok || key == "" {
		return "", errors.New("key required")
	}
	if s.cfg.MaxKeySize > 0 && len(key) > s.cfg.MaxKeySize {
		return "", fmt.Errorf("key exceeds %d bytes", s.cfg.MaxKeySize)
	}
	return key, nil
}

func (s *KV) Get(ctx context.Context, args map[string]any) (any, error) {
	key, err := s.key(args)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	val, exists := s.data[key]
	s.mu.RUnlock()

	if !exists {
		return args["default"], nil
	}
	return val, nil
}

func (s *KV) Set(ctx context.Context, args map[string]any) (any, error) {
	key, err := s.key(args)
	if err != nil {
		return nil, err
	}
	val, ok := args["value"]
	if !ok {
		return nil, errors.New("value required")
	}
	if s.cfg.MaxValueSize > 0 {
		encoded, err := sonic.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("value not serializable: %w", err)
		}
		if len(encoded) > s.cfg.MaxValueSize {
			return nil, fmt.Errorf("value exceeds %d bytes", s.cfg.MaxValueSize)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[key]; !exists && s.cfg.MaxEntries > 0 && len(s.data) >= s.cfg.MaxEntries {
		return nil, fmt.Errorf("store full (%d entries)", s.cfg.MaxEntries)
	}
	s.data[key] = val

	return "ok", nil
}

func (s *KV) Delete(ctx context.Context, args map[string]any) (any, error) {
	key, err := s.key(args)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()

	return "ok", nil
}

func (s *KV) Keys(ctx context.Context, args map[string]any) (any, error) {
	s.mu.RLock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	sort.Strings(keys)
	return keys, nil
}

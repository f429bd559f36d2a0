package venue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/copytrade/mirror/pkg/decimal"
)

// ErrMetaUnavailable 元数据缺失或为兜底默认值
var ErrMetaUnavailable = errors.New("instrument metadata unavailable")

const defaultMetaTTL = 10 * time.Minute

// MetaSource 元数据来源
type MetaSource interface {
	GetInstrumentMeta(ctx context.Context, pair string) (*InstrumentMeta, error)
}

// MetaCache 交易对元数据读穿缓存。
// 命中兜底默认形状的元数据按缺失处理，绝不用它计算仓位。
type MetaCache struct {
	source MetaSource
	ttl    time.Duration

	mu    sync.RWMutex
	cache map[string]metaEntry
}

type metaEntry struct {
	meta      *InstrumentMeta
	expiresAt time.Time
}

// NewMetaCache 创建缓存
func NewMetaCache(source MetaSource, ttl time.Duration) *MetaCache {
	if ttl <= 0 {
		ttl = defaultMetaTTL
	}
	return &MetaCache{
		source: source,
		ttl:    ttl,
		cache:  make(map[string]metaEntry),
	}
}

// Get 获取交易对元数据
func (c *MetaCache) Get(ctx context.Context, pair string) (*InstrumentMeta, error) {
	pair = strings.TrimSpace(pair)
	if pair == "" {
		return nil, fmt.Errorf("pair required")
	}

	now := time.Now()
	c.mu.RLock()
	if entry, ok := c.cache[pair]; ok && now.Before(entry.expiresAt) {
		clone := *entry.meta
		c.mu.RUnlock()
		return &clone, nil
	}
	c.mu.RUnlock()

	meta, err := c.source.GetInstrumentMeta(ctx, pair)
	if err != nil {
		return nil, fmt.Errorf("fetch instrument meta %s: %w", pair, err)
	}
	if err := ValidateMeta(meta); err != nil {
		return nil, err
	}

	c.mu.Lock()
	clone := *meta
	c.cache[pair] = metaEntry{meta: &clone, expiresAt: now.Add(c.ttl)}
	c.mu.Unlock()

	return meta, nil
}

// Invalidate 失效某交易对的缓存
func (c *MetaCache) Invalidate(pair string) {
	c.mu.Lock()
	delete(c.cache, pair)
	c.mu.Unlock()
}

// ValidateMeta 校验元数据，识别兜底默认形状。
// stepSize ≥ 1 且 minQty = 1 且 maxLeverage ≤ 1 对应支持小数数量的
// 合约来说只能是服务端兜底值，按缺失处理。
func ValidateMeta(meta *InstrumentMeta) error {
	if meta == nil {
		return ErrMetaUnavailable
	}

	step, err := decimal.New(meta.StepSize)
	if err != nil || !step.IsPositive() {
		return fmt.Errorf("%w: bad step size %q", ErrMetaUnavailable, meta.StepSize)
	}
	minQty, err := decimal.New(meta.MinQty)
	if err != nil || !minQty.IsPositive() {
		return fmt.Errorf("%w: bad min qty %q", ErrMetaUnavailable, meta.MinQty)
	}
	if _, err := decimal.New(meta.MinNotional); err != nil {
		return fmt.Errorf("%w: bad min notional %q", ErrMetaUnavailable, meta.MinNotional)
	}

	one := decimal.FromInt(1)
	if step.Cmp(one) >= 0 && minQty.Equal(one) && meta.MaxLeverage <= 1 {
		return fmt.Errorf("%w: fallback-shaped metadata for %s", ErrMetaUnavailable, meta.Pair)
	}
	return nil
}

// CacheService — LRU-кэш записей файлов с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/svgconv/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cv_cache_hits_total",
		Help: "Общее количество попаданий в LRU-кэш записей.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cv_cache_misses_total",
		Help: "Общее количество промахов LRU-кэша записей.",
	})
)

// CacheService кэширует только записи в конечных статусах (converted, failed):
// конвейер их больше не изменяет, поэтому инвалидация не нужна.
// Кэш локален для процесса. Нулевой размер отключает кэш.
type CacheService struct {
	cache *expirable.LRU[string, *model.FileRecord]
}

// NewCacheService создаёт LRU-кэш с указанным максимальным размером и TTL.
// maxSize <= 0 — кэш отключён, Get всегда возвращает промах.
func NewCacheService(maxSize int, ttl time.Duration) *CacheService {
	if maxSize <= 0 {
		return &CacheService{}
	}
	return &CacheService{cache: expirable.NewLRU[string, *model.FileRecord](maxSize, nil, ttl)}
}

// Get возвращает копию записи по идентификатору.
func (c *CacheService) Get(orderNumber, lineNumber int) (*model.FileRecord, bool) {
	if c == nil || c.cache == nil {
		return nil, false
	}
	val, ok := c.cache.Get(cacheKey(orderNumber, lineNumber))
	if ok {
		cacheHitsTotal.Inc()
		cp := *val
		return &cp, true
	}
	cacheMissesTotal.Inc()
	return nil, false
}

// Set кэширует запись, если её статус конечный.
func (c *CacheService) Set(rec *model.FileRecord) {
	if c == nil || c.cache == nil || rec == nil || !rec.Status.IsTerminal() {
		return
	}
	cp := *rec
	c.cache.Add(cacheKey(rec.OrderNumber, rec.LineNumber), &cp)
}

// Len возвращает число записей в кэше.
func (c *CacheService) Len() int {
	if c == nil || c.cache == nil {
		return 0
	}
	return c.cache.Len()
}

func cacheKey(orderNumber, lineNumber int) string {
	return strconv.Itoa(orderNumber) + "/" + strconv.Itoa(lineNumber)
}

// Package metrics holds the Prometheus collectors exported on /-/metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheLookups 按站点与结果（hit/miss/stale/not_modified/bypass/disqualified）统计缓存查找。
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pressgate_cache_lookups_total",
			Help: "Total number of page cache lookups by outcome",
		},
		[]string{"site", "outcome"},
	)

	// CacheStores 按站点与结果（stored/skipped/failed）统计缓存写入。
	CacheStores = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pressgate_cache_stores_total",
			Help: "Total number of page cache capture decisions by outcome",
		},
		[]string{"site", "outcome"},
	)

	// CacheStoredBytes 统计写入的正文字节数。
	CacheStoredBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pressgate_cache_stored_bytes_total",
			Help: "Total number of body bytes written to the page cache",
		},
		[]string{"site"},
	)

	// Purges 按站点与触发器统计失效操作。
	Purges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pressgate_cache_purges_total",
			Help: "Total number of cache invalidations by trigger and result",
		},
		[]string{"site", "trigger", "result"},
	)

	// ExpiredFiles 统计定时任务删除的过期文件。
	ExpiredFiles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pressgate_cache_expired_files_total",
			Help: "Total number of expired cache files removed by the scheduled purge",
		},
		[]string{"site"},
	)

	// CacheBytes 是最近一次统计得到的缓存占用。
	CacheBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pressgate_cache_size_bytes",
			Help: "Page cache size in bytes as of the last status computation",
		},
		[]string{"site"},
	)

	// CacheFiles 是最近一次统计得到的缓存文件数。
	CacheFiles = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pressgate_cache_files",
			Help: "Number of page cache files as of the last status computation",
		},
		[]string{"site"},
	)

	// PreloadRequests 按结果统计预热请求。
	PreloadRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pressgate_preload_requests_total",
			Help: "Total number of preload requests by result",
		},
		[]string{"site", "result"},
	)
)

// ObserveLookup 记录一次缓存查找结果。
func ObserveLookup(site, outcome string) {
	CacheLookups.WithLabelValues(site, outcome).Inc()
}

// ObserveStore 记录一次捕获结果，stored 时同时累加字节数。
func ObserveStore(site, outcome string, bytes int) {
	CacheStores.WithLabelValues(site, outcome).Inc()
	if bytes > 0 {
		CacheStoredBytes.WithLabelValues(site).Add(float64(bytes))
	}
}

// ObservePurge 记录一次失效操作。
func ObservePurge(site, trigger string, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	Purges.WithLabelValues(site, trigger, result).Inc()
}

// ObserveUsage 更新缓存占用 gauge。
func ObserveUsage(site string, bytes, files int64) {
	CacheBytes.WithLabelValues(site).Set(float64(bytes))
	CacheFiles.WithLabelValues(site).Set(float64(files))
}

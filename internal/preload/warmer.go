// Package preload re-warms purged pages by requesting them through the proxy
// itself, so the normal capture path stores a fresh copy.
package preload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/pressgate/pressgate/internal/metrics"
)

// UserAgent 标识预热请求，便于在源站日志中区分。
const UserAgent = "Pressgate Preloader"

const defaultConcurrency = 2

// Options 控制 Warmer 的行为。
type Options struct {
	Client *http.Client
	// BaseURL 是代理自身的监听地址，例如 http://127.0.0.1:5000。
	BaseURL     string
	Concurrency int
	Logger      *logrus.Logger
}

type job struct {
	site string
	url  string
}

// Warmer 维护去重的待预热队列，并以有限并发回放请求。
type Warmer struct {
	client      *http.Client
	base        *url.URL
	concurrency int
	logger      *logrus.Logger

	mu      sync.Mutex
	pending []job
	queued  map[job]struct{}
	signal  chan struct{}
}

// New 创建 Warmer。
func New(opts Options) (*Warmer, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid preload base url %q", opts.BaseURL)
	}
	client := opts.Client
	if client == nil {
		client = http.DefaultClient
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Warmer{
		client:      client,
		base:        base,
		concurrency: concurrency,
		logger:      logger,
		queued:      make(map[job]struct{}),
		signal:      make(chan struct{}, 1),
	}, nil
}

// Enqueue 登记一个待预热 URL；已在队列中的 URL 会被忽略。
func (w *Warmer) Enqueue(site, rawURL string) {
	j := job{site: site, url: rawURL}
	w.mu.Lock()
	if _, ok := w.queued[j]; ok {
		w.mu.Unlock()
		return
	}
	w.queued[j] = struct{}{}
	w.pending = append(w.pending, j)
	w.mu.Unlock()

	select {
	case w.signal <- struct{}{}:
	default:
	}
}

// Pending 返回队列长度。
func (w *Warmer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Drain 取出当前队列并发执行预热，返回成功的数量。单个 URL 失败只记录日志。
func (w *Warmer) Drain(ctx context.Context) (int, error) {
	w.mu.Lock()
	batch := w.pending
	w.pending = nil
	for _, j := range batch {
		delete(w.queued, j)
	}
	w.mu.Unlock()

	if len(batch) == 0 {
		return 0, nil
	}

	var (
		mu     sync.Mutex
		warmed int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for _, j := range batch {
		g.Go(func() error {
			if err := w.warm(gctx, j); err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				metrics.PreloadRequests.WithLabelValues(j.site, "failed").Inc()
				w.logger.WithFields(logrus.Fields{
					"action": "preload",
					"site":   j.site,
					"url":    j.url,
				}).WithError(err).Warn("preload_failed")
				return nil
			}
			metrics.PreloadRequests.WithLabelValues(j.site, "ok").Inc()
			mu.Lock()
			warmed++
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	return warmed, err
}

// Run 在收到入队信号时执行 Drain，直到 ctx 结束。
func (w *Warmer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.signal:
			warmed, err := w.Drain(ctx)
			if err != nil && ctx.Err() != nil {
				return nil
			}
			if warmed > 0 {
				w.logger.WithFields(logrus.Fields{
					"action": "preload",
					"warmed": warmed,
				}).Debug("preload_batch_complete")
			}
		}
	}
}

func (w *Warmer) warm(ctx context.Context, j job) error {
	target, err := url.Parse(j.url)
	if err != nil || target.Host == "" {
		return fmt.Errorf("invalid url %q", j.url)
	}

	reqURL := *w.base
	reqURL.Path = target.Path
	reqURL.RawPath = target.RawPath
	reqURL.RawQuery = target.RawQuery

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return err
	}
	req.Host = target.Host
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "text/html")
	req.Header.Set("X-Forwarded-Proto", strings.ToLower(target.Scheme))

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

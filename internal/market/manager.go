package market

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Manager owns one Feed goroutine per venue and fans their callbacks out to
// a single pair of handlers, tagging each update with its source venue.
type Manager struct {
	logger *zap.Logger
	mu     sync.RWMutex
	feeds  map[string]*Feed
}

// NewManager creates an empty feed manager.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		logger: logger,
		feeds:  make(map[string]*Feed),
	}
}

// AddFeed registers a venue feed. Must be called before Run.
func (m *Manager) AddFeed(cfg FeedConfig, onTrade TradeHandler, onOHLCV OHLCVHandler) *Feed {
	f := NewFeed(m.logger, cfg)
	f.OnTrade(onTrade)
	f.OnOHLCV(onOHLCV)

	m.mu.Lock()
	m.feeds[cfg.Venue] = f
	m.mu.Unlock()

	return f
}

// Feed returns the registered feed for a venue, if any.
func (m *Manager) Feed(venue string) (*Feed, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.feeds[venue]
	return f, ok
}

// Run starts one goroutine per registered feed and blocks until ctx is
// cancelled and every feed goroutine has returned.
func (m *Manager) Run(ctx context.Context) {
	m.mu.RLock()
	feeds := make([]*Feed, 0, len(m.feeds))
	for _, f := range m.feeds {
		feeds = append(feeds, f)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, f := range feeds {
		wg.Add(1)
		go func(f *Feed) {
			defer wg.Done()
			if err := f.Run(ctx); err != nil && ctx.Err() == nil {
				m.logger.Error("venue feed exited", zap.Error(err))
			}
		}(f)
	}
	wg.Wait()
}

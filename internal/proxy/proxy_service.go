package proxy

import (
	"bufio"
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// ProxyListURL is the GitHub URL for the dynamic SOCKS5 proxy list
	ProxyListURL = "https://raw.githubusercontent.com/hookzof/socks5_list/master/proxy.txt"

	InitialFetchTimeout = 10 * time.Second
	UpdateInterval      = 30 * time.Minute
	FetchTimeout        = 15 * time.Second
)

// Service maintains a rotating SOCKS5 proxy list for exchanges that return
// 403 on direct connections. Once any connection succeeds through a proxy,
// that proxy is shared so other connections try it first.
type Service struct {
	logger     *logrus.Logger
	httpClient *http.Client

	mu         sync.RWMutex
	proxyList  []string
	lastUpdate time.Time

	workingProxy   string
	workingProxyMu sync.RWMutex
}

func NewService(logger *logrus.Logger) *Service {
	return &Service{
		logger:    logger,
		proxyList: []string{""}, // direct connection as fallback
		httpClient: &http.Client{
			Timeout: FetchTimeout,
			Transport: &http.Transport{
				MaxIdleConns:       10,
				IdleConnTimeout:    10 * time.Second,
				DisableCompression: true,
			},
		},
	}
}

// Start fetches the initial proxy list and begins periodic updates. A
// failed initial fetch is not fatal; direct connections still work.
func (p *Service) Start(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, InitialFetchTimeout)
	defer cancel()

	if err := p.fetchProxies(fetchCtx); err != nil {
		p.logger.WithError(err).Warn("Failed to fetch initial proxy list, using direct connection")
	}

	go p.periodicUpdate(ctx)
}

// GetProxyListWithWorkingFirst returns the proxy list with the known
// working proxy (when any) promoted to the front, after the direct entry.
func (p *Service) GetProxyListWithWorkingFirst() []string {
	p.workingProxyMu.RLock()
	working := p.workingProxy
	p.workingProxyMu.RUnlock()

	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]string, 0, len(p.proxyList)+1)
	out = append(out, "") // always try direct first
	if working != "" {
		out = append(out, working)
	}
	for _, proxy := range p.proxyList {
		if proxy != "" && proxy != working {
			out = append(out, proxy)
		}
	}
	return out
}

// SetWorkingProxy records a proxy that connected successfully
func (p *Service) SetWorkingProxy(proxy string) {
	if proxy == "" {
		return
	}
	p.workingProxyMu.Lock()
	p.workingProxy = proxy
	p.workingProxyMu.Unlock()
	p.logger.Debugf("Working proxy set: %s", proxy)
}

func (p *Service) periodicUpdate(ctx context.Context) {
	ticker := time.NewTicker(UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.fetchProxies(ctx); err != nil {
				p.logger.WithError(err).Warn("Proxy list update failed")
			}
		}
	}
}

func (p *Service) fetchProxies(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ProxyListURL, nil)
	if err != nil {
		return err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var proxies []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		proxies = append(proxies, "socks5://"+line)
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	p.proxyList = proxies
	p.lastUpdate = time.Now()
	p.mu.Unlock()

	p.logger.Infof("Fetched %d SOCKS5 proxies", len(proxies))
	return nil
}

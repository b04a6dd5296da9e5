package network

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"rtrader-bridge/src/helpers"
	"rtrader-bridge/src/interfaces"
	"rtrader-bridge/src/logger"
	"rtrader-bridge/src/models"
)

type HTTPNetworkManager struct {
	Config       *models.MConfig
	ProxyManager interfaces.IProxyManager
	Logger       *logger.Logger

	mu      sync.Mutex
	client  *http.Client
	backoff func(attempt int) time.Duration
}

// -----------------------------------------------------------------------------

func NewHTTPNetworkManager(cfg *models.MConfig, log *logger.Logger) *HTTPNetworkManager {
	nm := &HTTPNetworkManager{
		Config:       cfg,
		ProxyManager: helpers.NewProxyManager(cfg.Network.Proxies, cfg.Network.UserAgent, log),
		Logger:       log,
		backoff: func(attempt int) time.Duration {
			return time.Duration(attempt*attempt) * 100 * time.Millisecond
		},
	}
	nm.client = nm.createClient()
	return nm
}

// -----------------------------------------------------------------------------

func (nm *HTTPNetworkManager) createClient() *http.Client {
	transport := &http.Transport{}

	if nm.ProxyManager.HasProxies() {
		proxyStr, err := nm.ProxyManager.GetCurrentProxy()
		if err == nil && proxyStr != "" {
			proxyURL, err := url.Parse(proxyStr)
			if err == nil {
				transport.Proxy = http.ProxyURL(proxyURL)
			}
		}
	}

	timeout := time.Duration(nm.Config.Network.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

// -----------------------------------------------------------------------------

func (nm *HTTPNetworkManager) rotateProxy() {
	if !nm.ProxyManager.HasProxies() {
		return
	}

	nm.ProxyManager.RotateProxy()
	nm.mu.Lock()
	nm.client = nm.createClient()
	nm.mu.Unlock()
}

// -----------------------------------------------------------------------------

func (nm *HTTPNetworkManager) currentClient() *http.Client {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	return nm.client
}

// -----------------------------------------------------------------------------

// Get performs a GET request with retries and proxy rotation.
func (nm *HTTPNetworkManager) Get(ctx context.Context, urlStr string, params map[string]string) ([]byte, error) {
	reqURL, err := url.Parse(urlStr)
	if err != nil {
		return nil, helpers.NewValidationError(fmt.Sprintf("invalid url %q: %v", urlStr, err))
	}

	q := reqURL.Query()
	for k, v := range params {
		q.Add(k, v)
	}
	reqURL.RawQuery = q.Encode()
	finalURL := reqURL.String()

	maxRetries := nm.Config.Network.MaxRetries
	var lastErr error

	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(nm.backoff(i)):
			}
			nm.rotateProxy()
		}

		body, retry, err := nm.do(ctx, finalURL)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retry {
			break
		}
		nm.Logger.Info("Request failed (attempt %d/%d): %v", i+1, maxRetries+1, err)
	}

	return nil, helpers.NewNetworkError(fmt.Sprintf("GET %s", finalURL), lastErr)
}

// -----------------------------------------------------------------------------

func (nm *HTTPNetworkManager) do(ctx context.Context, finalURL string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, finalURL, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("User-Agent", nm.ProxyManager.GetUserAgent())

	resp, err := nm.currentClient().Do(req)
	if err != nil {
		return nil, ctx.Err() == nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusForbidden:
		return nil, true, fmt.Errorf("blocked (status %d)", resp.StatusCode)
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("bad status: %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, false, fmt.Errorf("bad status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, err
	}
	return body, false, nil
}

package network

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"kimchi-observer/src/helpers"
	"kimchi-observer/src/logger"
	"kimchi-observer/src/models"
)

const maxBodyBytes = 16 << 20

type AsyncNetworkManager struct {
	Config *models.MConfig
	Client *http.Client
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewAsyncNetworkManager(cfg *models.MConfig, log *logger.Logger) *AsyncNetworkManager {
	return &AsyncNetworkManager{
		Config: cfg,
		Logger: log,
		Client: &http.Client{
			Timeout: time.Duration(cfg.Network.RequestTimeout) * time.Second,
		},
	}
}

// -----------------------------------------------------------------------------

// Get performs a GET request with retries on transient failures. Rate limit
// responses return immediately so the caller can apply its penalty.
func (nm *AsyncNetworkManager) Get(ctx context.Context, urlStr string, params map[string]string) ([]byte, error) {
	reqURL, err := url.Parse(urlStr)
	if err != nil {
		return nil, helpers.NewConfigurationError(fmt.Sprintf("invalid url %q", urlStr), err)
	}

	q := reqURL.Query()
	for k, v := range params {
		q.Add(k, v)
	}
	reqURL.RawQuery = q.Encode()
	finalURL := reqURL.String()

	attempts := nm.Config.Network.MaxRetries + 1
	backoff := helpers.NewBackoff(500*time.Millisecond, 4*time.Second)

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 && !helpers.Sleep(ctx, backoff.Next()) {
			return nil, ctx.Err()
		}

		body, err := nm.do(ctx, finalURL)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if _, ok := helpers.IsRateLimit(err); ok {
			nm.Logger.Warning("Request rate limited: %s", finalURL)
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		nm.Logger.Info("Request failed (attempt %d/%d): %v", i+1, attempts, err)
	}

	return nil, lastErr
}

// -----------------------------------------------------------------------------

func (nm *AsyncNetworkManager) do(ctx context.Context, finalURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, finalURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", nm.Config.Network.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := nm.Client.Do(req)
	if err != nil {
		return nil, helpers.NewTransientNetworkError("GET "+finalURL, err)
	}
	defer resp.Body.Close()

	if err := helpers.ClassifyStatus("GET "+finalURL, resp.StatusCode, resp.Header); err != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, helpers.NewTransientNetworkError("read body "+finalURL, err)
	}
	return body, nil
}

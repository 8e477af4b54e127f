package eval

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"
)

var ErrSandbox = errors.New("sandbox request failed")

type Config struct {
	URL      string
	Timeout  time.Duration
	CacheTTL time.Duration // zero disables the result cache
}

func DefaultConfig() Config {
	return Config{
		URL:      "http://localhost:8060",
		Timeout:  10 * time.Second,
		CacheTTL: 30 * time.Second,
	}
}

type request struct {
	Input string `json:"input"`
}

type response struct {
	Stdout     string `json:"stdout"`
	ReturnCode int    `json:"returncode"`
}

// Client runs code in the remote sandbox. Identical code evaluated
// concurrently shares one sandbox call, and recent results are cached.
type Client struct {
	endpoint string
	http     *http.Client
	group    singleflight.Group
	cache    *ttlcache.Cache[string, string]
}

func New(cfg Config) *Client {
	c := &Client{
		endpoint: strings.TrimRight(cfg.URL, "/") + "/eval",
		http:     &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.CacheTTL > 0 {
		c.cache = ttlcache.New[string, string](
			ttlcache.WithTTL[string, string](cfg.CacheTTL),
			ttlcache.WithCapacity[string, string](1024),
			ttlcache.WithDisableTouchOnHit[string, string](),
		)
		go c.cache.Start()
	}
	return c
}

func (c *Client) Close() {
	if c.cache != nil {
		c.cache.Stop()
	}
}

// Evaluate returns the sandbox's stdout for code
func (c *Client) Evaluate(ctx context.Context, code string) (string, error) {
	key := cacheKey(code)
	if c.cache != nil {
		if item := c.cache.Get(key); item != nil {
			glog.V(2).Infof("[eval] cache hit %s", key[:12])
			return item.Value(), nil
		}
	}

	v, err, shared := c.group.Do(key, func() (interface{}, error) {
		return c.post(ctx, code)
	})
	if err != nil {
		return "", err
	}
	stdout := v.(string)
	if shared {
		glog.V(2).Infof("[eval] shared sandbox call %s", key[:12])
	}

	if c.cache != nil {
		c.cache.Set(key, stdout, ttlcache.DefaultTTL)
	}
	return stdout, nil
}

func (c *Client) post(ctx context.Context, code string) (string, error) {
	body, err := json.Marshal(request{Input: code})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSandbox, err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSandbox, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: status %d: %s", ErrSandbox, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrSandbox, err)
	}

	glog.V(2).Infof("[eval] sandbox returned %d in %v", out.ReturnCode, time.Since(start))
	return out.Stdout, nil
}

func cacheKey(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

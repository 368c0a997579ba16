package updater

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ipahub/ipahub/internal/coordinator"
)

// versionManifest 是站点源站发布的版本描述文件（/version.json）。
type versionManifest struct {
	Build string `json:"build"`
}

// Poller 周期性拉取源站的版本清单；发现新 BuildID 时只把它暂存到协调器，
// 切换仍然要等显式的激活信号。
type Poller struct {
	logger   *logrus.Logger
	client   *http.Client
	co       *coordinator.Coordinator
	url      string
	interval time.Duration

	mu   sync.Mutex
	stop chan struct{}
}

// New 构造更新轮询器。interval <= 0 时使用 30 分钟。
func New(logger *logrus.Logger, client *http.Client, co *coordinator.Coordinator, versionURL string, interval time.Duration) (*Poller, error) {
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if co == nil {
		return nil, errors.New("coordinator is required")
	}
	if strings.TrimSpace(versionURL) == "" {
		return nil, errors.New("version url is required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	return &Poller{
		logger:   logger,
		client:   client,
		co:       co,
		url:      versionURL,
		interval: interval,
	}, nil
}

// Start 启动轮询循环（先立即检查一次）。重复调用是空操作。
func (p *Poller) Start() {
	p.mu.Lock()
	if p.stop != nil {
		p.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	p.stop = stop
	p.mu.Unlock()

	go p.loop(stop)
}

// Stop 终止轮询循环，重复调用安全。
func (p *Poller) Stop() {
	p.mu.Lock()
	stop := p.stop
	p.stop = nil
	p.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}

func (p *Poller) loop(stop chan struct{}) {
	p.checkOnce()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.checkOnce()
		case <-stop:
			return
		}
	}
}

// checkOnce 拉取版本清单并暂存新版本。网络失败只记日志，下个周期重试。
func (p *Poller) checkOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	build, err := p.fetchBuild(ctx)
	if err != nil {
		p.logger.WithField("action", "update_check").Warn(err.Error())
		return
	}
	if build == "" || build == p.co.ActiveBuild() {
		return
	}

	p.co.StageUpdate(build)
	p.logger.WithFields(logrus.Fields{
		"action": "update_check",
		"build":  build,
	}).Info("发现新版本，等待激活信号")
}

func (p *Poller) fetchBuild(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return "", err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("version manifest returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	var manifest versionManifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return "", fmt.Errorf("decode version manifest: %w", err)
	}
	return strings.TrimSpace(manifest.Build), nil
}

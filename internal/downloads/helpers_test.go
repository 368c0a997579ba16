package downloads

import (
	"github.com/ipahub/ipahub/internal/broadcast"
	"github.com/ipahub/ipahub/internal/manifest"
)

// 测试辅助：绕过 Init 直接注入受试状态。

func (c *Counter) setAppsForTest(apps []manifest.App) {
	c.mu.Lock()
	c.apps = apps
	c.mu.Unlock()
}

func (c *Counter) seedForTest(counts Counts) {
	c.mu.Lock()
	if c.counts == nil {
		c.counts = make(Counts)
	}
	for key, value := range counts {
		c.counts[key] = value
	}
	c.mu.Unlock()
}

func (c *Counter) publishSnapshotForTest() {
	c.opts.Bus.Publish(broadcast.Message{
		Type:   broadcast.TypeCountsUpdate,
		Origin: c.origin,
		Counts: c.Counts(),
	})
}

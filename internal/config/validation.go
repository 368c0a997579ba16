package config

import (
	"errors"
	"net/url"
	"strings"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}

	gw := c.Gateway
	if err := validateOrigin("Gateway.SiteOrigin", gw.SiteOrigin, true); err != nil {
		return err
	}
	if err := validateOrigin("Gateway.StatsOrigin", gw.StatsOrigin, false); err != nil {
		return err
	}
	for _, host := range gw.ImageHosts {
		if strings.TrimSpace(host) == "" {
			return newFieldError("Gateway.ImageHosts", "不允许出现空主机名")
		}
		if strings.Contains(host, "/") {
			return newFieldError("Gateway.ImageHosts", "只接受主机名，不接受路径: "+host)
		}
	}
	if gw.ShellMaxEntries < 0 || gw.DataMaxEntries < 0 || gw.ImageMaxEntries < 0 {
		return newFieldError("Gateway.*MaxEntries", "不能为负数")
	}
	if gw.StatsTTL.DurationValue() <= 0 {
		return newFieldError("Gateway.StatsTTL", "必须大于 0")
	}
	if gw.ActivationLockWait.DurationValue() <= 0 {
		return newFieldError("Gateway.ActivationLockWait", "必须大于 0")
	}

	d := c.Downloads
	if d.Enabled {
		if err := validateOrigin("Downloads.APIBase", d.APIBase, true); err != nil {
			return err
		}
		if d.RequestTimeout.DurationValue() <= 0 {
			return newFieldError("Downloads.RequestTimeout", "必须大于 0")
		}
		if d.ReconcileDelay.DurationValue() <= 0 {
			return newFieldError("Downloads.ReconcileDelay", "必须大于 0")
		}
		if d.RefreshInterval.DurationValue() <= 0 {
			return newFieldError("Downloads.RefreshInterval", "必须大于 0")
		}
	}

	return nil
}

// validateOrigin 要求配置项是一个带 scheme + host 的绝对 URL。
// required 为 false 时允许留空（对应功能按未配置处理）。
func validateOrigin(field, raw string, required bool) error {
	if strings.TrimSpace(raw) == "" {
		if required {
			return newFieldError(field, "不能为空")
		}
		return nil
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return newFieldError(field, "不是合法 URL: "+err.Error())
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return newFieldError(field, "仅支持 http/https")
	}
	if parsed.Host == "" {
		return newFieldError(field, "缺少主机名")
	}
	return nil
}

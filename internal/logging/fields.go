package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供资源分类/策略/命中状态字段，供网关请求日志复用。
func RequestFields(class, strategy, bucket string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"class":     class,
		"strategy":  strategy,
		"bucket":    bucket,
		"cache_hit": cacheHit,
	}
}

// RepoFields 提供仓库维度字段，供下载计数抓取日志复用。
func RepoFields(action, repo string) logrus.Fields {
	return logrus.Fields{
		"action": action,
		"repo":   repo,
	}
}

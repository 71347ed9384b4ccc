package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供站点/域名/缓存状态字段，供代理请求日志复用。
func RequestFields(site, domain, url, cacheStatus, requestID string) logrus.Fields {
	return logrus.Fields{
		"site":         site,
		"domain":       domain,
		"url":          url,
		"cache_status": cacheStatus,
		"request_id":   requestID,
	}
}

// PurgeFields 提供清理日志的公共字段。
func PurgeFields(site, trigger, action string) logrus.Fields {
	return logrus.Fields{
		"action":  "cache_purge",
		"site":    site,
		"trigger": trigger,
		"source":  action,
	}
}

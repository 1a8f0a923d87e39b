package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// FetchFields 提供 url/lookup key/挂起模式字段，供抓取引擎日志复用。
func FetchFields(url, key, mode string) logrus.Fields {
	return logrus.Fields{
		"action": "fetch",
		"url":    url,
		"key":    key,
		"mode":   mode,
	}
}

// MaterializeFields 描述一次把 blob 物化到目标路径的操作。
func MaterializeFields(url, contentID, dest string) logrus.Fields {
	return logrus.Fields{
		"action":     "materialize",
		"url":        url,
		"content_id": contentID,
		"dest":       dest,
	}
}

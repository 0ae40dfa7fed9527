package tiling

import "github.com/sirupsen/logrus"

// log 瓦片预约模块的日志记录器
var log = logrus.WithField("module", "tiling")

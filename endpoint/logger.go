package endpoint

import "github.com/sirupsen/logrus"

// log 车辆生成与移出模块的日志记录器
var log = logrus.WithField("module", "endpoint")

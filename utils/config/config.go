package config

const (
	// 默认的可行性检查虚拟推演步数上限
	defaultCheckTimeout = 600
	// 默认车道宽度（米）
	defaultLaneWidth = 3.5
	// 默认车辆轮廓静态缓冲（米）
	defaultFootprintBuffer = 0.1
)

// RuntimeConfig 运行时配置
// 功能：存储仿真运行时的配置信息，补全默认值后供各模块使用
type RuntimeConfig struct {
	All Config  // 全部配置
	C   Control // 全局控制配置
}

// NewRuntimeConfig 根据配置初始化运行时配置
// 参数：config-原始配置对象
// 说明：补全缺省项，确保配置的正确性和一致性
func NewRuntimeConfig(config Config) *RuntimeConfig {
	rc := &RuntimeConfig{}

	if config.Control.CheckTimeout <= 0 {
		config.Control.CheckTimeout = defaultCheckTimeout
	}
	for ri := range config.Roads {
		for li := range config.Roads[ri].Lanes {
			if config.Roads[ri].Lanes[li].Width <= 0 {
				config.Roads[ri].Lanes[li].Width = defaultLaneWidth
			}
		}
	}
	for i := range config.Intersections {
		if config.Intersections[i].Buffer <= 0 {
			config.Intersections[i].Buffer = defaultFootprintBuffer
		}
	}

	rc.All = config
	rc.C = config.Control

	return rc
}

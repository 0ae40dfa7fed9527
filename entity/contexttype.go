package entity

import (
	"github.com/tsinghua-fib-lab/aimsim-oss/clock"
	"github.com/tsinghua-fib-lab/aimsim-oss/utils/config"
)

type ITaskContext interface {
	Clock() *clock.Clock
	LaneManager() ILaneManager
	RoadManager() IRoadManager
	IntersectionManager() IIntersectionManager
	VehicleManager() IVehicleManager
	RuntimeConfig() *config.RuntimeConfig
}

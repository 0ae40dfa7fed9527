package task

import (
	"github.com/tsinghua-fib-lab/aimsim-oss/clock"
	"github.com/tsinghua-fib-lab/aimsim-oss/endpoint"
	"github.com/tsinghua-fib-lab/aimsim-oss/entity"
	"github.com/tsinghua-fib-lab/aimsim-oss/entity/intersection"
	"github.com/tsinghua-fib-lab/aimsim-oss/entity/lane"
	"github.com/tsinghua-fib-lab/aimsim-oss/entity/road"
	"github.com/tsinghua-fib-lab/aimsim-oss/entity/vehicle"
	"github.com/tsinghua-fib-lab/aimsim-oss/output"
	"github.com/tsinghua-fib-lab/aimsim-oss/utils/config"
)

// Context 仿真任务上下文
// 功能：包含一次仿真任务的所有变量和状态，替代全局变量
// 说明：管理仿真系统的所有组件，包括时钟、各管理器、配置与输出
type Context struct {

	// 时钟
	clock *clock.Clock

	// Lane管理器
	laneManager *lane.Manager
	// Road管理器
	roadManager *road.Manager
	// Intersection管理器
	intersectionManager *intersection.Manager
	// Vehicle管理器
	vehicleManager *vehicle.Manager

	// 车辆生成器
	spawners []*endpoint.Spawner
	// 车辆移出器：终点道路ID -> Remover
	removers map[int32]*endpoint.Remover
	// 完成记录输出端
	recorder output.Recorder

	// 运行时配置文件
	runtimeConfig *config.RuntimeConfig
}

// NewContext 创建新的仿真任务上下文
// 功能：初始化仿真系统的所有组件和配置
// 参数：c-配置对象
// 算法说明：
// 1. 创建时钟与运行时配置
// 2. 创建各管理器（车道、道路、路口、车辆）
// 3. 按配置构建路网：道路车道 -> 路口转向接线 -> 生成器与移出器
// 4. 创建完成记录输出端
func NewContext(c config.Config) *Context {
	ctx := &Context{
		removers: make(map[int32]*endpoint.Remover),
	}
	ctx.clock = clock.New(c.Control.Step)
	ctx.runtimeConfig = config.NewRuntimeConfig(c)

	// 新建各类模拟对象
	ctx.laneManager = lane.NewManager(ctx)
	ctx.roadManager = road.NewManager(ctx)
	ctx.intersectionManager = intersection.NewManager(ctx)
	ctx.vehicleManager = vehicle.NewManager(ctx)

	ctx.Init()
	return ctx
}

func (ctx *Context) Clock() *clock.Clock {
	return ctx.clock
}

func (ctx *Context) LaneManager() entity.ILaneManager {
	return ctx.laneManager
}

func (ctx *Context) RoadManager() entity.IRoadManager {
	return ctx.roadManager
}

func (ctx *Context) IntersectionManager() entity.IIntersectionManager {
	return ctx.intersectionManager
}

func (ctx *Context) VehicleManager() entity.IVehicleManager {
	return ctx.vehicleManager
}

func (ctx *Context) RuntimeConfig() *config.RuntimeConfig {
	return ctx.runtimeConfig
}

// Init 按配置构建路网与端点
func (ctx *Context) Init() {
	ctx.clock.Init()

	c := ctx.runtimeConfig.All
	log.Infof("Road: %v", len(c.Roads))
	log.Infof("Intersection: %v", len(c.Intersections))
	log.Infof("Spawner: %v", len(c.Spawners))
	log.Infof("Remover: %v", len(c.Removers))

	// 先完成road与lane的所有初始化
	ctx.roadManager.Init(c.Roads, ctx.laneManager)
	// 在建立好道路车道的基础上完成路口转向接线
	ctx.intersectionManager.Init(c.Intersections, ctx.roadManager, ctx.laneManager)

	ctx.recorder = output.NewRecorder(c.Output)
	for i, sc := range c.Spawners {
		ctx.spawners = append(ctx.spawners, endpoint.NewSpawner(ctx, sc, i))
	}
	for _, roadID := range c.Removers {
		if _, ok := ctx.removers[roadID]; ok {
			log.Panicf("task: duplicated remover for road %d", roadID)
		}
		ctx.removers[roadID] = endpoint.NewRemover(ctx, roadID, ctx.recorder)
	}

	// 路径连通性：相邻道路对必须有对应转向，终点道路必须有移出器
	for i, sc := range c.Spawners {
		for ti, tc := range sc.Templates {
			for ri, rc := range tc.Routes {
				ctx.intersectionManager.ValidateRoute(rc.Roads, ctx.roadManager)
				last := rc.Roads[len(rc.Roads)-1]
				if _, ok := ctx.removers[last]; !ok {
					log.Panicf("task: spawner %d template %d route %d ends at road %d without remover",
						i, ti, ri, last)
				}
			}
		}
	}
}

// Close 关闭输出端
func (ctx *Context) Close() {
	ctx.recorder.Close()
}

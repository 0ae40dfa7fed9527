package task

import (
	"flag"

	"git.fiblab.net/general/common/v2/parallel"
	"github.com/tsinghua-fib-lab/aimsim-oss/entity"
)

var (
	heartBeatInterval = flag.Int("log.heartbeat_interval", 100, "心跳日志间隔步数")
)

// updateSpeeds 速度更新阶段
// 功能：两阶段速度协议，所有车道并行只读旧速度计算更新批次，
// 屏障后统一应用
// 说明：计算与应用之间不存在读写交错，更新结果与车道遍历顺序无关
func (ctx *Context) updateSpeeds() {
	dt := ctx.clock.DT
	batches := parallel.GoMap(ctx.laneManager.Lanes(), func(l entity.ILane) []entity.SpeedUpdate {
		return l.GetNewSpeeds(dt)
	})
	for _, batch := range batches {
		for _, u := range batch {
			u.Vehicle.SetVA(u.V, u.A)
		}
	}
}

// stepVehicles 车辆推进阶段
// 功能：所有车道并行按新速度移动车辆分段，收集跨车道转移；
// 生成器串行尝试向道路起点放入新车
// 返回：本步产生的全部跨车道转移（按车道ID、车道内从前到后排序）
func (ctx *Context) stepVehicles() []entity.VehicleTransfer {
	dt := ctx.clock.DT
	batches := parallel.GoMap(ctx.laneManager.Lanes(), func(l entity.ILane) []entity.VehicleTransfer {
		return l.StepVehicles(dt)
	})
	var transfers []entity.VehicleTransfer
	for _, batch := range batches {
		transfers = append(transfers, batch...)
	}
	for _, s := range ctx.spawners {
		s.Step()
	}
	return transfers
}

// processTransfers 转移处理阶段
// 功能：把跨车道转移串行路由到目标设施的缓冲并消费，
// 移出器最后处理（保证完成记录在所有进入事件之后）
// 算法说明：
// 1. 车尾离开路口内车道时触发预约清除钩子
// 2. To为道路/路口内车道的转移写入对应设施的缓冲
// 3. To为nil的转移送往终点道路的移出器
// 4. 道路与路口消费缓冲（车头进入路口触发预约激活钩子）
func (ctx *Context) processTransfers(transfers []entity.VehicleTransfer) {
	var terminal []entity.VehicleTransfer
	for _, tf := range transfers {
		if tf.From.InIntersection() && tf.Section == entity.SectionRear {
			tf.From.ParentIntersection().OnVehicleExited(tf.Vehicle)
		}
		switch {
		case tf.To == nil:
			terminal = append(terminal, tf)
		case tf.To.InIntersection():
			tf.To.ParentIntersection().AddTransfer(tf)
		default:
			tf.To.ParentRoad().AddTransfer(tf)
		}
	}
	for _, r := range ctx.roadManager.Roads() {
		r.ProcessBuffer()
	}
	for _, x := range ctx.intersectionManager.Intersections() {
		x.ProcessBuffer()
	}
	for _, tf := range terminal {
		rm, ok := ctx.removers[tf.From.ParentRoad().ID()]
		if !ok {
			log.Panicf("task: vehicle %d runs off road %d without remover",
				tf.Vehicle.ID(), tf.From.ParentRoad().ID())
		}
		rm.HandleTransfer(tf)
	}
}

// handleLogic 路口逻辑阶段
// 功能：按路口ID升序串行滚动瓦片账本并处理预约请求
// 说明：串行执行保证同一种子下请求的检查与确认顺序完全可复现
func (ctx *Context) handleLogic() {
	for _, x := range ctx.intersectionManager.Intersections() {
		x.UpdateSchedule()
		x.ProcessRequests()
	}
}

// prepare 准备阶段，每步执行一次
// 功能：推进时钟、应用车辆池增删、输出心跳日志
func (ctx *Context) prepare() {
	ctx.clock.Tick()
	ctx.vehicleManager.Prepare()
	if ctx.clock.InternalStep%int32(*heartBeatInterval) == 0 {
		log.Infof("STEP: %d(%v) vehicles: %d spawned: %d removed: %d",
			ctx.clock.InternalStep, ctx.clock,
			ctx.vehicleManager.ActiveCount(),
			ctx.vehicleManager.SpawnedCount(),
			ctx.vehicleManager.RemovedCount())
	}
}

// Run 运行仿真主循环
// 算法说明（每个仿真步）：
// 1. 速度更新：并行计算，屏障后统一应用
// 2. 车辆推进：并行移动分段并收集跨车道转移，生成器放入新车
// 3. 转移处理：串行路由转移，设施消费缓冲，移出器最后
// 4. 路口逻辑：滚动账本、处理预约请求
// 5. 准备：推进时钟、应用车辆池增删
func (ctx *Context) Run() {
	for !ctx.clock.Done() {
		ctx.updateSpeeds()
		transfers := ctx.stepVehicles()
		ctx.processTransfers(transfers)
		ctx.handleLogic()
		ctx.prepare()
	}
	log.Infof("engine complete: spawned %d, removed %d, active %d",
		ctx.vehicleManager.SpawnedCount(),
		ctx.vehicleManager.RemovedCount(),
		ctx.vehicleManager.ActiveCount())
}

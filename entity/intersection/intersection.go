package intersection

import (
	"fmt"
	"sync"

	"github.com/tsinghua-fib-lab/aimsim-oss/entity"
	"github.com/tsinghua-fib-lab/aimsim-oss/entity/intersection/tiling"
)

// movementKey 转向索引：进入车道ID + 驶出道路ID
type movementKey struct {
	inLane  int32
	outRoad int32
}

// Intersection 路口实体
// 功能：持有路口内车道、瓦片预约账本与调度策略，
// 在处理逻辑阶段先滚动账本再按策略处理预约请求
type Intersection struct {
	ctx entity.ITaskContext

	id        int32
	lanes     []entity.ILane                 // 路口内车道
	movements map[movementKey]entity.ILane   // 转向 -> 路口内车道
	incoming  []entity.ILane                 // 进入车道（按车道ID升序）
	grid      *tiling.Tiling                 // 瓦片预约账本
	policy    IPolicy                        // 调度策略

	transferBuffer []entity.VehicleTransfer // 转移缓冲
	transferMtx    sync.Mutex
}

func (x *Intersection) String() string {
	return fmt.Sprintf("Intersection{id:%d, lanes:%d, policy:%s}", x.id, len(x.lanes), x.policy.Name())
}

func (x *Intersection) ID() int32 {
	return x.id
}

func (x *Intersection) Lanes() []entity.ILane {
	return x.lanes
}

func (x *Intersection) IncomingLanes() []entity.ILane {
	return x.incoming
}

// Tiling 获取瓦片预约账本
func (x *Intersection) Tiling() *tiling.Tiling {
	return x.grid
}

// LaneForMovement 根据(进入车道, 车辆路径)解析路口内车道
// 返回：nil表示车辆的转向在本路口没有对应车道，或车辆终点在上游道路
func (x *Intersection) LaneForMovement(in entity.ILane, v entity.IVehicle) entity.ILane {
	next, ok := v.NextRoadAfter(in.ParentRoad().ID())
	if !ok {
		return nil
	}
	return x.movements[movementKey{inLane: in.ID(), outRoad: next}]
}

// AddTransfer 向转移缓冲写入一个分段转移
func (x *Intersection) AddTransfer(tf entity.VehicleTransfer) {
	x.transferMtx.Lock()
	x.transferBuffer = append(x.transferBuffer, tf)
	x.transferMtx.Unlock()
}

// ProcessBuffer 消费转移缓冲，分段进入路口内车道
// 说明：车头进入即触发预约从排队转为激活
func (x *Intersection) ProcessBuffer() {
	for _, tf := range x.transferBuffer {
		if tf.To == nil || tf.To.ParentIntersection() != entity.IIntersection(x) {
			log.Panicf("intersection %d: transfer %v routed to wrong intersection", x.id, tf)
		}
		tf.To.EnterVehicleSection(tf.Vehicle, tf.Section, tf.DistanceLeft)
		if tf.Section == entity.SectionFront {
			x.OnVehicleEntered(tf.Vehicle)
		}
	}
	x.transferBuffer = x.transferBuffer[:0]
}

// UpdateSchedule 滚动瓦片层与信号周期，更新预约生命周期
func (x *Intersection) UpdateSchedule() {
	x.grid.UpdateSchedule(x.ctx.Clock().InternalStep)
}

// ProcessRequests 按策略处理本路口的预约请求
// 说明：策略只能在紧邻的成功检查之后立即确认同一序列
func (x *Intersection) ProcessRequests() {
	x.policy.ProcessRequests(x)
}

// OnVehicleEntered 车头进入路口内车道
func (x *Intersection) OnVehicleEntered(v entity.IVehicle) {
	x.grid.StartReservation(v)
}

// OnVehicleExited 车尾离开路口内车道
func (x *Intersection) OnVehicleExited(v entity.IVehicle) {
	x.grid.ClearReservation(v)
}

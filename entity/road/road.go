package road

import (
	"fmt"
	"sync"

	"github.com/tsinghua-fib-lab/aimsim-oss/entity"
)

// Road 道路实体
// 功能：按车道下标持有若干平行车道，承接上游（路口或生成器）
// 转移来的车辆分段
type Road struct {
	ctx entity.ITaskContext

	id    int32
	lanes []entity.ILane // 按车道下标排列

	transferBuffer []entity.VehicleTransfer // 转移缓冲
	transferMtx    sync.Mutex
}

func newRoad(ctx entity.ITaskContext, id int32, lanes []entity.ILane) *Road {
	r := &Road{
		ctx:   ctx,
		id:    id,
		lanes: lanes,
	}
	for _, l := range lanes {
		l.SetParentRoadWhenInit(r)
	}
	return r
}

func (r *Road) String() string {
	return fmt.Sprintf("Road{id:%d, lanes:%d}", r.id, len(r.lanes))
}

func (r *Road) ID() int32 {
	return r.id
}

func (r *Road) Lanes() []entity.ILane {
	return r.lanes
}

// AddTransfer 向转移缓冲写入一个分段转移
// 说明：推进阶段并行产生转移，缓冲到转移处理阶段统一消费
func (r *Road) AddTransfer(tf entity.VehicleTransfer) {
	r.transferMtx.Lock()
	r.transferBuffer = append(r.transferBuffer, tf)
	r.transferMtx.Unlock()
}

// ProcessBuffer 消费转移缓冲，分段进入各车道
func (r *Road) ProcessBuffer() {
	for _, tf := range r.transferBuffer {
		if tf.To == nil || tf.To.ParentRoad() != entity.IRoad(r) {
			log.Panicf("road %d: transfer %v routed to wrong road", r.id, tf)
		}
		tf.To.EnterVehicleSection(tf.Vehicle, tf.Section, tf.DistanceLeft)
	}
	r.transferBuffer = r.transferBuffer[:0]
}

package tiling

import (
	"fmt"

	"github.com/tsinghua-fib-lab/aimsim-oss/entity"
)

// Reservation 预约记录
// 功能：记录一辆车通过路口的完整占用计划
// 说明：同一请求序列（车队）中相邻车辆通过DependentOn/Dependency
// 双向链接，整体确认、整体失效
type Reservation struct {
	Vehicle entity.IVehicle // 请求车辆（原车，非影子）
	Lane    entity.ILane    // 使用的路口内车道

	EntranceFront *entity.ScheduledExit // 车头到达接缝的计划
	EntranceRear  *entity.ScheduledExit // 车尾进入路口的计划
	Exit          *entity.ScheduledExit // 车尾离开路口的计划

	// 占用计划：步数 -> 瓦片下标列表（含进出缓冲）
	Tiles map[int32][]int32

	DependentOn *Reservation // 序列中的前一预约
	Dependency  *Reservation // 序列中的后一预约

	Confirmed bool
}

func newReservation(v entity.IVehicle, il entity.ILane, entranceFront *entity.ScheduledExit) *Reservation {
	return &Reservation{
		Vehicle:       v,
		Lane:          il,
		EntranceFront: entranceFront,
		Tiles:         make(map[int32][]int32),
	}
}

func (r *Reservation) String() string {
	return fmt.Sprintf("Reservation{vehicle:%d, lane:%d, confirmed:%v}",
		r.Vehicle.ID(), r.Lane.ID(), r.Confirmed)
}

// root 请求序列的首个预约
func (r *Reservation) root() *Reservation {
	for r.DependentOn != nil {
		r = r.DependentOn
	}
	return r
}

// sameSequence 判断两个预约是否属于同一请求序列
// 说明：同序列车辆在同一车道上前后跟驰，允许共享瓦片
func (r *Reservation) sameSequence(other *Reservation) bool {
	return other != nil && r.root() == other.root()
}

// addTiles 记录某一步的瓦片占用
func (r *Reservation) addTiles(t int32, idxs []int32) {
	if len(idxs) == 0 {
		return
	}
	r.Tiles[t] = append(r.Tiles[t], idxs...)
}

package endpoint

import (
	"github.com/tsinghua-fib-lab/aimsim-oss/entity"
	"github.com/tsinghua-fib-lab/aimsim-oss/output"
)

// Remover 车辆移出器
// 功能：消费终点道路尽头的分段转移，车身中点越过尽头时产生
// 完成记录，车尾越过尽头时把车辆移出车辆池
type Remover struct {
	ctx entity.ITaskContext

	road     entity.IRoad
	recorder output.Recorder
}

func NewRemover(ctx entity.ITaskContext, roadID int32, recorder output.Recorder) *Remover {
	r, err := ctx.RoadManager().GetOrError(roadID)
	if err != nil {
		log.Panicf("endpoint: remover: %v", err)
	}
	return &Remover{ctx: ctx, road: r, recorder: recorder}
}

func (rm *Remover) Road() entity.IRoad {
	return rm.road
}

// HandleTransfer 消费一个越过终点道路尽头的分段转移
func (rm *Remover) HandleTransfer(tf entity.VehicleTransfer) {
	switch tf.Section {
	case entity.SectionFront:
		// 车头越界不产生动作，等待车身中点
	case entity.SectionCenter:
		clk := rm.ctx.Clock()
		rm.recorder.RecordExit(output.ExitRecord{
			Step:      clk.InternalStep,
			Time:      clk.T,
			VehicleID: tf.Vehicle.ID(),
			RoadID:    rm.road.ID(),
		})
	case entity.SectionRear:
		rm.ctx.VehicleManager().Remove(tf.Vehicle)
	}
}

package intersection

import (
	"github.com/tsinghua-fib-lab/aimsim-oss/entity"
	"github.com/tsinghua-fib-lab/aimsim-oss/utils/container"
)

// IPolicy 路口调度策略
// 说明：策略的唯一能力是决定向哪些进入车道、以什么顺序轮询请求；
// 可行性检查与确认始终走同一条瓦片账本路径
type IPolicy interface {
	Name() string
	ProcessRequests(x *Intersection)
}

// fcfsPolicy 先到先得策略
// 功能：按车道ID升序循环轮询全部进入车道，检查通过立即确认，
// 某车道检查失败则本阶段不再轮询该车道，直到一轮无任何确认为止
// 说明：signalGated变体只轮询当前相位放行的车道；
// 已持许可的车辆不受相位影响（通行安全由预约保证）
type fcfsPolicy struct {
	signalGated bool
}

func (p *fcfsPolicy) Name() string {
	if p.signalGated {
		return "signal"
	}
	return "fcfs"
}

func (p *fcfsPolicy) ProcessRequests(x *Intersection) {
	queue := make([]entity.ILane, 0, len(x.incoming))
	for _, in := range x.incoming {
		if p.signalGated && !x.grid.LaneIsGreen(in) {
			continue
		}
		queue = append(queue, in)
	}
	for len(queue) > 0 {
		in := queue[0]
		queue = queue[1:]
		res := x.grid.CheckRequest(in)
		if res == nil {
			continue
		}
		x.grid.ConfirmReservation(res, in)
		// 确认成功的车道重新入队，继续服务后续请求
		queue = append(queue, in)
	}
}

// auctionPolicy 拍卖策略
// 功能：每阶段一轮，以车道上待授权车辆的时间价值之和为出价，
// 按出价从高到低依次检查并确认
type auctionPolicy struct{}

func (p *auctionPolicy) Name() string {
	return "auction"
}

func (p *auctionPolicy) ProcessRequests(x *Intersection) {
	q := container.NewPriorityQueue[entity.ILane]()
	for _, in := range x.incoming {
		bid := 0.0
		for _, v := range in.VehiclesAwaitingPermission() {
			bid += v.Vot()
		}
		if bid <= 0 {
			continue
		}
		// 队列为最小堆，取负值使最高出价优先
		q.HeapPush(in, -bid)
	}
	for q.Len() > 0 {
		in, _ := q.HeapPop()
		if res := x.grid.CheckRequest(in); res != nil {
			x.grid.ConfirmReservation(res, in)
		}
	}
}

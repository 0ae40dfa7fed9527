package lane

import (
	"fmt"
	"math"
	"sort"

	"git.fiblab.net/general/common/v2/geometry"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/aimsim-oss/entity"
	"github.com/tsinghua-fib-lab/aimsim-oss/entity/vehicle"
)

// Lane 车道实体
// 功能：维护车道几何与车上车辆的分段进度，实现两阶段速度更新、
// 分段推进与跨车道转移，以及道路车道的预约请求支持
// 说明：车辆链表按车头里程升序，尾节点为领头车；
// 车辆分三段（车头/车身中点/车尾）独立跨越车道接缝
type Lane struct {
	ctx entity.ITaskContext

	id                 int32
	parentRoad         entity.IRoad         // 所在道路，路口内车道为nil
	parentIntersection entity.IIntersection // 所在路口，道路车道为nil
	endIntersection    entity.IIntersection // 道路车道的下游路口，终点道路为nil
	uniqueSuccessor    entity.ILane         // 唯一后继（路口内车道与克隆车道）
	isClone            bool                 // 可行性检查中的克隆车道

	line           []geometry.Point             // 中心线折线
	lineLengths    []float64                    // 中心线折线点对应的长度列表
	lineDirections []geometry.PolylineDirection // 中心线折线段每一段的方向（atan2）
	length         float64                      // 以中心线的长度为车道长度
	width          float64                      // 车道宽度
	maxV           float64                      // 车道限速

	vehicles entity.VehicleList            // 车上车辆链表
	nodes    map[int32]*entity.VehicleNode // 车辆ID -> 链表节点

	// 最近一次确认预约的车尾进入计划，约束后续请求的最早进入
	latestScheduledExit *entity.ScheduledExit
}

func newLane(ctx entity.ITaskContext, id int32, line []geometry.Point, maxV, width float64) *Lane {
	if len(line) < 2 {
		log.Panicf("lane %d: centerline needs at least 2 points", id)
	}
	if maxV <= 0 {
		log.Panicf("lane %d: bad max speed %v", id, maxV)
	}
	l := &Lane{
		ctx:   ctx,
		id:    id,
		line:  line,
		width: width,
		maxV:  maxV,
		nodes: make(map[int32]*entity.VehicleNode),
	}
	l.lineLengths = geometry.GetPolylineLengths2D(l.line)
	l.length = l.lineLengths[len(l.lineLengths)-1]
	l.lineDirections = geometry.GetPolylineDirections(l.line)
	l.vehicles.ID = fmt.Sprintf("lane %d vehicles", id)
	return l
}

func (l *Lane) String() string {
	return fmt.Sprintf("Lane{id:%d, length:%.4f, clone:%v}", l.id, l.length, l.isClone)
}

// 初始化

func (l *Lane) SetParentRoadWhenInit(parent entity.IRoad) {
	l.parentRoad = parent
}

func (l *Lane) SetParentIntersectionWhenInit(parent entity.IIntersection) {
	l.parentIntersection = parent
}

func (l *Lane) SetEndIntersectionWhenInit(end entity.IIntersection) {
	if l.parentIntersection != nil {
		log.Panicf("lane %d: intersection lane cannot have end intersection", l.id)
	}
	l.endIntersection = end
}

func (l *Lane) SetUniqueSuccessorWhenInit(next entity.ILane) {
	l.uniqueSuccessor = next
}

// getter

func (l *Lane) ID() int32 {
	return l.id
}

func (l *Lane) Length() float64 {
	return l.length
}

func (l *Lane) Width() float64 {
	return l.width
}

func (l *Lane) MaxV() float64 {
	return l.maxV
}

func (l *Lane) Line() []geometry.Point {
	return l.line
}

func (l *Lane) InRoad() bool {
	return l.parentIntersection == nil
}

func (l *Lane) InIntersection() bool {
	return l.parentIntersection != nil
}

func (l *Lane) ParentRoad() entity.IRoad {
	return l.parentRoad
}

func (l *Lane) ParentIntersection() entity.IIntersection {
	return l.parentIntersection
}

func (l *Lane) EndIntersection() entity.IIntersection {
	return l.endIntersection
}

func (l *Lane) UniqueSuccessor() entity.ILane {
	return l.uniqueSuccessor
}

// SuccessorFor 按车辆路径解析下游车道
// 返回：唯一后继（如有）；道路车道按车辆路径经下游路口解析；
// nil表示车辆在此驶出路网
func (l *Lane) SuccessorFor(v entity.IVehicle) entity.ILane {
	if l.uniqueSuccessor != nil {
		return l.uniqueSuccessor
	}
	if l.endIntersection != nil {
		return l.endIntersection.LaneForMovement(l, v)
	}
	return nil
}

// 几何

// GetDirectionByS 根据本车道s坐标计算切向角度
func (l *Lane) GetDirectionByS(s float64) float64 {
	s = lo.Clamp(s, l.lineLengths[0], l.lineLengths[len(l.lineLengths)-1])
	if i := sort.SearchFloat64s(l.lineLengths, s); i == 0 {
		return l.lineDirections[0].Direction
	} else {
		return l.lineDirections[i-1].Direction
	}
}

// GetPositionByS 将当前车道s坐标转换为xy坐标
func (l *Lane) GetPositionByS(s float64) (pos geometry.Point) {
	s = lo.Clamp(s, l.lineLengths[0], l.lineLengths[len(l.lineLengths)-1])
	if i := sort.SearchFloat64s(l.lineLengths, s); i == 0 {
		pos = l.line[0]
	} else {
		sHigh, sLow := l.lineLengths[i], l.lineLengths[i-1]
		k := (s - sLow) / (sHigh - sLow)
		if k < 0 || k > 1 {
			log.Panicf("lane: GetPositionByS(), bad k %v. sHigh=%f, sLow=%f, s=%f", k, sHigh, sLow, s)
		}
		pos = geometry.Blend(l.line[i-1], l.line[i], k)
	}
	return
}

// GetOffsetPositionByS s坐标沿法向平移offset后的坐标
func (l *Lane) GetOffsetPositionByS(s, offset float64) geometry.Point {
	originalPos := l.GetPositionByS(s)
	direction := l.GetDirectionByS(s)
	unitNormal := geometry.Point{X: math.Cos(direction - math.Pi/2), Y: math.Sin(direction - math.Pi/2)}
	return geometry.Point{X: originalPos.X + unitNormal.X*offset, Y: originalPos.Y + unitNormal.Y*offset, Z: originalPos.Z}
}

// 车辆链表

func (l *Lane) Vehicles() *entity.VehicleList {
	return &l.vehicles
}

func (l *Lane) FirstVehicle() *entity.VehicleNode {
	return l.vehicles.First()
}

func (l *Lane) LastVehicle() *entity.VehicleNode {
	return l.vehicles.Last()
}

func (l *Lane) VehicleCount() int {
	return l.vehicles.Len()
}

// 仿真步

// leaderUncontested 判断领头车是否无竞争行驶
// 说明：路口内车道的领头车必然持有预约，无竞争；
// 道路车道领头车持有许可或下游为移出器时无竞争，否则须在接缝前停车
func (l *Lane) leaderUncontested(v entity.IVehicle) bool {
	if l.parentIntersection != nil {
		return true
	}
	if v.HasPermission() {
		return true
	}
	// 终点道路（或推演中的驶出道路克隆）
	return l.endIntersection == nil && l.uniqueSuccessor == nil
}

// precedingRearS 前车车尾在本车道上的里程
// 说明：前车车尾尚在上游车道时按车头位置回推，结果可为负
func (l *Lane) precedingRearS(preceding *entity.VehicleNode) float64 {
	pp := preceding.Extra
	if (*pp)[entity.SectionRear].In {
		return (*pp)[entity.SectionRear].P * l.length
	}
	return preceding.S - preceding.Value.Length()
}

// GetNewSpeeds 计算阶段：产生速度更新批次
// 返回：本车道负责的车辆速度更新（只读旧速度，不修改任何状态）
// 算法说明：
// 1. 从领头车向后遍历；车头已进入下游车道的车辆由下游车道负责
// 2. 领头车按无竞争/接缝前停车决策
// 3. 跟驰车的可用制动空间为与前车的间距加前车的保证制动距离；
//    无许可车辆还受接缝约束
func (l *Lane) GetNewSpeeds(dt float64) []entity.SpeedUpdate {
	updates := make([]entity.SpeedUpdate, 0, l.vehicles.Len())
	var preceding *entity.VehicleNode
	for node := l.vehicles.Last(); node != nil; node = node.Prev() {
		v := node.Value
		prog := node.Extra
		if !(*prog)[entity.SectionFront].In {
			// 车头已在下游车道，速度由下游车道计算
			preceding = node
			continue
		}
		frontS := (*prog)[entity.SectionFront].P * l.length
		var a float64
		if preceding == nil && l.leaderUncontested(v) {
			a = vehicle.AccelUncontested(v.Attr(), v.V(), l.maxV, dt)
		} else {
			availSD := math.Inf(1)
			if preceding != nil {
				gap := l.precedingRearS(preceding) - frontS
				availSD = gap + preceding.Value.StoppingDistance()
			}
			if l.InRoad() && !v.HasPermission() && !(l.endIntersection == nil && l.uniqueSuccessor == nil) {
				// 无许可不得越过接缝
				availSD = math.Min(availSD, l.length-frontS)
			}
			a = vehicle.AccelFollowing(v.Attr(), v.V(), l.maxV, availSD, dt)
		}
		updates = append(updates, entity.SpeedUpdate{
			Vehicle: v,
			V:       vehicle.NextSpeed(v.Attr(), v.V(), a, dt),
			A:       a,
		})
		preceding = node
	}
	return updates
}

// StepVehicles 推进阶段：移动本车道上的车辆分段
// 返回：越过车道终点的分段转移（进度恰好为1同样视为越过）
// 算法说明：
// 1. 从领头车向后遍历，各分段按新速度推进相同距离
// 2. 分段进度到达1即从本车道移出，剩余距离随转移带往下游
// 3. 车身中点在本车道时刷新车辆位姿
// 4. 三个分段全部离开后移除链表节点
func (l *Lane) StepVehicles(dt float64) []entity.VehicleTransfer {
	transfers := []entity.VehicleTransfer{}
	for node := l.vehicles.Last(); node != nil; {
		prev := node.Prev()
		v := node.Value
		prog := node.Extra
		ds := v.V() * dt
		for sec := entity.SectionFront; sec <= entity.SectionRear; sec++ {
			sp := &(*prog)[sec]
			if !sp.In {
				continue
			}
			sp.P += ds / l.length
			if sp.P >= 1 {
				sp.In = false
				transfers = append(transfers, entity.VehicleTransfer{
					Vehicle:      v,
					Section:      sec,
					DistanceLeft: (sp.P - 1) * l.length,
					From:         l,
					To:           l.SuccessorFor(v),
				})
			}
		}
		if (*prog)[entity.SectionCenter].In {
			s := (*prog)[entity.SectionCenter].P * l.length
			v.SetPose(l.GetOffsetPositionByS(s, v.LateralDeviation()), l.GetDirectionByS(s))
		}
		if (*prog)[entity.SectionFront].In {
			node.S = (*prog)[entity.SectionFront].P * l.length
		} else {
			node.S = l.length
		}
		if prog.AllOut() {
			l.vehicles.Remove(node)
			delete(l.nodes, v.ID())
		}
		node = prev
	}
	// 浮点推进后恢复链表有序性
	if unsorted := l.vehicles.PopUnsorted(); len(unsorted) > 0 {
		l.vehicles.Merge(unsorted)
	}
	return transfers
}

// EnterVehicleSection 接收一个分段进入本车道
// 参数：dist-本步内已在本车道上行驶的距离（子步连续性）
// 说明：车头必须先于其他分段进入；分段进入即纳入本车道的进度追踪
func (l *Lane) EnterVehicleSection(v entity.IVehicle, section entity.VehicleSection, dist float64) {
	node, ok := l.nodes[v.ID()]
	if !ok {
		if section != entity.SectionFront {
			log.Panicf("lane %d: section %v of vehicle %d enters before front", l.id, section, v.ID())
		}
		node = &entity.VehicleNode{
			S:     dist,
			Value: v,
			Extra: &entity.VehicleProgress{},
		}
		l.nodes[v.ID()] = node
		l.vehicles.Merge([]*entity.VehicleNode{node})
	}
	sp := &(*node.Extra)[section]
	if sp.In {
		log.Panicf("lane %d: section %v of vehicle %d enters twice", l.id, section, v.ID())
	}
	sp.In = true
	sp.P = dist / l.length
	if section == entity.SectionFront {
		node.S = dist
	}
}

// RemoveVehicle 将车辆从本车道移除
// 说明：可行性检查中剔除不可行的影子车辆时使用
func (l *Lane) RemoveVehicle(v entity.IVehicle) {
	if node, ok := l.nodes[v.ID()]; ok {
		l.vehicles.Remove(node)
		delete(l.nodes, v.ID())
	}
}

// RoomToEnter 车道起点到最后一辆车车尾的空间
func (l *Lane) RoomToEnter() float64 {
	first := l.vehicles.First()
	if first == nil {
		return l.length
	}
	rp := (*first.Extra)[entity.SectionRear]
	if rp.In {
		return rp.P * l.length
	}
	// 车尾仍在上游，无空间
	return 0
}

// 预约请求支持（道路车道）

// VehiclesAwaitingPermission 获取待授权车辆序列
// 返回：从最靠近路口的无许可车辆起、转向一致的连续车辆（可整体授权）
// 算法说明：
// 1. 跳过队首已持许可的车辆
// 2. 收集连续无许可且下一条道路相同的车辆，遇到不同转向即截断
func (l *Lane) VehiclesAwaitingPermission() []entity.IVehicle {
	if l.parentRoad == nil {
		log.Panicf("lane %d: permission polling on non-road lane", l.id)
	}
	node := l.vehicles.Last()
	for node != nil && node.Value.HasPermission() {
		node = node.Prev()
	}
	var res []entity.IVehicle
	movement := int32(-1)
	for node != nil && !node.Value.HasPermission() {
		v := node.Value
		next, ok := v.NextRoadAfter(l.parentRoad.ID())
		if !ok {
			// 终点在本道路，不需要预约
			break
		}
		if movement == -1 {
			movement = next
		} else if next != movement {
			break
		}
		res = append(res, v)
		node = node.Prev()
	}
	return res
}

// SoonestExit 车头最早到达车道终点的计划
// 参数：v-请求车辆，t0-当前步，lastExit-前一车辆的车尾进入计划
// （nil时取本车道最近确认的计划）
// 返回：车头到达接缝的最早步数与该时刻速度
// 算法说明：
// 1. 以保证最大加速度加速到有效限速，闭式求自由流到达时间与速度
// 2. 进入不得早于前一进入计划的下一步，且进入速度不得超过
//    前车按保证加速度外推的速度包络
func (l *Lane) SoonestExit(v entity.IVehicle, t0 int32, lastExit *entity.ScheduledExit) *entity.ScheduledExit {
	node, ok := l.nodes[v.ID()]
	if !ok {
		log.Panicf("lane %d: soonest exit of vehicle %d not on lane", l.id, v.ID())
	}
	if lastExit == nil {
		lastExit = l.latestScheduledExit
	}
	dt := l.ctx.Clock().DT
	d := l.length - node.S
	v0 := v.V()
	a := v.MaxA()
	vm := math.Min(v.MaxV(), l.maxV)

	var tFree, vE float64
	if d <= 0 {
		tFree, vE = 0, v0
	} else if v0 >= vm {
		tFree, vE = d/vm, vm
	} else {
		t1 := (vm - v0) / a
		d1 := v0*t1 + 0.5*a*t1*t1
		if d <= d1 {
			vE = math.Sqrt(v0*v0 + 2*a*d)
			tFree = (vE - v0) / a
		} else {
			tFree = t1 + (d-d1)/vm
			vE = vm
		}
	}
	steps := int32(math.Ceil(tFree / dt))
	if steps < 1 {
		steps = 1
	}
	t := t0 + steps
	if lastExit != nil {
		if t <= lastExit.T {
			t = lastExit.T + 1
		}
		// 进入速度包络：前车进入后按保证加速度外推
		envelope := lastExit.V + a*float64(t-lastExit.T)*dt
		vE = math.Min(vE, envelope)
	}
	vE = lo.Clamp(vE, 0, vm)
	return &entity.ScheduledExit{Vehicle: v, Section: entity.SectionFront, T: t, V: vE}
}

// RegisterLatestScheduledExit 记录最近一次确认预约的车尾进入计划
func (l *Lane) RegisterLatestScheduledExit(se *entity.ScheduledExit) {
	l.latestScheduledExit = se
}

func (l *Lane) LatestScheduledExit() *entity.ScheduledExit {
	return l.latestScheduledExit
}

// 推演支持

// Clone 产生空的同几何车道
// 说明：克隆不携带车辆、下游路口与已确认计划，由可行性检查自行接线；
// 克隆的道路车道无后继时按终点车道处理，领头车可自由驶离
func (l *Lane) Clone() entity.ILane {
	c := &Lane{
		ctx:                l.ctx,
		id:                 l.id,
		parentRoad:         l.parentRoad,
		parentIntersection: l.parentIntersection,
		isClone:            true,
		line:               l.line,
		lineLengths:        l.lineLengths,
		lineDirections:     l.lineDirections,
		length:             l.length,
		width:              l.width,
		maxV:               l.maxV,
		nodes:              make(map[int32]*entity.VehicleNode),
	}
	c.vehicles.ID = fmt.Sprintf("lane %d vehicles (clone)", l.id)
	return c
}

func (l *Lane) IsClone() bool {
	return l.isClone
}

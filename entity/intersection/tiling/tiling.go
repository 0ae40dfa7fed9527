package tiling

import (
	"math"

	"git.fiblab.net/general/common/v2/geometry"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/aimsim-oss/entity"
)

// tile 单个时空瓦片
// 说明：最多被一个预约持有，这是路口安全性的账本不变量
type tile struct {
	reservedBy *Reservation
}

// Phase 信号相位：一段时间内放行的进入车道集合
type Phase struct {
	Duration int32          // 相位时长（步数）
	Lanes    []entity.ILane // 放行的进入道路车道
}

// Tiling 方形瓦片预约账本
// 功能：把路口冲突区按方形网格离散为(x, y, 步)三维瓦片，
// 维护未来每一步的占用层、预约生命周期与信号周期
// 说明：层叠按步滚动，layers[k]对应步t0+1+k，每个真实步弹出一层；
// 层按需创建
type Tiling struct {
	ctx entity.ITaskContext

	tileWidth float64 // 瓦片边长（米）
	buffer    float64 // 车辆轮廓静态缓冲（米）
	timeout   int32   // 可行性推演的虚拟步数上限

	// 网格覆盖范围：路口内车道全部折线点外扩车道宽度与两格边距
	originX, originY float64
	cols, rows       int32

	t0     int32    // 当前真实步
	layers [][]tile // layers[k]对应步t0+1+k

	queued map[int32]*Reservation // 已确认、车头尚未进入路口
	active map[int32]*Reservation // 车辆在路口内

	// 信号周期，空表示全放行
	cycle          []Phase
	cycleIdx       int
	cycleRemaining int32
	greenLanes     map[int32]bool // 当前相位放行的进入车道ID集合
}

// New 创建瓦片账本
// 参数：lanes-路口内车道（决定网格覆盖范围），tileWidth-瓦片边长，
// buffer-轮廓静态缓冲，timeout-推演步数上限，cycle-信号周期（可空）
func New(ctx entity.ITaskContext, lanes []entity.ILane, tileWidth, buffer float64, timeout int32, cycle []Phase) *Tiling {
	if tileWidth <= 0 {
		log.Panicf("tiling: bad tile width %v", tileWidth)
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	margin := 2 * tileWidth
	for _, l := range lanes {
		for _, p := range l.Line() {
			minX = math.Min(minX, p.X-l.Width()-margin)
			minY = math.Min(minY, p.Y-l.Width()-margin)
			maxX = math.Max(maxX, p.X+l.Width()+margin)
			maxY = math.Max(maxY, p.Y+l.Width()+margin)
		}
	}
	if minX > maxX {
		log.Panic("tiling: no lanes to cover")
	}
	g := &Tiling{
		ctx:       ctx,
		tileWidth: tileWidth,
		buffer:    buffer,
		timeout:   timeout,
		originX:   minX,
		originY:   minY,
		cols:      int32(math.Ceil((maxX-minX)/tileWidth)) + 1,
		rows:      int32(math.Ceil((maxY-minY)/tileWidth)) + 1,
		queued:    make(map[int32]*Reservation),
		active:    make(map[int32]*Reservation),
		cycle:     cycle,
	}
	if len(cycle) > 0 {
		g.cycleRemaining = cycle[0].Duration
		g.rebuildGreenSet()
	}
	return g
}

// TileCount 单层瓦片总数
func (g *Tiling) TileCount() int32 {
	return g.cols * g.rows
}

// UpdateSchedule 每个真实步的滚动维护
// 算法说明：
// 1. 弹出已过期的占用层
// 2. 推进信号周期
// 3. 按观测更新激活预约的占用（确定性瓦片下为空操作）
func (g *Tiling) UpdateSchedule(t int32) {
	if len(g.layers) > 0 {
		g.layers = g.layers[1:]
	}
	g.t0 = t
	g.updateCycle()
	g.updateActiveReservations()
}

func (g *Tiling) updateCycle() {
	if len(g.cycle) == 0 {
		return
	}
	g.cycleRemaining--
	if g.cycleRemaining <= 0 {
		g.cycleIdx = (g.cycleIdx + 1) % len(g.cycle)
		g.cycleRemaining = g.cycle[g.cycleIdx].Duration
		g.rebuildGreenSet()
	}
}

func (g *Tiling) rebuildGreenSet() {
	g.greenLanes = lo.SliceToMap(g.cycle[g.cycleIdx].Lanes, func(l entity.ILane) (int32, bool) {
		return l.ID(), true
	})
}

// updateActiveReservations 按观测调整激活预约的占用计划
// 说明：确定性瓦片不携带不确定度，无需调整
func (g *Tiling) updateActiveReservations() {}

// LaneIsGreen 判断进入车道在当前相位是否放行
func (g *Tiling) LaneIsGreen(in entity.ILane) bool {
	if len(g.cycle) == 0 {
		return true
	}
	return g.greenLanes[in.ID()]
}

// layerAt 获取指定步的占用层，按需创建
// 返回：nil表示该步已过期
func (g *Tiling) layerAt(t int32) []tile {
	k := int(t - (g.t0 + 1))
	if k < 0 {
		return nil
	}
	for len(g.layers) <= k {
		g.layers = append(g.layers, make([]tile, g.TileCount()))
	}
	return g.layers[k]
}

// posToTiles 车辆轮廓的保守栅格化
// 参数：pos-车身中点，heading-朝向角，length/width-车辆尺寸
// 返回：覆盖旋转矩形轮廓（含静态缓冲）的轴对齐包围盒内全部瓦片下标
// 说明：对精确轮廓的超集覆盖，只会拒绝更多请求，不会漏占
func (g *Tiling) posToTiles(pos geometry.Point, heading, length, width float64) []int32 {
	hl := length/2 + g.buffer
	hw := width/2 + g.buffer
	cos, sin := math.Cos(heading), math.Sin(heading)
	// 旋转矩形的轴对齐包围盒半径
	ex := math.Abs(cos)*hl + math.Abs(sin)*hw
	ey := math.Abs(sin)*hl + math.Abs(cos)*hw
	x0 := int32(math.Floor((pos.X - ex - g.originX) / g.tileWidth))
	x1 := int32(math.Floor((pos.X + ex - g.originX) / g.tileWidth))
	y0 := int32(math.Floor((pos.Y - ey - g.originY) / g.tileWidth))
	y1 := int32(math.Floor((pos.Y + ey - g.originY) / g.tileWidth))
	if x1 < 0 || y1 < 0 || x0 >= g.cols || y0 >= g.rows {
		return nil
	}
	x0 = lo.Clamp(x0, 0, g.cols-1)
	x1 = lo.Clamp(x1, 0, g.cols-1)
	y0 = lo.Clamp(y0, 0, g.rows-1)
	y1 = lo.Clamp(y1, 0, g.rows-1)
	idxs := make([]int32, 0, (x1-x0+1)*(y1-y0+1))
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			idxs = append(idxs, y*g.cols+x)
		}
	}
	return idxs
}

// willWork 判断预约能否使用指定时空瓦片
// 说明：空闲、自身持有或同序列持有均可用；同序列车辆在同一车道上
// 前后跟驰，时序由进入计划保证
func (g *Tiling) willWork(t int32, idx int32, res *Reservation) bool {
	layer := g.layerAt(t)
	if layer == nil {
		return false
	}
	holder := layer[idx].reservedBy
	return holder == nil || holder == res || res.sameSequence(holder)
}

// ConfirmReservation 原子确认一个请求序列
// 参数：res-序列首个预约（经CheckRequest验证），in-发起请求的道路车道
// 算法说明：
// 1. 沿Dependency链逐车提交占用计划；提交时瓦片被其他预约持有
//    说明管理器未遵守先查后确认协议，直接panic（绝不静默覆盖）
// 2. 为每辆车设置许可并加入排队集合
// 3. 把序列末车的车尾进入计划登记为车道的最近确认计划
func (g *Tiling) ConfirmReservation(res *Reservation, in entity.ILane) {
	if res.Confirmed {
		log.Panicf("tiling: reservation %v confirmed twice", res)
	}
	last := res
	for r := res; r != nil; r = r.Dependency {
		for t, idxs := range r.Tiles {
			layer := g.layerAt(t)
			if layer == nil {
				log.Panicf("tiling: confirm expired layer %d (now %d)", t, g.t0)
			}
			for _, idx := range idxs {
				if holder := layer[idx].reservedBy; holder != nil && !r.sameSequence(holder) {
					log.Panicf("tiling: confirm on held tile (%d, %d): holder %v, claimer %v",
						t, idx, holder, r)
				}
				layer[idx].reservedBy = r
			}
		}
		r.Confirmed = true
		r.Vehicle.SetPermission(true)
		g.queued[r.Vehicle.ID()] = r
		last = r
	}
	if last.EntranceRear == nil {
		log.Panicf("tiling: confirm without rear entrance: %v", last)
	}
	in.RegisterLatestScheduledExit(last.EntranceRear)
}

// StartReservation 车头进入路口，预约从排队转为激活
func (g *Tiling) StartReservation(v entity.IVehicle) {
	res, ok := g.queued[v.ID()]
	if !ok {
		log.Panicf("tiling: vehicle %d enters intersection without reservation", v.ID())
	}
	delete(g.queued, v.ID())
	g.active[v.ID()] = res
}

// ClearReservation 车尾离开路口，预约生命周期结束
func (g *Tiling) ClearReservation(v entity.IVehicle) {
	if _, ok := g.active[v.ID()]; !ok {
		log.Panicf("tiling: vehicle %d exits intersection without active reservation", v.ID())
	}
	delete(g.active, v.ID())
	v.SetPermission(false)
}

// exitResTimestepsForward 离开后继续缓冲占用的步数
// 说明：0.3秒基础间隔，高速（>15米/秒）每超出1米/秒再加0.2秒
func (g *Tiling) exitResTimestepsForward(v float64) int32 {
	dt := g.ctx.Clock().DT
	return int32(math.Ceil((0.3 + math.Max(0, v-15)*0.2) / dt))
}

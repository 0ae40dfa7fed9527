package intersection

import (
	"fmt"
	"sort"

	"git.fiblab.net/general/common/v2/geometry"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/aimsim-oss/entity"
	"github.com/tsinghua-fib-lab/aimsim-oss/entity/intersection/tiling"
	"github.com/tsinghua-fib-lab/aimsim-oss/entity/lane"
	"github.com/tsinghua-fib-lab/aimsim-oss/utils/config"
)

// Manager 路口管理器
// 功能：根据配置创建路口、路口内车道与瓦片账本，完成进出车道接线
type Manager struct {
	ctx entity.ITaskContext

	intersections map[int32]*Intersection
	sorted        []entity.IIntersection // 按ID升序
}

func NewManager(ctx entity.ITaskContext) *Manager {
	return &Manager{
		ctx:           ctx,
		intersections: make(map[int32]*Intersection),
	}
}

// Init 根据配置创建所有路口
// 说明：任何接线错误（道路/车道下标越界、signal策略缺信号周期、
// 未知策略名）都在此处panic，绝不带病进入仿真循环
func (m *Manager) Init(xcs []config.Intersection, roadManager entity.IRoadManager, laneManager *lane.Manager) {
	for _, xc := range xcs {
		if _, ok := m.intersections[xc.ID]; ok {
			log.Panicf("intersection: duplicated intersection id %d", xc.ID)
		}
		x := &Intersection{
			ctx:       m.ctx,
			id:        xc.ID,
			movements: make(map[movementKey]entity.ILane),
		}
		incomingSet := make(map[int32]entity.ILane)
		for mi, mc := range xc.Movements {
			inLane := m.roadLane(roadManager, xc.ID, mc.InRoad, mc.InLane)
			outLane := m.roadLane(roadManager, xc.ID, mc.OutRoad, mc.OutLane)
			maxV := mc.MaxV
			if maxV <= 0 {
				maxV = inLane.MaxV()
			}
			var line []geometry.Point
			if len(mc.Centerline) >= 2 {
				line = lo.Map(mc.Centerline, func(p config.Point, _ int) geometry.Point {
					return geometry.Point{X: p.X, Y: p.Y}
				})
			} else {
				// 默认取进入车道终点与驶出车道起点的连线
				inLine, outLine := inLane.Line(), outLane.Line()
				line = []geometry.Point{inLine[len(inLine)-1], outLine[0]}
			}
			il := laneManager.NewIntersectionLane(line, maxV, inLane.Width())
			il.SetParentIntersectionWhenInit(x)
			il.SetUniqueSuccessorWhenInit(outLane)
			inLane.SetEndIntersectionWhenInit(x)
			key := movementKey{inLane: inLane.ID(), outRoad: mc.OutRoad}
			if _, ok := x.movements[key]; ok {
				log.Panicf("intersection %d: duplicated movement %d (lane %d -> road %d)",
					xc.ID, mi, inLane.ID(), mc.OutRoad)
			}
			x.movements[key] = il
			x.lanes = append(x.lanes, il)
			incomingSet[inLane.ID()] = inLane
		}
		x.incoming = lo.Values(incomingSet)
		sort.Slice(x.incoming, func(i, j int) bool { return x.incoming[i].ID() < x.incoming[j].ID() })

		cycle := m.buildCycle(xc, roadManager)
		x.grid = tiling.New(m.ctx, x.lanes, xc.TileWidth, xc.Buffer,
			m.ctx.RuntimeConfig().C.CheckTimeout, cycle)
		x.policy = m.buildPolicy(xc, cycle)
		m.intersections[xc.ID] = x
	}
	m.sorted = lo.Map(lo.Keys(m.intersections), func(id int32, _ int) entity.IIntersection {
		return m.intersections[id]
	})
	sort.Slice(m.sorted, func(i, j int) bool { return m.sorted[i].ID() < m.sorted[j].ID() })
}

func (m *Manager) roadLane(roadManager entity.IRoadManager, xid, roadID int32, laneIdx int) entity.ILane {
	r, err := roadManager.GetOrError(roadID)
	if err != nil {
		log.Panicf("intersection %d: %v", xid, err)
	}
	if laneIdx < 0 || laneIdx >= len(r.Lanes()) {
		log.Panicf("intersection %d: road %d has no lane %d", xid, roadID, laneIdx)
	}
	return r.Lanes()[laneIdx]
}

// buildCycle 根据配置构造信号周期
func (m *Manager) buildCycle(xc config.Intersection, roadManager entity.IRoadManager) []tiling.Phase {
	if len(xc.Cycle) == 0 {
		return nil
	}
	return lo.Map(xc.Cycle, func(pc config.SignalPhase, pi int) tiling.Phase {
		if pc.Duration <= 0 {
			log.Panicf("intersection %d: phase %d has bad duration %d", xc.ID, pi, pc.Duration)
		}
		laneSet := make(map[int32]entity.ILane)
		for _, mi := range pc.Movements {
			if mi < 0 || mi >= len(xc.Movements) {
				log.Panicf("intersection %d: phase %d references movement %d out of range", xc.ID, pi, mi)
			}
			mc := xc.Movements[mi]
			in := m.roadLane(roadManager, xc.ID, mc.InRoad, mc.InLane)
			laneSet[in.ID()] = in
		}
		lanes := lo.Values(laneSet)
		sort.Slice(lanes, func(i, j int) bool { return lanes[i].ID() < lanes[j].ID() })
		return tiling.Phase{Duration: pc.Duration, Lanes: lanes}
	})
}

// buildPolicy 根据配置选择调度策略
func (m *Manager) buildPolicy(xc config.Intersection, cycle []tiling.Phase) IPolicy {
	switch xc.Policy {
	case "fcfs", "":
		return &fcfsPolicy{}
	case "signal":
		if len(cycle) == 0 {
			log.Panicf("intersection %d: signal policy without cycle", xc.ID)
		}
		return &fcfsPolicy{signalGated: true}
	case "auction":
		return &auctionPolicy{}
	default:
		log.Panicf("intersection %d: unknown policy %q", xc.ID, xc.Policy)
		return nil
	}
}

// ValidateRoute 校验途经道路序列的连通性
// 说明：每对相邻道路之间必须存在对应转向，否则途经车辆会在接缝前
// 永久等待并堵死车道；配置错误在此处panic，绝不带病进入仿真循环
func (m *Manager) ValidateRoute(route []int32, roadManager entity.IRoadManager) {
	for i := 0; i+1 < len(route); i++ {
		r, err := roadManager.GetOrError(route[i])
		if err != nil {
			log.Panicf("intersection: route %v: %v", route, err)
		}
		ok := false
		for _, l := range r.Lanes() {
			x := l.EndIntersection()
			if x == nil {
				continue
			}
			xx, found := m.intersections[x.ID()]
			if !found {
				continue
			}
			if _, found := xx.movements[movementKey{inLane: l.ID(), outRoad: route[i+1]}]; found {
				ok = true
				break
			}
		}
		if !ok {
			log.Panicf("intersection: route %v has no movement from road %d to road %d",
				route, route[i], route[i+1])
		}
	}
}

// Get 输入Intersection ID，查找Intersection，如果不存在则panic
func (m *Manager) Get(id int32) entity.IIntersection {
	x, err := m.GetOrError(id)
	if err != nil {
		log.Panic(err)
	}
	return x
}

// GetOrError 输入Intersection ID，查找Intersection，如果不存在则返回error
func (m *Manager) GetOrError(id int32) (entity.IIntersection, error) {
	if x, ok := m.intersections[id]; ok {
		return x, nil
	}
	return nil, fmt.Errorf("intersection: no intersection %d", id)
}

// Intersections 获取所有Intersection（按ID升序）
func (m *Manager) Intersections() []entity.IIntersection {
	return m.sorted
}

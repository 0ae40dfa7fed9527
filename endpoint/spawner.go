package endpoint

import (
	"math"

	"github.com/samber/lo"

	"github.com/tsinghua-fib-lab/aimsim-oss/entity"
	"github.com/tsinghua-fib-lab/aimsim-oss/utils/config"
	"github.com/tsinghua-fib-lab/aimsim-oss/utils/randengine"
)

// pendingVehicle 等待入网的车辆
type pendingVehicle struct {
	attr  entity.VehicleAttr
	route []int32
}

// Spawner 车辆生成器
// 功能：在指定道路起点按泊松到达生成车辆；道路没有足够空间时
// 进入FIFO等待队列，空间腾出后按到达顺序入网
// 说明：每个生成器持有独立种子的随机数引擎，生成顺序与
// 道路/模板/路径抽取全部可复现
type Spawner struct {
	ctx entity.ITaskContext

	road      entity.IRoad
	rate      float64 // 平均生成率（辆/秒）
	templates []config.SpawnTemplate
	weights   []float64 // 模板权重

	engine  *randengine.Engine
	pending []pendingVehicle
}

// NewSpawner 创建车辆生成器
// 参数：sc-生成器配置，index-生成器序号（用于错开随机数种子）
func NewSpawner(ctx entity.ITaskContext, sc config.Spawner, index int) *Spawner {
	r, err := ctx.RoadManager().GetOrError(sc.Road)
	if err != nil {
		log.Panicf("endpoint: spawner %d: %v", index, err)
	}
	if sc.Rate < 0 {
		log.Panicf("endpoint: spawner %d: bad rate %v", index, sc.Rate)
	}
	if len(sc.Templates) == 0 {
		log.Panicf("endpoint: spawner %d has no templates", index)
	}
	for ti, tc := range sc.Templates {
		if len(tc.Routes) == 0 {
			log.Panicf("endpoint: spawner %d template %d has no routes", index, ti)
		}
		for ri, rc := range tc.Routes {
			if len(rc.Roads) == 0 || rc.Roads[0] != sc.Road {
				log.Panicf("endpoint: spawner %d template %d route %d must start at road %d",
					index, ti, ri, sc.Road)
			}
		}
	}
	seed := ctx.RuntimeConfig().All.Control.Seed
	return &Spawner{
		ctx:       ctx,
		road:      r,
		rate:      sc.Rate,
		templates: sc.Templates,
		weights: lo.Map(sc.Templates, func(tc config.SpawnTemplate, _ int) float64 {
			return tc.Weight
		}),
		engine: randengine.New(seed + uint64(index)),
	}
}

// Step 每个仿真步的生成逻辑
// 算法说明：
// 1. 以概率rate*dt抽取本步是否到达一辆新车，到达则抽取模板与路径
// 2. 按到达顺序尝试把等待队列头部的车辆放入空间最充裕的车道，
//    队头放不下则本步不再尝试（保持FIFO）
func (s *Spawner) Step() {
	dt := s.ctx.Clock().DT
	if s.rate > 0 && s.engine.PTrue(math.Min(s.rate*dt, 1)) {
		tc := s.templates[s.engine.DiscreteDistribution(s.weights)]
		rc := tc.Routes[s.engine.DiscreteDistribution(lo.Map(tc.Routes, func(r config.Route, _ int) float64 {
			return r.Weight
		}))]
		s.pending = append(s.pending, pendingVehicle{
			attr: entity.VehicleAttr{
				Length:     tc.Attribute.Length,
				Width:      tc.Attribute.Width,
				MaxV:       tc.Attribute.MaxV,
				MaxA:       tc.Attribute.MaxA,
				MaxBraking: tc.Attribute.MaxBraking,
				Vot:        tc.Attribute.Vot,
			},
			route: rc.Roads,
		})
	}
	for len(s.pending) > 0 {
		if !s.trySpawn(s.pending[0]) {
			break
		}
		s.pending = s.pending[1:]
	}
}

// trySpawn 尝试将一辆车放入道路起点
// 返回：false表示所有车道都没有容纳整个车身的空间
func (s *Spawner) trySpawn(p pendingVehicle) bool {
	var best entity.ILane
	bestRoom := p.attr.Length
	for _, l := range s.road.Lanes() {
		if room := l.RoomToEnter(); room >= bestRoom {
			best, bestRoom = l, room
		}
	}
	if best == nil {
		return false
	}
	v0 := math.Min(best.MaxV(), p.attr.MaxV)
	v := s.ctx.VehicleManager().NewVehicle(p.attr, p.route, v0)
	best.EnterVehicleSection(v, entity.SectionFront, p.attr.Length)
	best.EnterVehicleSection(v, entity.SectionCenter, p.attr.Length/2)
	best.EnterVehicleSection(v, entity.SectionRear, 0)
	return true
}

// PendingCount 等待入网的车辆数
func (s *Spawner) PendingCount() int {
	return len(s.pending)
}

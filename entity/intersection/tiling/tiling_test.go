package tiling_test

import (
	"testing"

	"git.fiblab.net/general/common/v2/geometry"
	"github.com/stretchr/testify/assert"

	"github.com/tsinghua-fib-lab/aimsim-oss/clock"
	"github.com/tsinghua-fib-lab/aimsim-oss/entity"
	"github.com/tsinghua-fib-lab/aimsim-oss/entity/intersection/tiling"
	"github.com/tsinghua-fib-lab/aimsim-oss/entity/lane"
	"github.com/tsinghua-fib-lab/aimsim-oss/entity/vehicle"
	"github.com/tsinghua-fib-lab/aimsim-oss/utils/config"
)

// testCtx 测试用上下文，仅提供时钟与配置
type testCtx struct {
	clk *clock.Clock
	rc  *config.RuntimeConfig
}

func newTestCtx(dt float64) *testCtx {
	return &testCtx{
		clk: clock.New(config.ControlStep{Start: 0, Total: 1000, Interval: dt}),
		rc:  config.NewRuntimeConfig(config.Config{}),
	}
}

func (c *testCtx) Clock() *clock.Clock                               { return c.clk }
func (c *testCtx) LaneManager() entity.ILaneManager                 { return nil }
func (c *testCtx) RoadManager() entity.IRoadManager                 { return nil }
func (c *testCtx) IntersectionManager() entity.IIntersectionManager { return nil }
func (c *testCtx) VehicleManager() entity.IVehicleManager           { return nil }
func (c *testCtx) RuntimeConfig() *config.RuntimeConfig             { return c.rc }

// stubRoad 测试用道路
type stubRoad struct{ id int32 }

func (r *stubRoad) String() string                        { return "stubRoad" }
func (r *stubRoad) ID() int32                             { return r.id }
func (r *stubRoad) Lanes() []entity.ILane                 { return nil }
func (r *stubRoad) AddTransfer(tf entity.VehicleTransfer) {}
func (r *stubRoad) ProcessBuffer()                        {}

// stubIntersection 测试用路口，转向解析固定返回il
type stubIntersection struct {
	id int32
	il entity.ILane
}

func (x *stubIntersection) String() string            { return "stubIntersection" }
func (x *stubIntersection) ID() int32                 { return x.id }
func (x *stubIntersection) Lanes() []entity.ILane     { return []entity.ILane{x.il} }
func (x *stubIntersection) IncomingLanes() []entity.ILane { return nil }
func (x *stubIntersection) LaneForMovement(in entity.ILane, v entity.IVehicle) entity.ILane {
	return x.il
}
func (x *stubIntersection) AddTransfer(tf entity.VehicleTransfer) {}
func (x *stubIntersection) ProcessBuffer()                        {}
func (x *stubIntersection) UpdateSchedule()                       {}
func (x *stubIntersection) ProcessRequests()                      {}
func (x *stubIntersection) OnVehicleEntered(v entity.IVehicle)    {}
func (x *stubIntersection) OnVehicleExited(v entity.IVehicle)     {}

var testAttr = entity.VehicleAttr{
	Length:     4,
	Width:      2,
	MaxV:       20,
	MaxA:       2,
	MaxBraking: -4,
	Vot:        1,
}

// fixture 单转向路口的完整接线：进入车道 -> 路口内车道 -> 驶出车道
type fixture struct {
	ctx *testCtx
	vm  *vehicle.Manager
	in  *lane.Lane
	il  *lane.Lane
	out *lane.Lane
	g   *tiling.Tiling
}

func newFixture(t *testing.T) *fixture {
	return newFixtureTimeout(t, 600)
}

func newFixtureTimeout(t *testing.T, timeout int32) *fixture {
	ctx := newTestCtx(1)
	lm := lane.NewManager(ctx)
	in := lm.NewRoadLane([]geometry.Point{{X: 0, Y: 0}, {X: 100, Y: 0}}, 10, 3.5)
	il := lm.NewIntersectionLane([]geometry.Point{{X: 100, Y: 0}, {X: 120, Y: 0}}, 10, 3.5)
	out := lm.NewRoadLane([]geometry.Point{{X: 120, Y: 0}, {X: 220, Y: 0}}, 10, 3.5)
	x := &stubIntersection{id: 1, il: il}
	in.SetParentRoadWhenInit(&stubRoad{id: 1})
	out.SetParentRoadWhenInit(&stubRoad{id: 2})
	in.SetEndIntersectionWhenInit(x)
	il.SetParentIntersectionWhenInit(x)
	il.SetUniqueSuccessorWhenInit(out)
	g := tiling.New(ctx, []entity.ILane{il}, 2, 0.1, timeout, nil)
	return &fixture{ctx: ctx, vm: vehicle.NewManager(ctx), in: in, il: il, out: out, g: g}
}

func (f *fixture) addVehicle(frontS, v0 float64) entity.IVehicle {
	v := f.vm.NewVehicle(testAttr, []int32{1, 2}, v0)
	f.in.EnterVehicleSection(v, entity.SectionFront, frontS)
	f.in.EnterVehicleSection(v, entity.SectionCenter, frontS-v.Length()/2)
	f.in.EnterVehicleSection(v, entity.SectionRear, frontS-v.Length())
	return v
}

// collectTiles 预约链的全部(步, 瓦片)占用
func collectTiles(res *tiling.Reservation) map[[2]int32]bool {
	set := make(map[[2]int32]bool)
	for r := res; r != nil; r = r.Dependency {
		for t, idxs := range r.Tiles {
			for _, idx := range idxs {
				set[[2]int32{t, idx}] = true
			}
		}
	}
	return set
}

// TestCheckRequestSingleVehicle 空路口下单车请求可行
func TestCheckRequestSingleVehicle(t *testing.T) {
	f := newFixture(t)
	v := f.addVehicle(50, 5)

	res := f.g.CheckRequest(f.in)
	assert.NotNil(t, res)
	assert.Equal(t, v.ID(), res.Vehicle.ID())
	assert.Nil(t, res.Dependency)
	// 推演不修改真实状态
	assert.False(t, v.HasPermission())
	assert.Equal(t, 1, f.in.VehicleCount())
	assert.Equal(t, 0, f.il.VehicleCount())
	assert.Equal(t, 0, f.out.VehicleCount())

	assert.NotNil(t, res.EntranceFront)
	assert.NotNil(t, res.EntranceRear)
	assert.NotNil(t, res.Exit)
	assert.GreaterOrEqual(t, res.EntranceRear.T, res.EntranceFront.T)
	assert.Greater(t, res.Exit.T, res.EntranceFront.T)
	assert.NotEmpty(t, res.Tiles)

	f.g.ConfirmReservation(res, f.in)
	assert.True(t, res.Confirmed)
	assert.True(t, v.HasPermission())
	assert.Equal(t, res.EntranceRear, f.in.LatestScheduledExit())
}

// TestCheckRequestPlatoon 同转向连续车辆整体推演、整体确认
func TestCheckRequestPlatoon(t *testing.T) {
	f := newFixture(t)
	v1 := f.addVehicle(50, 5)
	v2 := f.addVehicle(40, 4)

	res := f.g.CheckRequest(f.in)
	assert.NotNil(t, res)
	assert.Equal(t, v1.ID(), res.Vehicle.ID())
	assert.NotNil(t, res.Dependency)
	assert.Equal(t, v2.ID(), res.Dependency.Vehicle.ID())
	assert.Equal(t, res, res.Dependency.DependentOn)
	// 后车不得早于前车车尾进入的下一步，且进入速度受前车
	// 车尾进入后按保证加速度外推的速度包络约束
	lead, follow := res.EntranceRear, res.Dependency.EntranceFront
	assert.GreaterOrEqual(t, follow.T, lead.T+1)
	dt := f.ctx.clk.DT
	assert.LessOrEqual(t, follow.V, lead.V+testAttr.MaxA*float64(follow.T-lead.T)*dt+1e-9)

	f.g.ConfirmReservation(res, f.in)
	assert.True(t, v1.HasPermission())
	assert.True(t, v2.HasPermission())
	// 登记的是序列末车的车尾进入计划
	assert.Equal(t, res.Dependency.EntranceRear, f.in.LatestScheduledExit())
}

// TestCheckRequestTruncatesToPrefix 推演超时截断后车，保留最大可行前缀
func TestCheckRequestTruncatesToPrefix(t *testing.T) {
	// 推演步数上限只够前车驶离路口（第8步离开，第9步才轮到后车）
	f := newFixtureTimeout(t, 7)
	v1 := f.addVehicle(50, 5)
	v2 := f.addVehicle(40, 4)

	res := f.g.CheckRequest(f.in)
	assert.NotNil(t, res)
	assert.Equal(t, v1.ID(), res.Vehicle.ID())
	// 后车的预约从链上摘除
	assert.Nil(t, res.Dependency)
	assert.NotNil(t, res.Exit)
	// 截断不留痕：两车都未授权，真实车道状态不变
	assert.False(t, v1.HasPermission())
	assert.False(t, v2.HasPermission())
	assert.Equal(t, 2, f.in.VehicleCount())
	assert.Equal(t, 0, f.il.VehicleCount())

	// 前缀可正常确认
	f.g.ConfirmReservation(res, f.in)
	assert.True(t, v1.HasPermission())
	assert.False(t, v2.HasPermission())
	assert.Equal(t, res.EntranceRear, f.in.LatestScheduledExit())
}

// TestReservationsNeverOverlap 不同预约序列的瓦片占用互斥
func TestReservationsNeverOverlap(t *testing.T) {
	f := newFixture(t)
	f.addVehicle(50, 5)
	res1 := f.g.CheckRequest(f.in)
	assert.NotNil(t, res1)
	f.g.ConfirmReservation(res1, f.in)

	// 第二辆车远在后方，进入计划与前车错开
	f.addVehicle(20, 0)
	res2 := f.g.CheckRequest(f.in)
	assert.NotNil(t, res2)
	tiles1 := collectTiles(res1)
	for key := range collectTiles(res2) {
		assert.False(t, tiles1[key], "tile (%d, %d) granted twice", key[0], key[1])
	}
	f.g.ConfirmReservation(res2, f.in)
}

// TestRejectTooCloseBehindConfirmed 紧随已确认车辆的请求因瓦片冲突被拒
func TestRejectTooCloseBehindConfirmed(t *testing.T) {
	f := newFixture(t)
	f.addVehicle(50, 5)
	res1 := f.g.CheckRequest(f.in)
	assert.NotNil(t, res1)
	f.g.ConfirmReservation(res1, f.in)

	// 后车的进入缓冲与前车的接缝占用重叠，整体不可行
	v2 := f.addVehicle(40, 5)
	res2 := f.g.CheckRequest(f.in)
	assert.Nil(t, res2)
	assert.False(t, v2.HasPermission())
	// 拒绝不留痕：真实车道状态不变
	assert.Equal(t, 2, f.in.VehicleCount())
	assert.Equal(t, 0, f.il.VehicleCount())
}

// TestConfirmOnHeldTilePanics 已被持有的瓦片绝不静默覆盖
func TestConfirmOnHeldTilePanics(t *testing.T) {
	f := newFixture(t)
	f.addVehicle(50, 5)
	res1 := f.g.CheckRequest(f.in)
	assert.NotNil(t, res1)
	f.g.ConfirmReservation(res1, f.in)

	// 重复确认
	assert.Panics(t, func() { f.g.ConfirmReservation(res1, f.in) })

	// 伪造一个占用同一瓦片的预约
	var heldT, heldIdx int32 = -1, -1
	for tt, idxs := range res1.Tiles {
		heldT, heldIdx = tt, idxs[0]
		break
	}
	v2 := f.vm.NewVehicle(testAttr, []int32{1, 2}, 0)
	bad := &tiling.Reservation{
		Vehicle:      v2,
		Lane:         f.il,
		EntranceRear: &entity.ScheduledExit{Vehicle: v2, Section: entity.SectionRear, T: heldT, V: 5},
		Tiles:        map[int32][]int32{heldT: {heldIdx}},
	}
	assert.Panics(t, func() { f.g.ConfirmReservation(bad, f.in) })
}

// TestConfirmOnExpiredLayerPanics 占用层随真实步滚动过期
func TestConfirmOnExpiredLayerPanics(t *testing.T) {
	f := newFixture(t)
	v := f.vm.NewVehicle(testAttr, []int32{1, 2}, 0)
	res := &tiling.Reservation{
		Vehicle:      v,
		Lane:         f.il,
		EntranceRear: &entity.ScheduledExit{Vehicle: v, Section: entity.SectionRear, T: 1, V: 5},
		Tiles:        map[int32][]int32{1: {0}},
	}
	f.g.UpdateSchedule(1)
	f.g.UpdateSchedule(2)
	// 步1的占用层已过期
	assert.Panics(t, func() { f.g.ConfirmReservation(res, f.in) })
}

// TestReservationLifecycle 排队->激活->清除的生命周期
func TestReservationLifecycle(t *testing.T) {
	f := newFixture(t)
	v := f.addVehicle(50, 5)
	res := f.g.CheckRequest(f.in)
	assert.NotNil(t, res)
	f.g.ConfirmReservation(res, f.in)

	f.g.StartReservation(v)
	f.g.ClearReservation(v)
	assert.False(t, v.HasPermission())
	// 重复清除
	assert.Panics(t, func() { f.g.ClearReservation(v) })
	// 无预约进入路口
	stranger := f.vm.NewVehicle(testAttr, []int32{1, 2}, 0)
	assert.Panics(t, func() { f.g.StartReservation(stranger) })
}

// TestSignalCycle 信号周期按步滚动
func TestSignalCycle(t *testing.T) {
	ctx := newTestCtx(1)
	lm := lane.NewManager(ctx)
	inA := lm.NewRoadLane([]geometry.Point{{X: 0, Y: 0}, {X: 100, Y: 0}}, 10, 3.5)
	inB := lm.NewRoadLane([]geometry.Point{{X: 110, Y: -100}, {X: 110, Y: 0}}, 10, 3.5)
	il := lm.NewIntersectionLane([]geometry.Point{{X: 100, Y: 0}, {X: 120, Y: 0}}, 10, 3.5)
	cycle := []tiling.Phase{
		{Duration: 2, Lanes: []entity.ILane{inA}},
		{Duration: 2, Lanes: []entity.ILane{inB}},
	}
	g := tiling.New(ctx, []entity.ILane{il}, 2, 0.1, 600, cycle)

	assert.True(t, g.LaneIsGreen(inA))
	assert.False(t, g.LaneIsGreen(inB))
	g.UpdateSchedule(1)
	assert.True(t, g.LaneIsGreen(inA))
	g.UpdateSchedule(2)
	// 相位切换
	assert.False(t, g.LaneIsGreen(inA))
	assert.True(t, g.LaneIsGreen(inB))
	g.UpdateSchedule(3)
	g.UpdateSchedule(4)
	// 周期循环
	assert.True(t, g.LaneIsGreen(inA))

	// 无信号周期时全放行
	g2 := tiling.New(ctx, []entity.ILane{il}, 2, 0.1, 600, nil)
	assert.True(t, g2.LaneIsGreen(inA))
	assert.True(t, g2.LaneIsGreen(inB))
}

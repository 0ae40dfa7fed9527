package lane

import (
	"testing"

	"git.fiblab.net/general/common/v2/geometry"
	"github.com/stretchr/testify/assert"

	"github.com/tsinghua-fib-lab/aimsim-oss/clock"
	"github.com/tsinghua-fib-lab/aimsim-oss/entity"
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

// stubRoad 测试用道路，仅提供ID
type stubRoad struct{ id int32 }

func (r *stubRoad) String() string                        { return "stubRoad" }
func (r *stubRoad) ID() int32                             { return r.id }
func (r *stubRoad) Lanes() []entity.ILane                 { return nil }
func (r *stubRoad) AddTransfer(tf entity.VehicleTransfer) {}
func (r *stubRoad) ProcessBuffer()                        {}

// stubIntersection 测试用下游路口，转向解析固定返回nil
type stubIntersection struct{ id int32 }

func (x *stubIntersection) String() string            { return "stubIntersection" }
func (x *stubIntersection) ID() int32                 { return x.id }
func (x *stubIntersection) Lanes() []entity.ILane     { return nil }
func (x *stubIntersection) IncomingLanes() []entity.ILane { return nil }
func (x *stubIntersection) LaneForMovement(in entity.ILane, v entity.IVehicle) entity.ILane {
	return nil
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
}

func newTestVehicle(vm *vehicle.Manager, v0 float64) entity.IVehicle {
	return vm.NewVehicle(testAttr, []int32{1, 2}, v0)
}

func straightLane(ctx entity.ITaskContext, length, maxV float64) *Lane {
	m := NewManager(ctx)
	return m.NewRoadLane([]geometry.Point{{X: 0, Y: 0}, {X: length, Y: 0}}, maxV, 3.5)
}

func enterWhole(l *Lane, v entity.IVehicle, frontS float64) {
	l.EnterVehicleSection(v, entity.SectionFront, frontS)
	l.EnterVehicleSection(v, entity.SectionCenter, frontS-v.Length()/2)
	l.EnterVehicleSection(v, entity.SectionRear, frontS-v.Length())
}

func TestEnterAndProgress(t *testing.T) {
	ctx := newTestCtx(1)
	l := straightLane(ctx, 100, 10)
	v := newTestVehicle(vehicle.NewManager(ctx), 5)

	// 车头必须先进入
	assert.Panics(t, func() { l.EnterVehicleSection(v, entity.SectionRear, 0) })
	enterWhole(l, v, 4)
	// 重复进入
	assert.Panics(t, func() { l.EnterVehicleSection(v, entity.SectionFront, 4) })
	assert.Equal(t, 1, l.VehicleCount())

	prog := l.LastVehicle().Extra
	assert.InDelta(t, 0.04, (*prog)[entity.SectionFront].P, 1e-12)
	assert.InDelta(t, 0.0, (*prog)[entity.SectionRear].P, 1e-12)

	tfs := l.StepVehicles(1)
	assert.Empty(t, tfs)
	assert.InDelta(t, 0.09, (*prog)[entity.SectionFront].P, 1e-12)
	assert.InDelta(t, 9.0, l.LastVehicle().S, 1e-12)
}

// TestTransferAtExactEnd 进度恰好为1视为越过终点
func TestTransferAtExactEnd(t *testing.T) {
	ctx := newTestCtx(1)
	l := straightLane(ctx, 100, 10)
	v := newTestVehicle(vehicle.NewManager(ctx), 5)
	enterWhole(l, v, 95)

	tfs := l.StepVehicles(1)
	assert.Len(t, tfs, 1)
	assert.Equal(t, entity.SectionFront, tfs[0].Section)
	assert.InDelta(t, 0, tfs[0].DistanceLeft, 1e-12)
	assert.Nil(t, tfs[0].To) // 终点车道
	prog := l.Vehicles().First().Extra
	assert.False(t, (*prog)[entity.SectionFront].In)
	assert.True(t, (*prog)[entity.SectionRear].In)

	// 继续推进直到整车离开，剩余距离随转移带出
	tfs = l.StepVehicles(1)
	assert.Len(t, tfs, 2)
	assert.Equal(t, entity.SectionCenter, tfs[0].Section)
	assert.Equal(t, entity.SectionRear, tfs[1].Section)
	assert.InDelta(t, 3, tfs[0].DistanceLeft, 1e-12)
	assert.InDelta(t, 1, tfs[1].DistanceLeft, 1e-12)
	assert.Equal(t, 0, l.VehicleCount())
}

// TestTwoPhaseConvoy 跟驰车队的两阶段速度更新
func TestTwoPhaseConvoy(t *testing.T) {
	ctx := newTestCtx(1)
	l := straightLane(ctx, 200, 10)
	vm := vehicle.NewManager(ctx)
	leader := newTestVehicle(vm, 0)
	follower := newTestVehicle(vm, 10)
	enterWhole(l, leader, 100)
	enterWhole(l, follower, 90)

	updates := l.GetNewSpeeds(1)
	assert.Len(t, updates, 2)
	// 计算阶段不修改任何车辆状态
	assert.Equal(t, 0.0, leader.V())
	assert.Equal(t, 10.0, follower.V())

	byID := map[int32]entity.SpeedUpdate{}
	for _, u := range updates {
		byID[u.Vehicle.ID()] = u
	}
	// 领头车（终点车道）无竞争，向限速加速
	assert.Equal(t, 2.0, byID[leader.ID()].A)
	// 跟驰车间距6米，前车静止：保持需要10+100/8=22.5米，必须制动
	assert.Equal(t, -4.0, byID[follower.ID()].A)
	for _, u := range updates {
		u.Vehicle.SetVA(u.V, u.A)
	}
	assert.Equal(t, 2.0, leader.V())
	assert.Equal(t, 6.0, follower.V())
}

// TestConvoyNeverCollides 跟驰不追尾
func TestConvoyNeverCollides(t *testing.T) {
	ctx := newTestCtx(0.5)
	l := straightLane(ctx, 2000, 15)
	vm := vehicle.NewManager(ctx)
	leader := newTestVehicle(vm, 0)
	follower := newTestVehicle(vm, 4)
	enterWhole(l, leader, 40)
	enterWhole(l, follower, 30)

	for i := 0; i < 300; i++ {
		for _, u := range l.GetNewSpeeds(0.5) {
			u.Vehicle.SetVA(u.V, u.A)
		}
		l.StepVehicles(0.5)
		if l.VehicleCount() < 2 {
			break
		}
		front := l.Vehicles().First()
		prec := front.Next()
		if prec == nil || !(*prec.Extra)[entity.SectionRear].In {
			break
		}
		rearS := (*prec.Extra)[entity.SectionRear].P * l.Length()
		assert.LessOrEqual(t, front.S, rearS+1e-9)
	}
}

func TestRoomToEnter(t *testing.T) {
	ctx := newTestCtx(1)
	l := straightLane(ctx, 100, 10)
	assert.InDelta(t, 100, l.RoomToEnter(), 1e-12)
	v := newTestVehicle(vehicle.NewManager(ctx), 0)
	enterWhole(l, v, 10)
	assert.InDelta(t, 6, l.RoomToEnter(), 1e-12)
}

// TestSeamCapWithoutPermission 无许可车辆在接缝前停车
func TestSeamCapWithoutPermission(t *testing.T) {
	ctx := newTestCtx(1)
	l := straightLane(ctx, 100, 10)
	l.SetParentRoadWhenInit(&stubRoad{id: 1})
	l.SetEndIntersectionWhenInit(&stubIntersection{id: 1})
	v := newTestVehicle(vehicle.NewManager(ctx), 10)
	enterWhole(l, v, 50)

	for i := 0; i < 100; i++ {
		for _, u := range l.GetNewSpeeds(1) {
			u.Vehicle.SetVA(u.V, u.A)
		}
		tfs := l.StepVehicles(1)
		assert.Empty(t, tfs, "crossed the seam without permission")
	}
	assert.InDelta(t, 0, v.V(), 1e-9)
	assert.Less(t, l.LastVehicle().S, l.Length())
}

func TestVehiclesAwaitingPermission(t *testing.T) {
	ctx := newTestCtx(1)
	l := straightLane(ctx, 100, 10)
	l.SetParentRoadWhenInit(&stubRoad{id: 1})
	l.SetEndIntersectionWhenInit(&stubIntersection{id: 1})

	vm := vehicle.NewManager(ctx)
	head := vm.NewVehicle(testAttr, []int32{1, 2}, 0)
	second := vm.NewVehicle(testAttr, []int32{1, 2}, 0)
	third := vm.NewVehicle(testAttr, []int32{1, 3}, 0) // 不同转向
	enterWhole(l, head, 90)
	enterWhole(l, second, 80)
	enterWhole(l, third, 70)

	// 从队首起的连续同转向无许可车辆
	res := l.VehiclesAwaitingPermission()
	assert.Len(t, res, 2)
	assert.Equal(t, head.ID(), res[0].ID())
	assert.Equal(t, second.ID(), res[1].ID())

	// 队首已持许可则跳过
	head.SetPermission(true)
	res = l.VehiclesAwaitingPermission()
	assert.Len(t, res, 1)
	assert.Equal(t, second.ID(), res[0].ID())
}

func TestSoonestExit(t *testing.T) {
	ctx := newTestCtx(1)
	l := straightLane(ctx, 100, 10)
	v := newTestVehicle(vehicle.NewManager(ctx), 0)
	enterWhole(l, v, 4)

	// 自由流：4米处静止出发，加速到10需5秒行驶25米，
	// 剩余71米匀速7.1秒，共12.1秒
	se := l.SoonestExit(v, 0, nil)
	assert.Equal(t, int32(13), se.T)
	assert.InDelta(t, 10, se.V, 1e-12)

	// 前车进入计划约束：不得早于其下一步，速度受包络截断
	last := &entity.ScheduledExit{T: 20, V: 3}
	se = l.SoonestExit(v, 0, last)
	assert.Equal(t, int32(21), se.T)
	assert.InDelta(t, 5, se.V, 1e-12) // 3 + 2*1*1

	// 车道登记的最近确认计划作为缺省约束
	l.RegisterLatestScheduledExit(last)
	se2 := l.SoonestExit(v, 0, nil)
	assert.Equal(t, se.T, se2.T)
	assert.InDelta(t, se.V, se2.V, 1e-12)
}

// TestCloneIsEmpty 克隆车道不携带车辆与下游接线
func TestCloneIsEmpty(t *testing.T) {
	ctx := newTestCtx(1)
	l := straightLane(ctx, 100, 10)
	l.SetParentRoadWhenInit(&stubRoad{id: 1})
	l.SetEndIntersectionWhenInit(&stubIntersection{id: 1})
	v := newTestVehicle(vehicle.NewManager(ctx), 5)
	enterWhole(l, v, 50)
	l.RegisterLatestScheduledExit(&entity.ScheduledExit{T: 5, V: 3})

	c := l.Clone()
	assert.True(t, c.IsClone())
	assert.False(t, l.IsClone())
	assert.Equal(t, 0, c.VehicleCount())
	assert.Nil(t, c.EndIntersection())
	assert.Nil(t, c.UniqueSuccessor())
	assert.Nil(t, c.LatestScheduledExit())
	assert.InDelta(t, l.Length(), c.Length(), 1e-12)
}

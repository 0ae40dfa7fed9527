package vehicle

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tsinghua-fib-lab/aimsim-oss/entity"
	"github.com/tsinghua-fib-lab/aimsim-oss/utils/container"
)

// Manager 车辆管理器
// 功能：维护在网车辆池与生成/移出守恒计数
// 说明：车辆池的增删通过增量数组延迟到Prepare阶段统一生效
type Manager struct {
	ctx entity.ITaskContext

	vehicles *container.IncrementalArray[*Vehicle] // 在网车辆池
	lookup   map[int32]*Vehicle                    // ID -> Vehicle
	mtx      sync.Mutex                            // lookup与ID分配的互斥锁
	nextID   int32                                 // 下一个分配的车辆ID

	spawned int64 // 累计生成数
	removed int64 // 累计移出数
}

func NewManager(ctx entity.ITaskContext) *Manager {
	return &Manager{
		ctx:      ctx,
		vehicles: container.NewIncrementalArray[*Vehicle](),
		lookup:   make(map[int32]*Vehicle),
	}
}

// Get 输入Vehicle ID，查找Vehicle，如果不存在则panic
func (m *Manager) Get(id int32) entity.IVehicle {
	v, err := m.GetOrError(id)
	if err != nil {
		log.Panic(err)
	}
	return v
}

// GetOrError 输入Vehicle ID，查找Vehicle，如果不存在则返回error
func (m *Manager) GetOrError(id int32) (entity.IVehicle, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if v, ok := m.lookup[id]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("vehicle: no vehicle %d", id)
}

// NewVehicle 创建一辆新车并加入车辆池（Prepare后生效）
func (m *Manager) NewVehicle(attr entity.VehicleAttr, route []int32, v0 float64) entity.IVehicle {
	m.mtx.Lock()
	id := m.nextID
	m.nextID++
	v := newVehicle(m.ctx, id, attr, route, v0)
	m.lookup[id] = v
	m.mtx.Unlock()
	m.vehicles.Add(v)
	atomic.AddInt64(&m.spawned, 1)
	return v
}

// Remove 将车辆移出车辆池（Prepare后生效）
func (m *Manager) Remove(v entity.IVehicle) {
	m.mtx.Lock()
	vv, ok := m.lookup[v.ID()]
	if !ok {
		m.mtx.Unlock()
		log.Panicf("vehicle: remove unknown vehicle %d", v.ID())
	}
	delete(m.lookup, v.ID())
	m.mtx.Unlock()
	m.vehicles.Remove(vv)
	atomic.AddInt64(&m.removed, 1)
}

// Prepare 准备阶段：应用车辆池的增删
func (m *Manager) Prepare() {
	m.vehicles.Prepare()
}

// Vehicles 获取当前在网车辆
func (m *Manager) Vehicles() []*Vehicle {
	return m.vehicles.Data()
}

// SpawnedCount 累计生成数
func (m *Manager) SpawnedCount() int64 {
	return atomic.LoadInt64(&m.spawned)
}

// RemovedCount 累计移出数
func (m *Manager) RemovedCount() int64 {
	return atomic.LoadInt64(&m.removed)
}

// ActiveCount 当前在网车辆数
func (m *Manager) ActiveCount() int {
	return m.vehicles.Len()
}

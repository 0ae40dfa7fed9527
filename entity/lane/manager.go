package lane

import (
	"fmt"

	"git.fiblab.net/general/common/v2/geometry"
	"github.com/tsinghua-fib-lab/aimsim-oss/entity"
)

// Manager 车道管理器
// 功能：创建并索引所有道路车道与路口内车道
// 说明：车道ID按创建顺序分配；克隆车道不入册
type Manager struct {
	ctx entity.ITaskContext

	lanes  map[int32]*Lane
	sorted []entity.ILane // 按创建顺序（即ID升序）
	nextID int32
}

func NewManager(ctx entity.ITaskContext) *Manager {
	return &Manager{
		ctx:   ctx,
		lanes: make(map[int32]*Lane),
	}
}

// NewRoadLane 创建一条道路车道
func (m *Manager) NewRoadLane(line []geometry.Point, maxV, width float64) *Lane {
	l := newLane(m.ctx, m.nextID, line, maxV, width)
	m.nextID++
	m.lanes[l.ID()] = l
	m.sorted = append(m.sorted, l)
	return l
}

// NewIntersectionLane 创建一条路口内车道
// 说明：所在路口与唯一后继由路口初始化时接线
func (m *Manager) NewIntersectionLane(line []geometry.Point, maxV, width float64) *Lane {
	return m.NewRoadLane(line, maxV, width)
}

// Get 输入Lane ID，查找Lane，如果不存在则panic
func (m *Manager) Get(id int32) entity.ILane {
	l, err := m.GetOrError(id)
	if err != nil {
		log.Panic(err)
	}
	return l
}

// GetOrError 输入Lane ID，查找Lane，如果不存在则返回error
func (m *Manager) GetOrError(id int32) (entity.ILane, error) {
	if l, ok := m.lanes[id]; ok {
		return l, nil
	}
	return nil, fmt.Errorf("lane: no lane %d", id)
}

// Lanes 获取所有Lane（按ID升序）
func (m *Manager) Lanes() []entity.ILane {
	return m.sorted
}

package road

import (
	"fmt"
	"sort"

	"git.fiblab.net/general/common/v2/geometry"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/aimsim-oss/entity"
	"github.com/tsinghua-fib-lab/aimsim-oss/entity/lane"
	"github.com/tsinghua-fib-lab/aimsim-oss/utils/config"
)

// Manager 道路管理器
type Manager struct {
	ctx entity.ITaskContext

	roads  map[int32]*Road
	sorted []entity.IRoad // 按ID升序
}

func NewManager(ctx entity.ITaskContext) *Manager {
	return &Manager{
		ctx:   ctx,
		roads: make(map[int32]*Road),
	}
}

// Init 根据配置创建所有道路及其车道
func (m *Manager) Init(rcs []config.Road, laneManager *lane.Manager) {
	for _, rc := range rcs {
		if _, ok := m.roads[rc.ID]; ok {
			log.Panicf("road: duplicated road id %d", rc.ID)
		}
		if len(rc.Lanes) == 0 {
			log.Panicf("road %d: no lanes", rc.ID)
		}
		lanes := lo.Map(rc.Lanes, func(lc config.RoadLane, _ int) entity.ILane {
			line := lo.Map(lc.Centerline, func(p config.Point, _ int) geometry.Point {
				return geometry.Point{X: p.X, Y: p.Y}
			})
			return laneManager.NewRoadLane(line, lc.MaxV, lc.Width)
		})
		m.roads[rc.ID] = newRoad(m.ctx, rc.ID, lanes)
	}
	m.sorted = lo.Map(lo.Keys(m.roads), func(id int32, _ int) entity.IRoad { return m.roads[id] })
	sort.Slice(m.sorted, func(i, j int) bool { return m.sorted[i].ID() < m.sorted[j].ID() })
}

// Get 输入Road ID，查找Road，如果不存在则panic
func (m *Manager) Get(id int32) entity.IRoad {
	r, err := m.GetOrError(id)
	if err != nil {
		log.Panic(err)
	}
	return r
}

// GetOrError 输入Road ID，查找Road，如果不存在则返回error
func (m *Manager) GetOrError(id int32) (entity.IRoad, error) {
	if r, ok := m.roads[id]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("road: no road %d", id)
}

// Roads 获取所有Road（按ID升序）
func (m *Manager) Roads() []entity.IRoad {
	return m.sorted
}

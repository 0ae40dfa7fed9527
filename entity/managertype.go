package entity

// Manager依赖倒置

// entity/lane/manager.go的依赖倒置
type ILaneManager interface {
	// 输入Lane ID，查找Lane，如果不存在则panic
	Get(id int32) ILane
	// 输入Lane ID，查找Lane，如果不存在则返回error
	GetOrError(id int32) (ILane, error)
	// 获取所有Lane（按ID升序）
	Lanes() []ILane
}

// entity/road/manager.go的依赖倒置
type IRoadManager interface {
	// 输入Road ID，查找Road，如果不存在则panic
	Get(id int32) IRoad
	// 输入Road ID，查找Road，如果不存在则返回error
	GetOrError(id int32) (IRoad, error)
	// 获取所有Road（按ID升序）
	Roads() []IRoad
}

// entity/intersection/manager.go的依赖倒置
type IIntersectionManager interface {
	// 输入Intersection ID，查找Intersection，如果不存在则panic
	Get(id int32) IIntersection
	// 输入Intersection ID，查找Intersection，如果不存在则返回error
	GetOrError(id int32) (IIntersection, error)
	// 获取所有Intersection（按ID升序，请求处理按此顺序串行执行）
	Intersections() []IIntersection
}

// entity/vehicle/manager.go的依赖倒置
type IVehicleManager interface {
	// 输入Vehicle ID，查找Vehicle，如果不存在则panic
	Get(id int32) IVehicle
	// 输入Vehicle ID，查找Vehicle，如果不存在则返回error
	GetOrError(id int32) (IVehicle, error)

	// 创建一辆新车并加入车辆池（Prepare后生效）
	NewVehicle(attr VehicleAttr, route []int32, v0 float64) IVehicle
	// 将车辆移出车辆池（Prepare后生效）
	Remove(v IVehicle)

	Prepare() // 准备阶段：应用车辆池的增删

	// 守恒计数
	SpawnedCount() int64 // 累计生成数
	RemovedCount() int64 // 累计移出数
	ActiveCount() int    // 当前在网车辆数
}

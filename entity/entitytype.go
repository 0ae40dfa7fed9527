package entity

import (
	"fmt"

	"git.fiblab.net/general/common/v2/geometry"
	"github.com/tsinghua-fib-lab/aimsim-oss/utils/container"
)

// VehicleSection 车辆分段
// 说明：每辆车沿行进方向分为车头、车身中点、车尾三个跟踪点，
// 各分段独立记录所在车道与进度，从而支持车辆跨车道接缝的状态
type VehicleSection int32

const (
	SectionFront  VehicleSection = iota // 车头
	SectionCenter                       // 车身中点
	SectionRear                         // 车尾
)

// SectionCount 车辆分段数
const SectionCount = 3

func (s VehicleSection) String() string {
	switch s {
	case SectionFront:
		return "front"
	case SectionCenter:
		return "center"
	case SectionRear:
		return "rear"
	default:
		return fmt.Sprintf("section(%d)", int32(s))
	}
}

// SectionProgress 单个分段在某条车道上的状态
type SectionProgress struct {
	In bool    // 分段是否在本车道上
	P  float64 // 分段在本车道上的进度比例[0,1]，恰好为1视为已越过终点
}

// VehicleProgress 车辆三个分段在某条车道上的进度
// 说明：同一车道内满足Front.P >= Center.P >= Rear.P
type VehicleProgress [SectionCount]SectionProgress

// AllOut 判断车辆是否已完全离开本车道
func (p *VehicleProgress) AllOut() bool {
	return !p[SectionFront].In && !p[SectionCenter].In && !p[SectionRear].In
}

func (p *VehicleProgress) String() string {
	return fmt.Sprintf("Progress{front:%v/%.4f, center:%v/%.4f, rear:%v/%.4f}",
		p[SectionFront].In, p[SectionFront].P,
		p[SectionCenter].In, p[SectionCenter].P,
		p[SectionRear].In, p[SectionRear].P)
}

// SpeedUpdate 两阶段速度更新的计算结果
// 说明：计算阶段所有车道只读旧速度产生更新批次，屏障后统一应用
type SpeedUpdate struct {
	Vehicle IVehicle
	V       float64 // 新速度（米/秒）
	A       float64 // 本步采用的加速度（米/秒²）
}

// VehicleTransfer 车辆分段跨车道转移
// 说明：DistanceLeft为越过上游车道终点后在本步内剩余的行驶距离，
// 保证跨接缝时的子步连续性；To为nil表示到达终点道路尽头（移出器）
type VehicleTransfer struct {
	Vehicle      IVehicle
	Section      VehicleSection
	DistanceLeft float64
	From         ILane
	To           ILane
}

func (t VehicleTransfer) String() string {
	return fmt.Sprintf("Transfer{vehicle:%d, section:%v, distanceLeft:%.4f, from:%v, to:%v}",
		t.Vehicle.ID(), t.Section, t.DistanceLeft, t.From, t.To)
}

// ScheduledExit 计划离开事件：某分段在步t以速度V到达车道终点
type ScheduledExit struct {
	Vehicle IVehicle
	Section VehicleSection
	T       int32   // 到达终点的步数
	V       float64 // 到达时速度（米/秒）
}

func (e *ScheduledExit) String() string {
	return fmt.Sprintf("ScheduledExit{vehicle:%d, section:%v, t:%d, v:%.4f}",
		e.Vehicle.ID(), e.Section, e.T, e.V)
}

// VehicleAttr 车辆静态属性
type VehicleAttr struct {
	Length     float64 // 车长（米）
	Width      float64 // 车宽（米）
	MaxV       float64 // 最大速度（米/秒）
	MaxA       float64 // 保证可达的最大加速度（米/秒²）
	MaxBraking float64 // 保证可达的最大制动加速度（米/秒²，负值）
	Vot        float64 // 时间价值，拍卖策略中作为出价权重
}

// 车辆链表节点类型，S为车头沿车道里程，Extra为车辆分段进度
type VehicleNode = container.ListNode[IVehicle, *VehicleProgress]

// 车辆链表类型
type VehicleList = container.List[IVehicle, *VehicleProgress]

// entity/vehicle/vehicle.go的依赖倒置
type IVehicle interface {
	String() string

	// 静态属性

	ID() int32           // 获取车辆ID
	Attr() *VehicleAttr  // 获取车辆静态属性
	Length() float64     // 获取车长
	Width() float64      // 获取车宽
	MaxV() float64       // 获取最大速度
	MaxA() float64       // 获取保证最大加速度
	MaxBraking() float64 // 获取保证最大制动加速度（负值）
	Vot() float64        // 获取时间价值

	// 运行时状态

	V() float64                               // 获取当前速度
	A() float64                               // 获取当前加速度
	SetVA(v, a float64)                       // 应用速度更新（两阶段协议的应用阶段）
	XYZ() geometry.Point                      // 获取车身中点坐标
	Heading() float64                         // 获取朝向角
	SetPose(pos geometry.Point, dir float64)  // 设置车身中点坐标与朝向角
	LateralDeviation() float64                // 获取相对中心线的横向偏移
	StoppingDistance() float64                // 当前速度下的保证制动距离v²/(2|b|)
	StoppingDistanceAt(v float64) float64     // 给定速度下的保证制动距离

	// 路径

	Route() []int32                         // 获取途经道路ID序列
	NextRoadAfter(roadID int32) (int32, bool) // 查询途经序列中指定道路的下一条道路

	// 预约状态

	HasPermission() bool   // 是否持有进入下游路口的许可
	SetPermission(ok bool) // 设置许可标志

	// 推演支持

	IsClone() bool            // 是否为可行性检查中的影子车辆
	CloneForRequest() IVehicle // 产生用于可行性检查的影子车辆
}

// entity/lane/lane.go的依赖倒置
type ILane interface {
	String() string

	// 初始化

	SetParentRoadWhenInit(parent IRoad)                 // 设置lane所在road的指针
	SetParentIntersectionWhenInit(parent IIntersection) // 设置lane所在intersection
	SetEndIntersectionWhenInit(end IIntersection)       // 设置道路车道下游路口
	SetUniqueSuccessorWhenInit(next ILane)              // 设置唯一后继（路口内车道与克隆车道）

	// getter

	ID() int32              // 获取Lane ID
	Length() float64        // 获取Lane长度
	Width() float64         // 获取Lane宽度
	MaxV() float64          // 获取车道限速
	Line() []geometry.Point // 获取Lane的中心线
	InRoad() bool           // 检查Lane是否为道路车道
	InIntersection() bool   // 检查Lane是否为路口内车道
	ParentRoad() IRoad      // 获取Lane所在的Road（路口内车道为nil）
	ParentIntersection() IIntersection // 获取Lane所在的Intersection（道路车道为nil）
	EndIntersection() IIntersection    // 获取道路车道下游路口（终点道路为nil）
	UniqueSuccessor() ILane            // 获取唯一后继
	SuccessorFor(v IVehicle) ILane     // 按车辆路径解析下游车道，nil表示驶出路网

	// 几何

	GetPositionByS(s float64) geometry.Point               // 将当前车道s坐标转换为xy坐标
	GetOffsetPositionByS(s, offset float64) geometry.Point // s坐标沿法向平移offset后的坐标
	GetDirectionByS(s float64) float64                     // 根据本车道s坐标计算切向角度

	// 车辆链表

	Vehicles() *VehicleList     // 获取车道上的车辆
	FirstVehicle() *VehicleNode // 获取最靠近起点的车辆
	LastVehicle() *VehicleNode  // 获取领头车
	VehicleCount() int          // 获取车道上的车辆数

	// 仿真步

	GetNewSpeeds(dt float64) []SpeedUpdate                               // 计算阶段：产生速度更新批次
	StepVehicles(dt float64) []VehicleTransfer                           // 推进阶段：移动分段，产生跨车道转移
	EnterVehicleSection(v IVehicle, section VehicleSection, dist float64) // 接收一个分段进入本车道
	RemoveVehicle(v IVehicle)                                            // 将车辆从本车道移除
	RoomToEnter() float64                                                // 车道起点到最后一辆车车尾的空间

	// 预约请求支持（道路车道）

	VehiclesAwaitingPermission() []IVehicle // 从最靠近路口者起的连续同转向无许可车辆
	SoonestExit(v IVehicle, t0 int32, lastExit *ScheduledExit) *ScheduledExit // 车头最早到达车道终点的计划
	RegisterLatestScheduledExit(se *ScheduledExit) // 记录最近一次确认预约的车尾进入计划
	LatestScheduledExit() *ScheduledExit

	// 推演支持

	Clone() ILane  // 产生空的同几何车道，用于可行性检查
	IsClone() bool // 是否为可行性检查中的克隆车道
}

// entity/road/road.go的依赖倒置
type IRoad interface {
	String() string

	ID() int32     // 获取Road ID
	Lanes() []ILane // 获取Road的所有Lane（按车道下标排列）

	AddTransfer(tf VehicleTransfer) // 向转移缓冲写入一个分段转移
	ProcessBuffer()                 // 消费转移缓冲，分段进入各车道
}

// entity/intersection/intersection.go的依赖倒置
type IIntersection interface {
	String() string

	ID() int32              // 获取Intersection ID
	Lanes() []ILane         // 获取路口内的所有车道
	IncomingLanes() []ILane // 获取进入本路口的道路车道（按车道ID升序）

	// 根据(进入车道, 车辆路径)解析路口内车道，无此转向返回nil
	LaneForMovement(in ILane, v IVehicle) ILane

	AddTransfer(tf VehicleTransfer) // 向转移缓冲写入一个分段转移
	ProcessBuffer()                 // 消费转移缓冲，分段进入路口内车道

	UpdateSchedule()  // 滚动瓦片层与信号周期，更新预约生命周期
	ProcessRequests() // 按策略处理本路口的预约请求

	OnVehicleEntered(v IVehicle) // 车头进入路口内车道（预约排队转激活）
	OnVehicleExited(v IVehicle)  // 车尾离开路口内车道（清除预约与许可）
}

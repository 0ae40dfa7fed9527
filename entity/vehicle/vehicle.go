package vehicle

import (
	"fmt"

	"git.fiblab.net/general/common/v2/geometry"
	"github.com/tsinghua-fib-lab/aimsim-oss/entity"
	"github.com/tsinghua-fib-lab/aimsim-oss/utils/container"
)

// Vehicle 车辆实体
// 功能：承载车辆静态属性、运动状态、路径与路口许可状态
// 说明：速度更新遵守两阶段协议，计算阶段只读，SetVA在应用阶段调用
type Vehicle struct {
	container.IncrementalItemBase

	ctx  entity.ITaskContext
	id   int32
	attr entity.VehicleAttr
	// 途经道路ID序列，首项为生成道路，末项为终点道路
	route []int32

	// runtime
	v, a             float64        // 当前速度与加速度
	pos              geometry.Point // 车身中点坐标
	heading          float64        // 朝向角（弧度）
	lateralDeviation float64        // 相对车道中心线的横向偏移
	permission       bool           // 进入下游路口的许可
	isClone          bool           // 可行性检查中的影子车辆
}

func newVehicle(ctx entity.ITaskContext, id int32, attr entity.VehicleAttr, route []int32, v0 float64) *Vehicle {
	if attr.Length <= 0 || attr.Width <= 0 || attr.MaxV <= 0 ||
		attr.MaxA <= 0 || attr.MaxBraking >= 0 {
		log.Panicf("vehicle: bad attr %+v for vehicle %d", attr, id)
	}
	if len(route) == 0 {
		log.Panicf("vehicle: empty route for vehicle %d", id)
	}
	return &Vehicle{
		ctx:   ctx,
		id:    id,
		attr:  attr,
		route: route,
		v:     v0,
	}
}

func (v *Vehicle) String() string {
	return fmt.Sprintf("Vehicle{id:%d, v:%.4f, clone:%v}", v.id, v.v, v.isClone)
}

// 静态属性

func (v *Vehicle) ID() int32 {
	return v.id
}

func (v *Vehicle) Attr() *entity.VehicleAttr {
	return &v.attr
}

func (v *Vehicle) Length() float64 {
	return v.attr.Length
}

func (v *Vehicle) Width() float64 {
	return v.attr.Width
}

func (v *Vehicle) MaxV() float64 {
	return v.attr.MaxV
}

func (v *Vehicle) MaxA() float64 {
	return v.attr.MaxA
}

func (v *Vehicle) MaxBraking() float64 {
	return v.attr.MaxBraking
}

func (v *Vehicle) Vot() float64 {
	return v.attr.Vot
}

// 运行时状态

func (v *Vehicle) V() float64 {
	return v.v
}

func (v *Vehicle) A() float64 {
	return v.a
}

// SetVA 应用速度更新
// 说明：仅允许在两阶段协议的应用阶段调用
func (v *Vehicle) SetVA(newV, newA float64) {
	v.v = newV
	v.a = newA
}

func (v *Vehicle) XYZ() geometry.Point {
	return v.pos
}

func (v *Vehicle) Heading() float64 {
	return v.heading
}

func (v *Vehicle) SetPose(pos geometry.Point, dir float64) {
	v.pos = pos
	v.heading = dir
}

func (v *Vehicle) LateralDeviation() float64 {
	return v.lateralDeviation
}

// StoppingDistance 当前速度下的保证制动距离
func (v *Vehicle) StoppingDistance() float64 {
	return v.StoppingDistanceAt(v.v)
}

// StoppingDistanceAt 给定速度下的保证制动距离v²/(2|b|)
func (v *Vehicle) StoppingDistanceAt(speed float64) float64 {
	return speed * speed / (2 * -v.attr.MaxBraking)
}

// 路径

func (v *Vehicle) Route() []int32 {
	return v.route
}

// NextRoadAfter 查询途经序列中指定道路的下一条道路
// 返回：下一条道路ID；false表示指定道路为终点道路或不在路径上
func (v *Vehicle) NextRoadAfter(roadID int32) (int32, bool) {
	for i, r := range v.route {
		if r == roadID {
			if i+1 < len(v.route) {
				return v.route[i+1], true
			}
			return 0, false
		}
	}
	return 0, false
}

// 预约状态

func (v *Vehicle) HasPermission() bool {
	return v.permission
}

func (v *Vehicle) SetPermission(ok bool) {
	v.permission = ok
}

// 推演支持

func (v *Vehicle) IsClone() bool {
	return v.isClone
}

// CloneForRequest 产生用于可行性检查的影子车辆
// 说明：影子车辆与原车同ID同属性，带许可标志，仅存在于克隆车道中，
// 其状态变化不回写原车
func (v *Vehicle) CloneForRequest() entity.IVehicle {
	c := *v
	c.isClone = true
	c.permission = true
	return &c
}

package vehicle

import (
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/aimsim-oss/entity"
)

// 纵向运动学控制模型：每步在加速、保持、制动三种模式中选择其一。
// 安全准则为制动距离保证：任意时刻车辆都能在其可用制动空间内停下，
// 判定时把下一步的位移也计入，避免离散时间下的越界。

// AccelUncontested 无竞争行驶的加速度决策
// 参数：attr-车辆属性，v-当前速度，limit-有效限速，dt-步长
// 返回：本步加速度
// 说明：向限速收敛，超速则制动
func AccelUncontested(attr *entity.VehicleAttr, v, limit, dt float64) float64 {
	if v > limit {
		return attr.MaxBraking
	}
	if v < limit {
		// 不越过限速
		return lo.Clamp((limit-v)/dt, 0, attr.MaxA)
	}
	return 0
}

// AccelFollowing 受限行驶的加速度决策
// 参数：attr-车辆属性，v-当前速度，limit-有效限速，
// availSD-可用制动空间（米），dt-步长
// 返回：本步加速度
// 算法说明：
// 1. 超速则制动
// 2. 若加速后（下一步位移+制动距离）仍在可用空间内，则加速
// 3. 若保持速度（下一步位移+制动距离）仍在可用空间内，则保持
// 4. 否则制动
func AccelFollowing(attr *entity.VehicleAttr, v, limit, availSD, dt float64) float64 {
	if v > limit {
		return attr.MaxBraking
	}
	b := -attr.MaxBraking
	vAcc := lo.Clamp(v+attr.MaxA*dt, 0, lo.Min([]float64{limit, attr.MaxV}))
	if vAcc*dt+vAcc*vAcc/(2*b) <= availSD {
		return (vAcc - v) / dt
	}
	if v*dt+v*v/(2*b) <= availSD {
		return 0
	}
	return attr.MaxBraking
}

// NextSpeed 由加速度推进速度
// 返回：下一步速度，限制在[0, MaxV]
func NextSpeed(attr *entity.VehicleAttr, v, a, dt float64) float64 {
	return lo.Clamp(v+a*dt, 0, attr.MaxV)
}

package tiling

import (
	"github.com/tsinghua-fib-lab/aimsim-oss/entity"
)

// checkVehicle 可行性推演中一辆车的状态
type checkVehicle struct {
	idx     int
	res     *Reservation
	clone   entity.IVehicle
	entered bool // 车头已进入路口内车道
	exited  bool // 车尾已离开路口内车道
	failed  bool
}

// CheckRequest 预约请求的可行性检查
// 参数：in-发起请求的进入道路车道
// 返回：序列首个预约（后续车辆经Dependency链接）；nil表示无可行请求
// 说明：对真实状态只读。克隆进入车道、转向车道与驶出车道，
// 在克隆上用与真实仿真完全相同的两阶段速度更新与分段转移代码
// 做嵌套推演，逐虚拟步对照瓦片账本检查占用；任何瓦片冲突把该车
// 及其后车截断，保留最大可行前缀；推演产生的全部状态随返回丢弃
// 算法说明（每个虚拟步）：
// 1. 到达进入计划时刻的车辆以计划速度在接缝处生成影子
// 2. 三条克隆车道统一计算速度后统一应用
// 3. 依次推进驶出克隆、转向克隆（转移进驶出克隆，车尾离开时
//    记录离开缓冲瓦片）、进入克隆（转移进转向克隆，车头进入时
//    记录进入缓冲瓦片，车尾进入时排程下一辆）
// 4. 对所有在路口内的影子做轮廓栅格化并对照账本记录
// 5. 全部影子离开（或失败）且无待生成时结束；超时整体截断
func (g *Tiling) CheckRequest(in entity.ILane) *Reservation {
	originals := in.VehiclesAwaitingPermission()
	if len(originals) == 0 {
		return nil
	}
	x := in.EndIntersection()
	if x == nil {
		log.Panicf("tiling: check request from lane %d without intersection", in.ID())
	}
	il := x.LaneForMovement(in, originals[0])
	if il == nil {
		// 配置中没有该转向
		return nil
	}
	out := il.UniqueSuccessor()
	if out == nil {
		log.Panicf("tiling: intersection lane %d without successor", il.ID())
	}

	inClone := in.Clone()
	ilClone := il.Clone()
	outClone := out.Clone()
	inClone.SetUniqueSuccessorWhenInit(ilClone)
	ilClone.SetUniqueSuccessorWhenInit(outClone)
	clones := []entity.ILane{outClone, ilClone, inClone}

	dt := g.ctx.Clock().DT
	pendingSE := in.SoonestExit(originals[0], g.t0, nil)
	nextIdx := 0
	stopSpawning := false
	var seq []*checkVehicle
	byID := make(map[int32]*checkVehicle)
	var prevRes *Reservation

	// 从seq[from]起全部失效并移出克隆车道，停止继续生成
	fail := func(from int) {
		for i := from; i < len(seq); i++ {
			cv := seq[i]
			if cv.failed {
				continue
			}
			cv.failed = true
			for _, cl := range clones {
				cl.RemoveVehicle(cv.clone)
			}
		}
		stopSpawning = true
		pendingSE = nil
	}

	// 对照账本检查一批瓦片，通过则记入预约
	checkAndRecord := func(cv *checkVehicle, t int32, idxs []int32) bool {
		for _, idx := range idxs {
			if !g.willWork(t, idx, cv.res) {
				return false
			}
		}
		cv.res.addTiles(t, idxs)
		return true
	}

	// 接缝处的轮廓瓦片（进入/离开缓冲）
	seamTiles := func(s float64, v entity.IVehicle) []int32 {
		return g.posToTiles(il.GetPositionByS(s), il.GetDirectionByS(s), v.Length(), v.Width())
	}

	t := pendingSE.T
	for {
		// 1. 生成影子车辆：车头置于进入车道克隆的终点
		if !stopSpawning && pendingSE != nil && nextIdx < len(originals) && pendingSE.T <= t {
			orig := originals[nextIdx]
			clone := orig.CloneForRequest()
			clone.SetVA(pendingSE.V, 0)
			L := inClone.Length()
			inClone.EnterVehicleSection(clone, entity.SectionFront, L)
			inClone.EnterVehicleSection(clone, entity.SectionCenter, L-clone.Length()/2)
			inClone.EnterVehicleSection(clone, entity.SectionRear, L-clone.Length())
			res := newReservation(orig, il, pendingSE)
			if prevRes != nil {
				res.DependentOn = prevRes
				prevRes.Dependency = res
			}
			prevRes = res
			cv := &checkVehicle{idx: len(seq), res: res, clone: clone}
			seq = append(seq, cv)
			byID[clone.ID()] = cv
			nextIdx++
			// 下一辆的进入计划要等本辆车尾进入后才能确定
			pendingSE = nil
		}

		// 2. 两阶段速度更新：统一计算，统一应用
		var updates []entity.SpeedUpdate
		for _, cl := range clones {
			updates = append(updates, cl.GetNewSpeeds(dt)...)
		}
		for _, u := range updates {
			u.Vehicle.SetVA(u.V, u.A)
		}

		// 3. 推进驶出道路克隆：领头车自由驶离推演范围
		outClone.StepVehicles(dt)

		// 4. 推进转向车道克隆
		for _, tf := range ilClone.StepVehicles(dt) {
			cv := byID[tf.Vehicle.ID()]
			if cv == nil || cv.failed {
				continue
			}
			outClone.EnterVehicleSection(tf.Vehicle, tf.Section, tf.DistanceLeft)
			if tf.Section != entity.SectionRear {
				continue
			}
			cv.exited = true
			cv.res.Exit = &entity.ScheduledExit{
				Vehicle: cv.res.Vehicle, Section: entity.SectionRear, T: t, V: tf.Vehicle.V(),
			}
			// 离开缓冲：接缝瓦片向后延续占用
			idxs := seamTiles(il.Length(), tf.Vehicle)
			ok := true
			for k := int32(1); k <= g.exitResTimestepsForward(tf.Vehicle.V()); k++ {
				if !checkAndRecord(cv, t+k, idxs) {
					ok = false
					break
				}
			}
			if !ok {
				fail(cv.idx)
			}
		}

		// 5. 推进进入道路克隆
		for _, tf := range inClone.StepVehicles(dt) {
			cv := byID[tf.Vehicle.ID()]
			if cv == nil || cv.failed {
				continue
			}
			ilClone.EnterVehicleSection(tf.Vehicle, tf.Section, tf.DistanceLeft)
			switch tf.Section {
			case entity.SectionFront:
				cv.entered = true
				// 进入缓冲：接缝瓦片提前一步占用
				idxs := seamTiles(0, tf.Vehicle)
				ok := true
				if t-1 >= g.t0+1 {
					ok = checkAndRecord(cv, t-1, idxs)
				}
				if ok {
					ok = checkAndRecord(cv, t, idxs)
				}
				if !ok {
					fail(cv.idx)
				}
			case entity.SectionRear:
				cv.res.EntranceRear = &entity.ScheduledExit{
					Vehicle: cv.res.Vehicle, Section: entity.SectionRear, T: t, V: tf.Vehicle.V(),
				}
				if !stopSpawning && nextIdx < len(originals) {
					pendingSE = in.SoonestExit(originals[nextIdx], g.t0, cv.res.EntranceRear)
				}
			}
		}

		// 6. 在路口内的影子的轮廓瓦片
		for _, cv := range seq {
			if cv.failed || cv.exited || !cv.entered {
				continue
			}
			idxs := g.posToTiles(cv.clone.XYZ(), cv.clone.Heading(), cv.clone.Length(), cv.clone.Width())
			if !checkAndRecord(cv, t, idxs) {
				fail(cv.idx)
			}
		}

		// 7. 终止条件
		allSettled := true
		for _, cv := range seq {
			if !cv.failed && !cv.exited {
				allSettled = false
				break
			}
		}
		if allSettled && (stopSpawning || nextIdx >= len(originals)) && pendingSE == nil {
			break
		}
		if t-g.t0 > g.timeout {
			for _, cv := range seq {
				if !cv.failed && !cv.exited {
					fail(cv.idx)
					break
				}
			}
			break
		}
		t++
	}

	// 8. 结果：最大可行前缀
	if len(seq) == 0 || seq[0].failed {
		return nil
	}
	var lastOK *checkVehicle
	for _, cv := range seq {
		if cv.failed {
			break
		}
		lastOK = cv
	}
	if lastOK.res.Dependency != nil {
		lastOK.res.Dependency.DependentOn = nil
		lastOK.res.Dependency = nil
	}
	return seq[0].res
}

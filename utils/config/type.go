package config

// ControlStep 指定模拟器模拟时间范围和间隔的配置项
// 说明：控制仿真的时间范围、步长和精度
type ControlStep struct {
	Start    int32   `yaml:"start"`    // 开始步数
	Total    int32   `yaml:"total"`    // 总步数
	Interval float64 `yaml:"interval"` // 每步的时间间隔（秒）
}

// Control 模拟器控制配置
type Control struct {
	Step ControlStep `yaml:"step"`
	Seed uint64      `yaml:"seed,omitempty"` // 随机数种子，同一种子保证可复现
	// 预约可行性检查中虚拟推演的最大步数，超出即判定不可行，0表示默认值
	CheckTimeout int32 `yaml:"check_timeout,omitempty"`
}

// Output 输出配置
// 说明：车辆完成记录的外部输出目标，type为none时丢弃
type Output struct {
	Type string `yaml:"type"`           // 输出类型（可选项：mongo csv none）
	File string `yaml:"file,omitempty"` // CSV文件路径（type=csv时必填）
	URI  string `yaml:"uri,omitempty"`  // MongoDB连接字符串（type=mongo时必填）
	DB   string `yaml:"db,omitempty"`   // 数据库名
	Col  string `yaml:"col,omitempty"`  // 集合名
}

// Point 平面坐标点
type Point struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

// RoadLane 道路车道配置
type RoadLane struct {
	MaxV       float64 `yaml:"max_v"`           // 限速（米/秒）
	Width      float64 `yaml:"width,omitempty"` // 车道宽度，0表示默认值
	Centerline []Point `yaml:"centerline"`      // 中心线折线（至少两个点）
}

// Road 道路配置
type Road struct {
	ID    int32      `yaml:"id"`
	Lanes []RoadLane `yaml:"lanes"`
}

// Movement 路口转向配置，连接一条进入车道与一条驶出车道
type Movement struct {
	InRoad     int32   `yaml:"in_road"`              // 进入道路ID
	InLane     int     `yaml:"in_lane"`              // 进入道路的车道下标
	OutRoad    int32   `yaml:"out_road"`             // 驶出道路ID
	OutLane    int     `yaml:"out_lane"`             // 驶出道路的车道下标
	MaxV       float64 `yaml:"max_v,omitempty"`      // 路口内限速，0表示取进入车道限速
	Centerline []Point `yaml:"centerline,omitempty"` // 路口内车道中心线，为空则取进出车道端点连线
}

// SignalPhase 信号相位配置
type SignalPhase struct {
	Duration  int32 `yaml:"duration"`  // 相位时长（步数）
	Movements []int `yaml:"movements"` // 放行的转向下标（指向Intersection.Movements）
}

// Intersection 路口配置
type Intersection struct {
	ID        int32      `yaml:"id"`
	TileWidth float64    `yaml:"tile_width"`       // 空间瓦片边长（米）
	Policy    string     `yaml:"policy"`           // 调度策略（可选项：fcfs signal auction）
	Buffer    float64    `yaml:"buffer,omitempty"` // 车辆轮廓静态缓冲（米），0表示默认值
	Movements []Movement `yaml:"movements"`
	// 信号周期，policy=signal时必填，按顺序循环
	Cycle []SignalPhase `yaml:"cycle,omitempty"`
}

// VehicleAttr 车辆属性配置
type VehicleAttr struct {
	Length     float64 `yaml:"length"`        // 车长（米）
	Width      float64 `yaml:"width"`         // 车宽（米）
	MaxV       float64 `yaml:"max_v"`         // 最大速度（米/秒）
	MaxA       float64 `yaml:"max_a"`         // 保证可达的最大加速度（米/秒²）
	MaxBraking float64 `yaml:"max_braking"`   // 保证可达的最大制动加速度（米/秒²，负值）
	Vot        float64 `yaml:"vot,omitempty"` // 时间价值，拍卖策略中作为出价权重
}

// Route 路径配置，车辆生成时按权重抽取
type Route struct {
	Weight float64 `yaml:"weight"`
	Roads  []int32 `yaml:"roads"` // 途经道路ID序列，首项必须为生成器所在道路
}

// SpawnTemplate 车辆生成模板
type SpawnTemplate struct {
	Weight    float64     `yaml:"weight"`
	Attribute VehicleAttr `yaml:"attribute"`
	Routes    []Route     `yaml:"routes"`
}

// Spawner 车辆生成器配置
type Spawner struct {
	Road      int32           `yaml:"road"`      // 生成器所在道路ID
	Rate      float64         `yaml:"rate"`      // 平均生成率（辆/秒）
	Templates []SpawnTemplate `yaml:"templates"` // 车辆模板，按权重抽取
}

// Config YAML配置文件的根结构
type Config struct {
	Control       Control        `yaml:"control"`
	Output        Output         `yaml:"output,omitempty"`
	Roads         []Road         `yaml:"roads"`
	Intersections []Intersection `yaml:"intersections"`
	Spawners      []Spawner      `yaml:"spawners,omitempty"`
	Removers      []int32        `yaml:"removers"` // 终点道路ID列表
}

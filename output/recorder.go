package output

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tsinghua-fib-lab/aimsim-oss/utils/config"
)

// ExitRecord 车辆完成记录
// 说明：车辆车身中点越过终点道路尽头时产生一条记录
type ExitRecord struct {
	Step      int32   `bson:"step"`       // 完成时的步数
	Time      float64 `bson:"time"`       // 完成时的仿真时刻（秒）
	VehicleID int32   `bson:"vehicle_id"` // 车辆ID
	RoadID    int32   `bson:"road_id"`    // 终点道路ID
}

// Recorder 车辆完成记录的输出端
type Recorder interface {
	RecordExit(r ExitRecord)
	Close()
}

// NewRecorder 根据输出配置创建Recorder
// 说明：输出端初始化失败属于配置错误，直接panic
func NewRecorder(c config.Output) Recorder {
	switch c.Type {
	case "mongo":
		return newMongoRecorder(c)
	case "csv":
		return newCSVRecorder(c)
	case "none", "":
		return &discardRecorder{}
	default:
		log.Panicf("output: unknown output type %q", c.Type)
		return nil
	}
}

// discardRecorder 丢弃全部记录
type discardRecorder struct{}

func (r *discardRecorder) RecordExit(ExitRecord) {}
func (r *discardRecorder) Close()                {}

// mongoBatchSize MongoDB批量写入的缓冲条数
const mongoBatchSize = 512

// mongoRecorder 将完成记录批量写入MongoDB
type mongoRecorder struct {
	client *mongo.Client
	col    *mongo.Collection
	buffer []ExitRecord
}

func newMongoRecorder(c config.Output) *mongoRecorder {
	if c.URI == "" || c.DB == "" || c.Col == "" {
		log.Panic("output: mongo output requires uri, db and col")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(c.URI))
	if err != nil {
		log.Panicf("output: failed to connect to mongo: %v", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		log.Panicf("output: failed to ping mongo: %v", err)
	}
	return &mongoRecorder{
		client: client,
		col:    client.Database(c.DB).Collection(c.Col),
		buffer: make([]ExitRecord, 0, mongoBatchSize),
	}
}

func (r *mongoRecorder) RecordExit(rec ExitRecord) {
	r.buffer = append(r.buffer, rec)
	if len(r.buffer) >= mongoBatchSize {
		r.flush()
	}
}

func (r *mongoRecorder) flush() {
	if len(r.buffer) == 0 {
		return
	}
	docs := lo.Map(r.buffer, func(rec ExitRecord, _ int) interface{} {
		return bson.M{
			"step":       rec.Step,
			"time":       rec.Time,
			"vehicle_id": rec.VehicleID,
			"road_id":    rec.RoadID,
		}
	})
	if _, err := r.col.InsertMany(context.Background(), docs); err != nil {
		log.Errorf("output: failed to insert %d records: %v", len(docs), err)
	}
	r.buffer = r.buffer[:0]
}

func (r *mongoRecorder) Close() {
	r.flush()
	if err := r.client.Disconnect(context.Background()); err != nil {
		log.Errorf("output: failed to disconnect mongo: %v", err)
	}
}

// csvRecorder 将完成记录写入CSV文件
type csvRecorder struct {
	file   *os.File
	writer *csv.Writer
}

func newCSVRecorder(c config.Output) *csvRecorder {
	if c.File == "" {
		log.Panic("output: csv output requires file")
	}
	f, err := os.Create(c.File)
	if err != nil {
		log.Panicf("output: failed to create %s: %v", c.File, err)
	}
	w := csv.NewWriter(f)
	if err := w.Write([]string{"step", "time", "vehicle_id", "road_id"}); err != nil {
		log.Panicf("output: failed to write csv header: %v", err)
	}
	return &csvRecorder{file: f, writer: w}
}

func (r *csvRecorder) RecordExit(rec ExitRecord) {
	row := []string{
		strconv.FormatInt(int64(rec.Step), 10),
		fmt.Sprintf("%.3f", rec.Time),
		strconv.FormatInt(int64(rec.VehicleID), 10),
		strconv.FormatInt(int64(rec.RoadID), 10),
	}
	if err := r.writer.Write(row); err != nil {
		log.Errorf("output: failed to write csv row: %v", err)
	}
}

func (r *csvRecorder) Close() {
	r.writer.Flush()
	if err := r.writer.Error(); err != nil {
		log.Errorf("output: csv flush error: %v", err)
	}
	if err := r.file.Close(); err != nil {
		log.Errorf("output: failed to close csv file: %v", err)
	}
}

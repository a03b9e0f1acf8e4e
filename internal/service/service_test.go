package service

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"testing"
	"time"

	rediscommon "github.com/NAREN-BHARGAV/CodeBlueHalo/common/redis"
	"github.com/NAREN-BHARGAV/CodeBlueHalo/internal/classifier"
	"github.com/NAREN-BHARGAV/CodeBlueHalo/internal/config"
	"github.com/NAREN-BHARGAV/CodeBlueHalo/internal/models"
	"github.com/NAREN-BHARGAV/CodeBlueHalo/internal/nn"
	"github.com/NAREN-BHARGAV/CodeBlueHalo/internal/tcnae"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var bg = context.Background()

var testDay0 = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.Halo.Tracker.NearThreshold = 0.5
	cfg.Halo.Tracker.FarThreshold = 1.5
	cfg.Halo.Window.Length = 8
	cfg.Halo.Window.Stride = 4
	cfg.Halo.Models.TCNAEPath = ""
	cfg.Halo.Models.ClassifierPath = ""
	cfg.Halo.Evaluation.ReconstructionThreshold = 0.25
	cfg.Halo.Evaluation.FallConfidence = 0.8
	cfg.Halo.Evaluation.DedupWindow = 5 * time.Minute
	cfg.Halo.Drift.Components = 1
	cfg.Halo.Drift.Seed = 42
	cfg.Halo.Drift.AlertThreshold = 1000
	cfg.Halo.Drift.HistoryDays = 30
	cfg.Halo.Drift.RefitDays = 7
	cfg.Halo.Cache.StateKeyPrefix = "halo:node:"
	cfg.Halo.Cache.StateSuffix = ":state"
	cfg.Halo.Cache.StateTTL = 300
	cfg.Halo.Cache.DriftKeyPrefix = "halo:occupant:"
	cfg.Halo.Cache.DriftSuffix = ":drift_scores"
	cfg.Halo.Cache.DriftKeep = 30
	cfg.Halo.Cache.DedupKeyPrefix = "halo:alert:"
	cfg.Halo.Streams.Readings = "halo:readings"
	cfg.Halo.Streams.DailyVectors = "halo:daily_vectors"
	cfg.Halo.Streams.ConsumerGroup = "test-group"
	cfg.Halo.Streams.ConsumerName = "test-consumer"
	cfg.Halo.Streams.BatchSize = 10
	cfg.Halo.Streams.Block = 0
	cfg.Halo.MQTTBridge.Enabled = false
	cfg.Halo.MQTTBridge.AlertTopic = "halo/alerts"
	cfg.Halo.ThingSpeakPoller.Enabled = false
	return cfg
}

func newTestService(t *testing.T, cfg *config.Config, opts ...Option) (*HaloService, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	opts = append([]Option{WithClock(func() time.Time { return testDay0 })}, opts...)
	s, err := NewHaloServiceWithClients(cfg, nil, client, nil, zap.NewNop(), opts...)
	require.NoError(t, err)
	return s, mr, client
}

func reading(node string, distance float64, motion bool) models.SensorReading {
	return models.SensorReading{NodeID: node, Distance: distance, Motion: motion, Timestamp: testDay0}
}

func eventTypes(events []models.AlertEvent) []string {
	types := make([]string, 0, len(events))
	for _, e := range events {
		types = append(types, e.EventType)
	}
	return types
}

// fallClassifier 输出层偏置使 fall 的置信度接近 1
func fallClassifier(t *testing.T) *classifier.Classifier {
	t.Helper()
	model, err := classifier.New(classifier.Config{InputDim: 3, HiddenDim: 8, NumClasses: 3, Seed: 1})
	require.NoError(t, err)

	sd := model.StateDict()
	weight := sd["classifier.2.weight"]
	sd["classifier.2.weight"] = nn.Tensor{Shape: weight.Shape, Data: make([]float64, len(weight.Data))}
	sd["classifier.2.bias"] = nn.Tensor{Shape: []int{3}, Data: []float64{0, 10, 0}}
	require.NoError(t, model.LoadStateDict(sd))

	cls, err := classifier.NewClassifier(model, models.DefaultEventClasses)
	require.NoError(t, err)
	return cls
}

func TestProcessReading_PhysicalAlertAndRecovery(t *testing.T) {
	s, mr, _ := newTestService(t, testConfig(t))

	events, err := s.ProcessReading(bg, reading("B-204", 0.3, true))
	require.NoError(t, err)
	assert.Empty(t, events)

	events, err = s.ProcessReading(bg, reading("B-204", 0.3, false))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventTypePhysicalAlert, events[0].EventType)
	assert.Equal(t, models.AlertLevelAlert, events[0].AlertLevel)

	raw, err := mr.Get("halo:node:B-204:state")
	require.NoError(t, err)
	assert.Contains(t, raw, `"physical":"PHYSICAL_ALERT"`)
	assert.Contains(t, raw, `"system":"SYSTEM_HEALTHY"`)

	// 恢复后再次进入 ALERT 会重新报警
	events, err = s.ProcessReading(bg, reading("B-204", 2.0, false))
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Equal(t, models.PhysicalNormal, s.Trackers().Get("B-204").Snapshot().Physical)

	_, err = s.ProcessReading(bg, reading("B-204", 0.3, true))
	require.NoError(t, err)
	events, err = s.ProcessReading(bg, reading("B-204", 0.3, false))
	require.NoError(t, err)
	assert.Equal(t, []string{models.EventTypePhysicalAlert}, eventTypes(events))
}

func TestProcessReading_RequiresNode(t *testing.T) {
	s, _, _ := newTestService(t, testConfig(t))
	_, err := s.ProcessReading(bg, models.SensorReading{Distance: 0.3})
	assert.Error(t, err)
}

func TestProcessReading_FallEscalatesToEmergency(t *testing.T) {
	s, mr, _ := newTestService(t, testConfig(t), WithClassifier(fallClassifier(t)))

	var events []models.AlertEvent
	for i := 0; i < 8; i++ {
		got, err := s.ProcessReading(bg, reading("C-310", 2.0, false))
		require.NoError(t, err)
		events = append(events, got...)
	}

	require.Equal(t, []string{models.EventTypeSuspectedFall}, eventTypes(events))
	assert.Equal(t, models.AlertLevelEmergency, events[0].AlertLevel)
	assert.Equal(t, models.PhysicalEmergency, s.Trackers().Get("C-310").Snapshot().Physical)

	raw, err := mr.Get("halo:node:C-310:state")
	require.NoError(t, err)
	assert.Contains(t, raw, `"physical":"PHYSICAL_EMERGENCY"`)

	// 远离读数恢复 NORMAL
	_, err = s.ProcessReading(bg, reading("C-310", 2.0, false))
	require.NoError(t, err)
	assert.Equal(t, models.PhysicalNormal, s.Trackers().Get("C-310").Snapshot().Physical)
}

func TestProcessReading_ReconstructionAnomaly(t *testing.T) {
	cfg := testConfig(t)
	cfg.Halo.Evaluation.ReconstructionThreshold = -1

	model, err := tcnae.New(tcnae.Config{Channels: 3, WindowLength: 8, Seed: 1})
	require.NoError(t, err)
	s, _, _ := newTestService(t, cfg, WithAutoencoder(model))

	var events []models.AlertEvent
	for i := 0; i < 8; i++ {
		got, err := s.ProcessReading(bg, reading("D-101", 1.0, i%2 == 0))
		require.NoError(t, err)
		events = append(events, got...)
	}
	require.Equal(t, []string{models.EventTypeReconstructionDrift}, eventTypes(events))
	assert.Equal(t, models.AlertLevelWarning, events[0].AlertLevel)

	// 去重窗口内不重复报警
	for i := 0; i < 4; i++ {
		got, err := s.ProcessReading(bg, reading("D-101", 1.0, false))
		require.NoError(t, err)
		assert.Empty(t, got)
	}
}

func TestProcessReading_WindowShapeMismatch(t *testing.T) {
	model, err := tcnae.New(tcnae.Config{Channels: 3, WindowLength: 16, Seed: 1})
	require.NoError(t, err)
	s, _, _ := newTestService(t, testConfig(t), WithAutoencoder(model))

	var lastErr error
	for i := 0; i < 8; i++ {
		_, lastErr = s.ProcessReading(bg, reading("E-1", 1.0, false))
	}
	require.Error(t, lastErr)
	assert.True(t, errors.Is(lastErr, nn.ErrShapeMismatch))
}

func normalDay(rng *rand.Rand, occupant string, day int) models.DailyVector {
	return models.DailyVector{
		OccupantID:             occupant,
		Day:                    testDay0.AddDate(0, 0, day),
		TotalActiveMinutes:     300 + rng.NormFloat64()*20,
		LongestInactiveMinutes: 90 + rng.NormFloat64()*10,
		ExitCount:              4 + rng.NormFloat64(),
		AvgTemperature:         24 + rng.NormFloat64()*0.5,
	}
}

func anomalousDay(occupant string, day int) models.DailyVector {
	return models.DailyVector{
		OccupantID:             occupant,
		Day:                    testDay0.AddDate(0, 0, day),
		TotalActiveMinutes:     20,
		LongestInactiveMinutes: 900,
		ExitCount:              0,
		AvgTemperature:         24,
	}
}

func TestProcessDailyVector_DriftAlert(t *testing.T) {
	s, mr, _ := newTestService(t, testConfig(t))
	rng := rand.New(rand.NewSource(7))

	for day := 0; day < 15; day++ {
		score, events, err := s.ProcessDailyVector(bg, "B-204", normalDay(rng, "resident-1", day))
		require.NoError(t, err)
		assert.Empty(t, events, "day %d", day)
		if day < 7 {
			// 历史不足一周，基线未拟合
			assert.Equal(t, 0.0, score, "day %d", day)
		}
	}
	assert.True(t, s.Detectors().Get("resident-1").Fitted())

	var events []models.AlertEvent
	for day := 15; day < 18; day++ {
		score, got, err := s.ProcessDailyVector(bg, "B-204", anomalousDay("resident-1", day))
		require.NoError(t, err)
		assert.Greater(t, score, 1000.0)
		if day < 17 {
			assert.Empty(t, got)
		}
		events = append(events, got...)
	}

	require.Equal(t, []string{models.EventTypeBehavioralDrift}, eventTypes(events))
	assert.Equal(t, "resident-1", events[0].OccupantID)
	assert.Equal(t, "B-204", events[0].NodeID)

	days, err := mr.HKeys("halo:occupant:resident-1:drift_scores")
	require.NoError(t, err)
	assert.Len(t, days, 18)
}

func TestProcessDailyVector_ReplayedDayCountsOnce(t *testing.T) {
	s, mr, _ := newTestService(t, testConfig(t))
	rng := rand.New(rand.NewSource(7))

	for day := 0; day < 15; day++ {
		_, _, err := s.ProcessDailyVector(bg, "B-204", normalDay(rng, "resident-1", day))
		require.NoError(t, err)
	}

	// 同一天重复投递（流重投、生产者重试）只算一天
	var first float64
	for i := 0; i < 3; i++ {
		score, events, err := s.ProcessDailyVector(bg, "B-204", anomalousDay("resident-1", 15))
		require.NoError(t, err)
		assert.Empty(t, events, "delivery %d", i)
		if i == 0 {
			first = score
		}
		assert.Equal(t, first, score)
	}

	days, err := mr.HKeys("halo:occupant:resident-1:drift_scores")
	require.NoError(t, err)
	assert.Len(t, days, 16)

	// 之后两个不同的异常日才构成连续三天
	_, events, err := s.ProcessDailyVector(bg, "B-204", anomalousDay("resident-1", 16))
	require.NoError(t, err)
	assert.Empty(t, events)
	_, events, err = s.ProcessDailyVector(bg, "B-204", anomalousDay("resident-1", 17))
	require.NoError(t, err)
	assert.Equal(t, []string{models.EventTypeBehavioralDrift}, eventTypes(events))
}

func TestProcessDailyVector_RequiresOccupant(t *testing.T) {
	s, _, _ := newTestService(t, testConfig(t))
	_, _, err := s.ProcessDailyVector(bg, "B-204", models.DailyVector{})
	assert.Error(t, err)
}

func dailyVectorMessage(t *testing.T, nodeID string, v models.DailyVector) rediscommon.StreamMessage {
	t.Helper()
	data, err := json.Marshal(DailyVectorMessage{DailyVector: v, NodeID: nodeID})
	require.NoError(t, err)
	return rediscommon.StreamMessage{ID: "1-0", Values: map[string]interface{}{"data": string(data)}}
}

func TestHandleDailyVectorMessage_PersistsDriftAlert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cfg := testConfig(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	s, err := NewHaloServiceWithClients(cfg, db, client, nil, zap.NewNop(), WithClock(func() time.Time { return testDay0 }))
	require.NoError(t, err)

	// 基线已在前一天拟合，前两天分数已超阈值
	rng := rand.New(rand.NewSource(7))
	var history []models.DailyVector
	for day := 0; day < 15; day++ {
		history = append(history, normalDay(rng, "resident-1", day))
	}
	require.True(t, s.Detectors().Get("resident-1").FitBaseline(history))
	s.markFitted("resident-1", testDay0.AddDate(0, 0, 16))
	for day := 15; day < 17; day++ {
		_, err := s.cacheManager.SetDriftScore(bg, "resident-1", testDay0.AddDate(0, 0, day), 5000)
		require.NoError(t, err)
	}

	// 缺少 node_id 的向量直接拒绝，不落库
	err = s.handleDailyVectorMessage(bg, dailyVectorMessage(t, "", anomalousDay("resident-1", 17)))
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	mock.ExpectExec(`INSERT INTO daily_behavior`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE daily_behavior\s+SET drift_score = \$3`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO alert_events`).
		WithArgs(
			sqlmock.AnyArg(), "B-204", sqlmock.AnyArg(), models.EventTypeBehavioralDrift,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.handleDailyVectorMessage(bg, dailyVectorMessage(t, "B-204", anomalousDay("resident-1", 17))))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewHaloServiceWithClients_InvalidWindow(t *testing.T) {
	cfg := testConfig(t)
	cfg.Halo.Window.Length = 0

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s, err := NewHaloServiceWithClients(cfg, nil, client, nil, zap.NewNop())
	require.Error(t, err)
	assert.Nil(t, s)
}

func TestProcessReading_SystemState(t *testing.T) {
	s, _, _ := newTestService(t, testConfig(t))
	tracker := s.Trackers().Get("H-1")

	// DEGRADED 由设置方恢复，读数不覆盖
	tracker.SetSystemState(models.SystemDegraded)
	_, err := s.ProcessReading(bg, reading("H-1", 2.0, false))
	require.NoError(t, err)
	assert.Equal(t, models.SystemDegraded, tracker.Snapshot().System)

	// OFFLINE 节点收到读数即恢复在线
	tracker.SetSystemState(models.SystemOffline)
	_, err = s.ProcessReading(bg, reading("H-1", 2.0, false))
	require.NoError(t, err)
	assert.Equal(t, models.SystemHealthy, tracker.Snapshot().System)

	cached, err := s.cacheManager.GetNodeState(bg, "H-1")
	require.NoError(t, err)
	assert.Equal(t, models.SystemHealthy, cached.System)
}

func TestStart_ConsumesReadingsStream(t *testing.T) {
	cfg := testConfig(t)
	s, _, client := newTestService(t, cfg)

	ctx, cancel := context.WithCancel(bg)
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(ctx) }()

	_, err := rediscommon.PublishJSONToStream(bg, client, cfg.Halo.Streams.Readings, reading("F-7", 0.3, true))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		tracker, ok := s.Trackers().Lookup("F-7")
		return ok && tracker.Snapshot().Physical == models.PhysicalWatch
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("service did not stop")
	}
}

func TestMemoryHistory(t *testing.T) {
	h := newMemoryHistory(3)
	for day := 0; day < 6; day++ {
		require.NoError(t, h.UpsertDailyVector(bg, models.DailyVector{
			OccupantID:         "resident-1",
			Day:                testDay0.AddDate(0, 0, day).Add(9 * time.Hour),
			TotalActiveMinutes: float64(day),
		}))
	}
	// 同一天覆盖
	require.NoError(t, h.UpsertDailyVector(bg, models.DailyVector{
		OccupantID:         "resident-1",
		Day:                testDay0.AddDate(0, 0, 5),
		TotalActiveMinutes: 50,
	}))

	got, err := h.ListRecentDailyVectors(bg, "resident-1", testDay0.AddDate(0, 0, 5), 30)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 2.0, got[0].TotalActiveMinutes)
	assert.Equal(t, 4.0, got[2].TotalActiveMinutes)

	got, err = h.ListRecentDailyVectors(bg, "resident-1", testDay0.AddDate(0, 0, 6), 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 50.0, got[1].TotalActiveMinutes)
}

type fakePublisher struct {
	connected bool
	topics    []string
	payloads  [][]byte
}

func (p *fakePublisher) Publish(topic string, _ byte, _ bool, payload []byte) error {
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, payload)
	return nil
}

func (p *fakePublisher) IsConnected() bool { return p.connected }

func readingMessage(t *testing.T, r models.SensorReading) rediscommon.StreamMessage {
	t.Helper()
	data, err := json.Marshal(r)
	require.NoError(t, err)
	return rediscommon.StreamMessage{ID: "1-0", Values: map[string]interface{}{"data": string(data)}}
}

func TestHandleReadingMessage_PublishesAlerts(t *testing.T) {
	pub := &fakePublisher{connected: true}
	s, _, _ := newTestService(t, testConfig(t), WithAlertPublisher(pub))

	require.NoError(t, s.handleReadingMessage(bg, readingMessage(t, reading("G-2", 0.3, true))))
	assert.Empty(t, pub.payloads)

	require.NoError(t, s.handleReadingMessage(bg, readingMessage(t, reading("G-2", 0.3, false))))
	require.Len(t, pub.payloads, 1)
	assert.Equal(t, "halo/alerts", pub.topics[0])

	var event models.AlertEvent
	require.NoError(t, json.Unmarshal(pub.payloads[0], &event))
	assert.Equal(t, "G-2", event.NodeID)
	assert.Equal(t, models.EventTypePhysicalAlert, event.EventType)
}

func TestHandleReadingMessage_DisconnectedPublisher(t *testing.T) {
	pub := &fakePublisher{connected: false}
	s, _, _ := newTestService(t, testConfig(t), WithAlertPublisher(pub))

	require.NoError(t, s.handleReadingMessage(bg, readingMessage(t, reading("G-3", 0.3, true))))
	require.NoError(t, s.handleReadingMessage(bg, readingMessage(t, reading("G-3", 0.3, false))))
	assert.Empty(t, pub.payloads)
}

func TestHandleReadingMessage_BadPayload(t *testing.T) {
	s, _, _ := newTestService(t, testConfig(t))
	err := s.handleReadingMessage(bg, rediscommon.StreamMessage{ID: "1-0", Values: map[string]interface{}{"data": "{"}})
	require.Error(t, err)
}

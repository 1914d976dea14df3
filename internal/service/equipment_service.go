package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"topivac-equipment/internal/cache"
	"topivac-equipment/internal/commands"
	"topivac-equipment/internal/common/database"
	commonmqtt "topivac-equipment/internal/common/mqtt"
	"topivac-equipment/internal/config"
	"topivac-equipment/internal/models"
	"topivac-equipment/internal/notify"
	"topivac-equipment/internal/projector"
	"topivac-equipment/internal/reconciler"
	"topivac-equipment/internal/repository"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// EquipmentService 设备服务（整合各层）
//
// 设备与提醒状态在进程内只有一个写入者：所有"定时刷新"、"外部变更"、
// "指令完成"触发都汇入同一个触发信箱，由一个循环串行消费，
// 以结构消除定时器与推送之间的竞争
type EquipmentService struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redis.Client
	logger      *zap.Logger

	// 各层组件
	equipmentRepo *repository.EquipmentRepository
	alertsRepo    *repository.AlertsRepository
	historyRepo   *repository.HistoryRepository
	alertCache    *cache.AlertCache
	projector     *projector.Projector
	reconciler    *reconciler.Reconciler
	commands      *commands.Commands
	notifier      notify.Notifier

	// 触发信箱：容量1，重复触发自动合并
	triggers chan struct{}
	// 对账进行中标志：进行中时忽略外部推送，避免读写竞争
	inFlight int32

	cycles int64
}

// NewEquipmentService 创建设备服务
func NewEquipmentService(cfg *config.Config, logger *zap.Logger) (*EquipmentService, error) {
	// 1. 连接数据库
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	// 2. 连接 Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	// 3. 连接 MQTT
	mqttClient, err := commonmqtt.NewClient(&cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("failed to connect mqtt: %w", err)
	}
	notifier := notify.NewMQTTNotifier(mqttClient, cfg.Notify, cfg.MQTT.QoS, logger)

	// 4. 创建 Repository 层
	equipmentRepo := repository.NewEquipmentRepository(db, logger)
	alertsRepo := repository.NewAlertsRepository(db, logger)
	historyRepo := repository.NewHistoryRepository(db, logger)

	// 5. 创建推导与对账层
	proj := projector.NewProjector(cfg.Equipment)
	builder := reconciler.NewBuilder(cfg.Equipment, proj)
	alertCache := cache.NewAlertCache(cfg.Cache, redisClient, logger)
	rec := reconciler.NewReconciler(cfg.Equipment, builder, alertsRepo, alertCache, logger)

	// 6. 创建指令层
	cmds := commands.NewCommands(cfg.Equipment, equipmentRepo, historyRepo, logger)

	return &EquipmentService{
		config:        cfg,
		db:            db,
		redisClient:   redisClient,
		logger:        logger,
		equipmentRepo: equipmentRepo,
		alertsRepo:    alertsRepo,
		historyRepo:   historyRepo,
		alertCache:    alertCache,
		projector:     proj,
		reconciler:    rec,
		commands:      cmds,
		notifier:      notifier,
		triggers:      make(chan struct{}, 1),
	}, nil
}

// Start 启动刷新循环（阻塞直到 ctx 取消）
func (s *EquipmentService) Start(ctx context.Context) error {
	s.logger.Info("Starting equipment service",
		zap.Int("poll_interval_seconds", s.config.Poll.IntervalSeconds))

	// 外部变更信号只作为触发器，不携带数据
	if s.notifier != nil {
		err := s.notifier.SubscribeChanges(func(event notify.ChangeEvent) {
			if event.Entity != notify.EntityEquipment {
				return
			}
			s.onExternalChange()
		})
		if err != nil {
			s.logger.Warn("failed to subscribe change events, running on timer only",
				zap.Error(err))
		}
	}

	initialDelay := time.Duration(s.config.Poll.InitialDelaySeconds) * time.Second
	interval := time.Duration(s.config.Poll.IntervalSeconds) * time.Second

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(initialDelay):
	}
	s.runCycle(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Equipment service loop stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runCycle(ctx)
		case <-s.triggers:
			s.runCycle(ctx)
		}
	}
}

// Stop 停止服务并释放连接
func (s *EquipmentService) Stop() error {
	s.logger.Info("Stopping equipment service")

	if s.notifier != nil {
		s.notifier.Close()
	}
	if err := database.Close(s.db); err != nil {
		s.logger.Error("Failed to close database", zap.Error(err))
	}
	if err := s.redisClient.Close(); err != nil {
		s.logger.Error("Failed to close redis", zap.Error(err))
	}

	return nil
}

// onExternalChange 外部变更推送到达
// 对账进行中时丢弃：写入完成后的本地状态已是最新，无需再读
func (s *EquipmentService) onExternalChange() {
	if atomic.LoadInt32(&s.inFlight) == 1 {
		return
	}
	s.enqueueTrigger()
}

// enqueueTrigger 投递一次刷新触发，信箱已满则合并
func (s *EquipmentService) enqueueTrigger() {
	select {
	case s.triggers <- struct{}{}:
	default:
	}
}

// runCycle 执行一轮刷新：拉取设备 → 对账提醒 → 推导并持久化状态变化
func (s *EquipmentService) runCycle(ctx context.Context) {
	atomic.StoreInt32(&s.inFlight, 1)
	defer atomic.StoreInt32(&s.inFlight, 0)

	now := time.Now()
	atomic.AddInt64(&s.cycles, 1)

	equipment, err := s.equipmentRepo.ListEquipment(ctx)
	if err != nil {
		// 库不可用保持上一轮的本地推导，下一轮重试
		s.logger.Warn("failed to list equipment, retrying next cycle", zap.Error(err))
		return
	}

	// 提醒条件依据本轮落库前的快照评估
	_, alertsChanged, _ := s.reconciler.Run(ctx, equipment, now)

	equipmentChanged := false
	for _, eq := range equipment {
		projected := s.projector.Project(eq, now)
		updates := projectionUpdates(eq, projected)
		if len(updates) == 0 {
			continue
		}
		if _, err := s.equipmentRepo.UpdateEquipment(ctx, eq.ID, updates); err != nil {
			s.logger.Warn("failed to persist projected state",
				zap.String("equipment_id", eq.ID),
				zap.Error(err))
			continue
		}
		equipmentChanged = true
	}

	if s.notifier != nil {
		if equipmentChanged {
			if err := s.notifier.PublishChange(notify.EntityEquipment); err != nil {
				s.logger.Warn("failed to publish equipment change", zap.Error(err))
			}
		}
		if alertsChanged {
			if err := s.notifier.PublishChange(notify.EntityAlerts); err != nil {
				s.logger.Warn("failed to publish alerts change", zap.Error(err))
			}
		}
	}
}

// projectionUpdates 比较推导前后的设备状态，产出需要落库的字段
func projectionUpdates(old, projected *models.Equipment) map[string]interface{} {
	updates := map[string]interface{}{}

	if projected.Status != old.Status {
		updates["status"] = string(projected.Status)
	}
	if projected.BatteryLevel != old.BatteryLevel {
		updates["battery_level"] = projected.BatteryLevel
	}
	if projected.IsDeepCharge != old.IsDeepCharge {
		updates["is_deep_charge"] = projected.IsDeepCharge
	}
	if projected.NeedsManualDisconnection != old.NeedsManualDisconnection {
		updates["needs_manual_disconnection"] = projected.NeedsManualDisconnection
	}
	if !timePtrEqual(projected.ChargingStartTime, old.ChargingStartTime) {
		updates["charging_start_time"] = timeValue(projected.ChargingStartTime)
	}
	if !timePtrEqual(projected.LastChargedDate, old.LastChargedDate) {
		updates["last_charged_date"] = timeValue(projected.LastChargedDate)
	}
	if !timePtrEqual(projected.LastUsedDate, old.LastUsedDate) {
		updates["last_used_date"] = timeValue(projected.LastUsedDate)
	}

	return updates
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func timeValue(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

// ============================================
// 指令入口：执行后立即触发一轮刷新
// ============================================

// AddEquipment 登记新设备
func (s *EquipmentService) AddEquipment(ctx context.Context, input commands.AddEquipmentInput) (*models.Equipment, error) {
	eq, err := s.commands.AddEquipment(ctx, input)
	if err != nil {
		return nil, err
	}
	s.afterCommand()
	return eq, nil
}

// CheckIn 设备从诊所收回办公室充电
func (s *EquipmentService) CheckIn(ctx context.Context, id string) (*models.Equipment, error) {
	return s.runCommand(func() (*models.Equipment, error) {
		return s.commands.CheckIn(ctx, id)
	})
}

// StartCharging 待命设备开始充电；在诊所的设备连接患者
func (s *EquipmentService) StartCharging(ctx context.Context, id string, isDeepCharge bool) (*models.Equipment, error) {
	return s.runCommand(func() (*models.Equipment, error) {
		return s.commands.StartCharging(ctx, id, isDeepCharge)
	})
}

// CheckOut 设备发往诊所
func (s *EquipmentService) CheckOut(ctx context.Context, id, clinicName, clinicCity string) (*models.Equipment, error) {
	return s.runCommand(func() (*models.Equipment, error) {
		return s.commands.CheckOut(ctx, id, clinicName, clinicCity)
	})
}

// StopCharging 停止充电或断开患者
func (s *EquipmentService) StopCharging(ctx context.Context, id string) (*models.Equipment, error) {
	return s.runCommand(func() (*models.Equipment, error) {
		return s.commands.StopCharging(ctx, id)
	})
}

// StartDeepCharge 在诊所开始深度充电
func (s *EquipmentService) StartDeepCharge(ctx context.Context, id string) (*models.Equipment, error) {
	return s.runCommand(func() (*models.Equipment, error) {
		return s.commands.StartDeepCharge(ctx, id)
	})
}

// ManualDisconnect 深度充电完成后的人工断开
func (s *EquipmentService) ManualDisconnect(ctx context.Context, id string) (*models.Equipment, error) {
	return s.runCommand(func() (*models.Equipment, error) {
		return s.commands.ManualDisconnect(ctx, id)
	})
}

// MarkCharged 人工标记充电完成
func (s *EquipmentService) MarkCharged(ctx context.Context, id string) (*models.Equipment, error) {
	return s.runCommand(func() (*models.Equipment, error) {
		return s.commands.MarkCharged(ctx, id)
	})
}

// DismissAlert 忽略一条提醒
func (s *EquipmentService) DismissAlert(ctx context.Context, alertID string) error {
	if err := s.alertsRepo.DismissAlert(ctx, alertID); err != nil {
		return err
	}
	s.afterCommand()
	return nil
}

func (s *EquipmentService) runCommand(fn func() (*models.Equipment, error)) (*models.Equipment, error) {
	eq, err := fn()
	if err != nil {
		return nil, err
	}
	if eq != nil {
		s.afterCommand()
	}
	return eq, nil
}

func (s *EquipmentService) afterCommand() {
	s.enqueueTrigger()
	if s.notifier != nil {
		if err := s.notifier.PublishChange(notify.EntityEquipment); err != nil {
			s.logger.Warn("failed to publish equipment change", zap.Error(err))
		}
	}
}

// ============================================
// 查询入口
// ============================================

// ListEquipment 获取全部设备的当前推导状态
func (s *EquipmentService) ListEquipment(ctx context.Context) ([]*models.Equipment, error) {
	equipment, err := s.equipmentRepo.ListEquipment(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	projected := make([]*models.Equipment, 0, len(equipment))
	for _, eq := range equipment {
		projected = append(projected, s.projector.Project(eq, now))
	}
	return projected, nil
}

// ActiveAlerts 获取当前提醒：优先读展示缓存，缓存空时回源库
func (s *EquipmentService) ActiveAlerts(ctx context.Context) ([]*models.Alert, error) {
	cached, err := s.alertCache.GetActiveAlerts(ctx)
	if err == nil && len(cached) > 0 {
		return cached, nil
	}
	return s.alertsRepo.ListActiveAlerts(ctx)
}

// EquipmentHistory 获取设备变更记录
func (s *EquipmentService) EquipmentHistory(ctx context.Context, equipmentID string, limit int) ([]*models.EquipmentHistory, error) {
	return s.historyRepo.ListByEquipment(ctx, equipmentID, limit)
}

// Stats 服务运行统计
type Stats struct {
	Cycles         int64          `json:"cycles"`
	EquipmentTotal int            `json:"equipment_total"`
	ByStatus       map[string]int `json:"by_status"`
}

// Snapshot 当前运行统计
func (s *EquipmentService) Snapshot(ctx context.Context) (*Stats, error) {
	equipment, err := s.equipmentRepo.ListEquipment(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		Cycles:         atomic.LoadInt64(&s.cycles),
		EquipmentTotal: len(equipment),
		ByStatus:       map[string]int{},
	}
	for _, eq := range equipment {
		stats.ByStatus[string(eq.Status)]++
	}
	return stats, nil
}

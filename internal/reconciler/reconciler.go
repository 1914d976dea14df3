package reconciler

import (
	"context"
	"time"

	"topivac-equipment/internal/cache"
	"topivac-equipment/internal/config"
	"topivac-equipment/internal/models"
	"topivac-equipment/internal/repository"

	"go.uber.org/zap"
)

// Delta 对账计算出的增删改集合
type Delta struct {
	ToCreate []*models.Alert
	ToUpdate []*models.Alert
	ToDelete []string
}

// Empty 是否无需任何写入
func (d *Delta) Empty() bool {
	return len(d.ToCreate) == 0 && len(d.ToUpdate) == 0 && len(d.ToDelete) == 0
}

// Reconciler 提醒对账器
// 每轮以设备状态推导期望提醒集合，与库中现有提醒比对后增删改，
// 使提醒表始终反映当前状态，不产生重复或过期条目
type Reconciler struct {
	builder            *Builder
	alerts             *repository.AlertsRepository
	alertCache         *cache.AlertCache
	logger             *zap.Logger
	dismissedRetention time.Duration
}

// NewReconciler 创建提醒对账器
func NewReconciler(
	cfg config.EquipmentConfig,
	builder *Builder,
	alerts *repository.AlertsRepository,
	alertCache *cache.AlertCache,
	logger *zap.Logger,
) *Reconciler {
	return &Reconciler{
		builder:            builder,
		alerts:             alerts,
		alertCache:         alertCache,
		logger:             logger,
		dismissedRetention: time.Duration(cfg.DismissedRetentionMinutes) * time.Minute,
	}
}

// Desired 计算全部设备在 now 时刻应存在的提醒集合
// 纯函数：相同输入产生相同的ID集合
func (r *Reconciler) Desired(equipment []*models.Equipment, now time.Time) []*models.Alert {
	desired := []*models.Alert{}
	for _, eq := range equipment {
		desired = append(desired, r.builder.BuildForEquipment(eq, now)...)
	}
	return desired
}

// Diff 将期望集合与库中现有提醒比对
//
// 已忽略的提醒完全排除在比对之外：条件仍成立时不会以同一ID复活，
// 条件真正重现需派生新ID（如校准完成ID中携带的充电完成时间戳）
func (r *Reconciler) Diff(stored []*models.Alert, desired []*models.Alert) Delta {
	dismissed := map[string]bool{}
	active := map[string]*models.Alert{}
	for _, a := range stored {
		if a.Dismissed {
			dismissed[a.ID] = true
		} else {
			active[a.ID] = a
		}
	}

	desiredByID := map[string]*models.Alert{}
	for _, a := range desired {
		desiredByID[a.ID] = a
	}

	delta := Delta{}

	// 条件已消失的活跃提醒删除
	for id := range active {
		if _, ok := desiredByID[id]; !ok {
			delta.ToDelete = append(delta.ToDelete, id)
		}
	}

	for _, a := range desired {
		if dismissed[a.ID] {
			continue // 已忽略，不复活
		}
		existing, ok := active[a.ID]
		if !ok {
			delta.ToCreate = append(delta.ToCreate, a)
			continue
		}
		if existing.Message != a.Message || existing.Severity != a.Severity {
			delta.ToUpdate = append(delta.ToUpdate, a)
		}
	}

	return delta
}

// Run 执行一轮对账：推导期望集合、比对、落库、刷新展示缓存
//
// 返回期望集合与是否发生变更。写入失败不中断：期望集合始终写入缓存
// 作为展示侧的真实来源，下一轮从头重试差异
func (r *Reconciler) Run(ctx context.Context, equipment []*models.Equipment, now time.Time) ([]*models.Alert, bool, error) {
	desired := r.Desired(equipment, now)

	stored, err := r.alerts.ListAlerts(ctx)
	if err != nil {
		r.logger.Warn("failed to list stored alerts, keeping desired set as local truth",
			zap.Error(err))
		r.writeCache(ctx, desired)
		return desired, false, err
	}

	delta := r.Diff(stored, desired)
	changed := !delta.Empty()

	// 删 → 增 → 改；单步失败记录后继续，下一轮重试
	if len(delta.ToDelete) > 0 {
		if err := r.alerts.DeleteAlerts(ctx, delta.ToDelete); err != nil {
			r.logger.Warn("failed to delete stale alerts", zap.Error(err))
		}
	}
	if len(delta.ToCreate) > 0 {
		if err := r.alerts.CreateAlerts(ctx, delta.ToCreate); err != nil {
			r.logger.Warn("failed to create alerts", zap.Error(err))
		}
	}
	for _, a := range delta.ToUpdate {
		if err := r.alerts.UpdateAlertMessage(ctx, a.ID, a.Severity, a.Message); err != nil {
			r.logger.Warn("failed to update alert",
				zap.String("alert_id", a.ID),
				zap.Error(err))
		}
	}

	r.pruneDismissed(ctx, desired, now)
	r.writeCache(ctx, desired)

	if changed {
		r.logger.Info("alert reconciliation applied",
			zap.Int("created", len(delta.ToCreate)),
			zap.Int("updated", len(delta.ToUpdate)),
			zap.Int("deleted", len(delta.ToDelete)))
	}

	return desired, changed, nil
}

// pruneDismissed 清理忽略已久且条件不再成立的历史提醒
func (r *Reconciler) pruneDismissed(ctx context.Context, desired []*models.Alert, now time.Time) {
	keepIDs := make([]string, 0, len(desired))
	for _, a := range desired {
		keepIDs = append(keepIDs, a.ID)
	}

	deleted, err := r.alerts.DeleteDismissedBefore(ctx, now.Add(-r.dismissedRetention), keepIDs)
	if err != nil {
		r.logger.Warn("failed to prune dismissed alerts", zap.Error(err))
		return
	}
	if deleted > 0 {
		r.logger.Debug("pruned dismissed alerts", zap.Int64("count", deleted))
	}
}

func (r *Reconciler) writeCache(ctx context.Context, desired []*models.Alert) {
	if r.alertCache == nil {
		return
	}
	if err := r.alertCache.SetActiveAlerts(ctx, desired); err != nil {
		r.logger.Warn("failed to write alert cache", zap.Error(err))
	}
}

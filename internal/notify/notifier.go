package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"topivac-equipment/internal/common/mqtt"
	"topivac-equipment/internal/config"

	"go.uber.org/zap"
)

// 变更通知的实体类型
const (
	EntityEquipment = "equipment"
	EntityAlerts    = "alerts"
)

// ChangeEvent 实体变更事件
// 仅作为"有变化"的信号，消费方收到后自行重新拉取，不携带数据本身
type ChangeEvent struct {
	Entity    string    `json:"entity"`
	Timestamp time.Time `json:"timestamp"`
}

// ChangeHandler 变更事件处理函数
type ChangeHandler func(event ChangeEvent)

// Notifier 变更通知接口
type Notifier interface {
	PublishChange(entity string) error
	SubscribeChanges(handler ChangeHandler) error
	Close()
}

// MQTTNotifier 基于MQTT的变更通知
type MQTTNotifier struct {
	client      *mqtt.Client
	topicPrefix string
	qos         byte
	logger      *zap.Logger
}

// NewMQTTNotifier 创建MQTT变更通知器
func NewMQTTNotifier(client *mqtt.Client, cfg config.NotifyConfig, qos byte, logger *zap.Logger) *MQTTNotifier {
	return &MQTTNotifier{
		client:      client,
		topicPrefix: cfg.TopicPrefix,
		qos:         qos,
		logger:      logger,
	}
}

// PublishChange 发布实体变更信号
func (n *MQTTNotifier) PublishChange(entity string) error {
	event := ChangeEvent{
		Entity:    entity,
		Timestamp: time.Now(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal change event: %w", err)
	}

	topic := n.topicPrefix + entity
	if err := n.client.Publish(topic, n.qos, false, payload); err != nil {
		return fmt.Errorf("failed to publish change event: %w", err)
	}

	n.logger.Debug("published change event",
		zap.String("topic", topic),
		zap.String("entity", entity))

	return nil
}

// SubscribeChanges 订阅全部实体的变更信号
func (n *MQTTNotifier) SubscribeChanges(handler ChangeHandler) error {
	topic := n.topicPrefix + "#"

	return n.client.Subscribe(topic, n.qos, func(topic string, payload []byte) error {
		var event ChangeEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			return fmt.Errorf("failed to unmarshal change event: %w", err)
		}
		handler(event)
		return nil
	})
}

// Close 断开连接
func (n *MQTTNotifier) Close() {
	n.client.Disconnect()
}

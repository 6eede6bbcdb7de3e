package mqtt

import (
	"context"
	"encoding/json"
	"fmt"

	"kittypau/internal/config"
	"kittypau/internal/service"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// HeartbeatConsumer 可选的 MQTT 心跳接入
// 订阅 kittypau/bridge/+/heartbeat，payload 与 HTTP 心跳 body 同构，
// 走同一条 service 路径。
type HeartbeatConsumer struct {
	client           mqtt.Client
	cfg              config.MQTTConfig
	heartbeatService service.HeartbeatService
	logger           *zap.Logger
}

// NewHeartbeatConsumer 创建并连接 MQTT 消费者
func NewHeartbeatConsumer(cfg config.MQTTConfig, heartbeatService service.HeartbeatService, logger *zap.Logger) (*HeartbeatConsumer, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return &HeartbeatConsumer{
		client:           client,
		cfg:              cfg,
		heartbeatService: heartbeatService,
		logger:           logger,
	}, nil
}

// Start 订阅心跳主题
func (c *HeartbeatConsumer) Start() error {
	if token := c.client.Subscribe(c.cfg.Topic, c.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		if err := c.handleMessage(msg.Topic(), msg.Payload()); err != nil {
			// 记录错误，但不中断消费
			c.logger.Warn("Failed to handle MQTT heartbeat",
				zap.String("topic", msg.Topic()),
				zap.Error(err),
			)
		}
	}); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", c.cfg.Topic, token.Error())
	}

	c.logger.Info("MQTT heartbeat consumer started", zap.String("topic", c.cfg.Topic))
	return nil
}

func (c *HeartbeatConsumer) handleMessage(topic string, payload []byte) error {
	var req service.IngestHeartbeatRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("invalid heartbeat payload on %s: %w", topic, err)
	}
	_, err := c.heartbeatService.Ingest(context.Background(), req)
	return err
}

// Stop 断开连接
func (c *HeartbeatConsumer) Stop() {
	c.client.Disconnect(250)
}

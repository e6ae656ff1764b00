package publisher

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MQTTPublisher wraps a Paho MQTT client.
type MQTTPublisher struct {
	client mqtt.Client
	qos    byte
	log    *zap.Logger

	mu   sync.Mutex
	subs map[string]Handler
}

// MQTTOptions configures the MQTT publisher.
type MQTTOptions struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
	// WillTopic, when set, receives WillPayload (retained) if the
	// connection drops without a clean disconnect.
	WillTopic   string
	WillPayload []byte
	Logger      *zap.Logger
}

// NewMQTTPublisher creates and connects an MQTT publisher.
func NewMQTTPublisher(opts MQTTOptions) (*MQTTPublisher, error) {
	p := &MQTTPublisher{qos: opts.QoS, log: opts.Logger, subs: make(map[string]Handler)}
	if p.log == nil {
		p.log = zap.NewNop()
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(60 * time.Second).
		SetOnConnectHandler(p.resubscribe)
	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username).SetPassword(opts.Password)
	}
	if opts.WillTopic != "" {
		clientOpts.SetBinaryWill(opts.WillTopic, opts.WillPayload, opts.QoS, true)
	}

	p.client = mqtt.NewClient(clientOpts)
	token := p.client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to MQTT broker %s: %w", opts.Broker, err)
	}

	return p, nil
}

func (p *MQTTPublisher) Publish(ctx context.Context, topic string, payload []byte, retained bool) error {
	return wait(ctx, p.client.Publish(topic, p.qos, retained, payload))
}

// Subscribe registers h for filter. Subscriptions are restored after a
// reconnect.
func (p *MQTTPublisher) Subscribe(ctx context.Context, filter string, h Handler) error {
	p.mu.Lock()
	p.subs[filter] = h
	p.mu.Unlock()

	if err := wait(ctx, p.client.Subscribe(filter, p.qos, deliver(h))); err != nil {
		return fmt.Errorf("subscribing to %s: %w", filter, err)
	}
	return nil
}

// resubscribe runs on every (re)connect. Each outcome is logged once its
// token completes.
func (p *MQTTPublisher) resubscribe(c mqtt.Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for filter, h := range p.subs {
		go p.report(filter, c.Subscribe(filter, p.qos, deliver(h)))
	}
}

func (p *MQTTPublisher) report(filter string, token mqtt.Token) {
	<-token.Done()
	if err := token.Error(); err != nil {
		p.log.Error("resubscribe failed, commands on this filter are lost until the next reconnect",
			zap.String("filter", filter), zap.Error(err))
		return
	}
	p.log.Debug("resubscribed", zap.String("filter", filter))
}

func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(1000)
	return nil
}

func deliver(h Handler) mqtt.MessageHandler {
	return func(_ mqtt.Client, m mqtt.Message) {
		h(m.Topic(), m.Payload())
	}
}

func wait(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

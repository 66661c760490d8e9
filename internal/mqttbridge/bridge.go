// Package mqttbridge mirrors scheduler events onto MQTT so Home Assistant
// automations can react to them, and accepts dismiss/snooze commands for
// alarms from the same broker.
//
// Topics (prefix defaults to "chime"):
//
//	<prefix>/<event type>              JSON TaskEvent, e.g. chime/alarm.ringing
//	<prefix>/alarm/<id or name>/dismiss
//	<prefix>/alarm/<id or name>/snooze  payload: minutes, empty for default
package mqttbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"chime/internal/alarm"
	"chime/internal/eventbus"
	"chime/pkg/logx"
)

type Config struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	Username    string
	Password    string
	QoS         byte
}

func (c Config) withDefaults() Config {
	if c.ClientID == "" {
		c.ClientID = "chime"
	}
	c.TopicPrefix = strings.Trim(c.TopicPrefix, "/")
	if c.TopicPrefix == "" {
		c.TopicPrefix = "chime"
	}
	if c.QoS > 2 {
		c.QoS = 1
	}
	return c
}

// Alarms is the part of the alarm service commands reach.
type Alarms interface {
	Find(idOrName string) (alarm.Clock, bool)
	Dismiss(ctx context.Context, id string) (alarm.Clock, error)
	Snooze(ctx context.Context, id string, minutes int) (alarm.Clock, error)
}

type Bridge struct {
	cfg    Config
	client mqtt.Client
	alarms Alarms
	log    logx.Logger
}

// New builds a paho client for cfg. Connect happens in Run.
func New(cfg Config, alarms Alarms, log logx.Logger) *Bridge {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	b := &Bridge{cfg: cfg, alarms: alarms, log: log}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetWill(b.topic("status"), "offline", cfg.QoS, true)
	opts.OnConnect = b.onConnect
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		b.log.Warn("mqtt connection lost", logx.Err(err))
	}
	b.client = mqtt.NewClient(opts)
	return b
}

// newWithClient is used by tests to supply a fake client.
func newWithClient(cfg Config, client mqtt.Client, alarms Alarms, log logx.Logger) *Bridge {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Bridge{cfg: cfg.withDefaults(), client: client, alarms: alarms, log: log}
}

func (b *Bridge) topic(parts ...string) string {
	return b.cfg.TopicPrefix + "/" + strings.Join(parts, "/")
}

func (b *Bridge) onConnect(c mqtt.Client) {
	b.log.Info("mqtt connected", logx.String("broker", b.cfg.Broker))
	c.Publish(b.topic("status"), b.cfg.QoS, true, "online")
	if b.alarms == nil {
		return
	}
	tok := c.Subscribe(b.topic("alarm", "+", "+"), b.cfg.QoS, func(_ mqtt.Client, m mqtt.Message) {
		b.handleCommand(context.Background(), m.Topic(), m.Payload())
	})
	if tok.WaitTimeout(5*time.Second) && tok.Error() != nil {
		b.log.Warn("mqtt subscribe failed", logx.Err(tok.Error()))
	}
}

// Run connects and forwards bus events until ctx is done.
func (b *Bridge) Run(ctx context.Context, bus eventbus.Bus) error {
	if tok := b.client.Connect(); tok.Wait() && tok.Error() != nil {
		return fmt.Errorf("mqtt connect: %w", tok.Error())
	}
	defer func() {
		b.client.Publish(b.topic("status"), b.cfg.QoS, true, "offline").WaitTimeout(time.Second)
		b.client.Disconnect(250)
	}()

	ch, unsub := bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			if err := b.Forward(e); err != nil {
				b.log.Warn("mqtt publish failed", logx.String("event", e.Type), logx.Err(err))
			}
		}
	}
}

// Forward publishes one event. Only task and alarm events are mirrored.
func (b *Bridge) Forward(e eventbus.Event) error {
	te, ok := e.Data.(eventbus.TaskEvent)
	if !ok {
		return nil
	}
	payload, err := json.Marshal(struct {
		eventbus.TaskEvent
		Time time.Time `json:"time"`
	}{te, e.Time})
	if err != nil {
		return err
	}
	tok := b.client.Publish(b.topic(e.Type), b.cfg.QoS, false, payload)
	if !tok.WaitTimeout(5 * time.Second) {
		return errors.New("publish timed out")
	}
	return tok.Error()
}

func (b *Bridge) handleCommand(ctx context.Context, topic string, payload []byte) {
	rest := strings.TrimPrefix(topic, b.topic("alarm")+"/")
	slash := strings.LastIndexByte(rest, '/')
	if slash <= 0 || rest == topic {
		return
	}
	ref, verb := rest[:slash], rest[slash+1:]
	c, ok := b.alarms.Find(ref)
	if !ok {
		b.log.Warn("mqtt command for unknown alarm", logx.String("alarm", ref))
		return
	}

	var err error
	switch verb {
	case "dismiss":
		_, err = b.alarms.Dismiss(ctx, c.ID)
	case "snooze":
		minutes, _ := strconv.Atoi(strings.TrimSpace(string(payload)))
		_, err = b.alarms.Snooze(ctx, c.ID, minutes)
	default:
		b.log.Debug("mqtt command ignored", logx.String("topic", topic))
		return
	}
	if err != nil {
		b.log.Warn("mqtt command failed", logx.String("alarm", c.ID), logx.String("verb", verb), logx.Err(err))
		return
	}
	b.log.Info("mqtt command applied", logx.String("alarm", c.ID), logx.String("verb", verb))
}

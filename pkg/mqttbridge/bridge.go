package mqttbridge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/levenlabs/go-lflag"
	"github.com/slxcharge/slxcharge/pkg/log"
	"github.com/slxcharge/slxcharge/pkg/types"
)

const (
	TopicPlug     = "plug"
	TopicEnergy   = "energy"
	TopicSoc      = "soc"
	TopicOdometer = "odometer"
)

const publishTimeout = 10 * time.Second

// Handler receives the events decoded from MQTT messages. A zero timestamp
// means the reading is current.
type Handler interface {
	PlugChanged(ctx context.Context, ev types.PlugEvent)
	EnergyReading(ctx context.Context, ev types.ReadingEvent)
	SocReading(ctx context.Context, ev types.ReadingEvent)
	OdometerReading(ctx context.Context, ev types.ReadingEvent)
}

// Bridge subscribes to the vehicle and charger topics on an MQTT broker and
// publishes commands back to it.
type Bridge struct {
	broker   string
	clientID string
	username string
	password string
	prefix   string

	client mqtt.Client
}

// Configured registers the MQTT flags. The bridge is disabled when no broker
// is set.
func Configured() *Bridge {
	b := &Bridge{}
	broker := lflag.String("mqtt-broker", "", "MQTT broker address (e.g. tcp://localhost:1883); empty disables MQTT")
	clientID := lflag.String("mqtt-client-id", "slxcharge", "MQTT client ID")
	username := lflag.String("mqtt-username", "", "MQTT username")
	password := lflag.String("mqtt-password", "", "MQTT password")
	prefix := lflag.String("mqtt-topic-prefix", "slxcharge", "Prefix of the MQTT event topics")

	lflag.Do(func() {
		b.broker = *broker
		b.clientID = *clientID
		b.username = *username
		b.password = *password
		b.prefix = strings.Trim(*prefix, "/")
	})
	return b
}

// Enabled reports whether a broker was configured.
func (b *Bridge) Enabled() bool {
	return b.broker != ""
}

// Topic returns the full topic for name under the configured prefix.
func (b *Bridge) Topic(name string) string {
	if b.prefix == "" {
		return name
	}
	return b.prefix + "/" + name
}

// Connect dials the broker and subscribes to the event topics. Subscriptions
// are renewed on every reconnect.
func (b *Bridge) Connect(ctx context.Context, h Handler) error {
	if !b.Enabled() {
		return fmt.Errorf("mqtt broker is not configured")
	}
	cbCtx := context.WithoutCancel(ctx)

	opts := mqtt.NewClientOptions().AddBroker(b.broker)
	opts.SetClientID(b.clientID)
	if b.username != "" {
		opts.SetUsername(b.username)
		opts.SetPassword(b.password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Ctx(cbCtx).WarnContext(cbCtx, "mqtt connection lost", slog.Any("error", err))
	})
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		log.Ctx(cbCtx).InfoContext(cbCtx, "mqtt connected", slog.String("broker", b.broker))
		for _, name := range []string{TopicPlug, TopicEnergy, TopicSoc, TopicOdometer} {
			topic := b.Topic(name)
			if token := c.Subscribe(topic, 1, b.messageHandler(cbCtx, h)); token.Wait() && token.Error() != nil {
				log.Ctx(cbCtx).ErrorContext(cbCtx, "failed to subscribe", slog.String("topic", topic), slog.Any("error", token.Error()))
			}
		}
	})

	c := mqtt.NewClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to mqtt broker: %w", token.Error())
	}
	b.client = c
	return nil
}

// Publish sends payload as a retained message.
func (b *Bridge) Publish(ctx context.Context, topic string, payload []byte) error {
	if b.client == nil {
		return fmt.Errorf("mqtt is not connected")
	}
	token := b.client.Publish(topic, 1, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("timed out publishing to %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	log.Ctx(ctx).DebugContext(ctx, "published mqtt message", slog.String("topic", topic))
	return nil
}

// Close disconnects from the broker.
func (b *Bridge) Close() {
	if b.client != nil {
		b.client.Disconnect(250)
	}
}

func (b *Bridge) messageHandler(ctx context.Context, h Handler) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		b.dispatch(ctx, h, msg.Topic(), msg.Payload())
	}
}

// dispatch decodes a message and forwards it. Undecodable payloads are
// dropped.
func (b *Bridge) dispatch(ctx context.Context, h Handler, topic string, payload []byte) {
	name := strings.TrimPrefix(topic, b.Topic(""))
	switch name {
	case TopicPlug:
		ev, err := types.ParsePlugEvent(payload)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "dropping mqtt message", slog.String("topic", topic), slog.Any("error", err))
			return
		}
		h.PlugChanged(ctx, ev)
	case TopicEnergy, TopicSoc, TopicOdometer:
		ev, err := types.ParseReadingEvent(payload)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "dropping mqtt message", slog.String("topic", topic), slog.Any("error", err))
			return
		}
		switch name {
		case TopicEnergy:
			h.EnergyReading(ctx, ev)
		case TopicSoc:
			h.SocReading(ctx, ev)
		default:
			h.OdometerReading(ctx, ev)
		}
	default:
		log.Ctx(ctx).DebugContext(ctx, "ignoring mqtt message", slog.String("topic", topic))
	}
}

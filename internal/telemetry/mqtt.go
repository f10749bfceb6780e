package telemetry

import (
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/fanctl/internal/errors"
	"codeberg.org/mutker/fanctl/internal/logger"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	mqttQueueSize      = 64
	mqttConnectTimeout = 10 * time.Second
	mqttPublishTimeout = 2 * time.Second
	mqttQuiesceMillis  = 250
	mqttQoS            = 0
)

// mqttClient is the subset of mqtt.Client the publisher needs.
type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

type publisher struct {
	client mqttClient
	topic  string
	logger logger.Logger

	mu     sync.Mutex
	closed bool
	queue  chan *Snapshot
	done   chan struct{}
}

// NewMQTTPublisher connects to the broker and publishes every snapshot as
// JSON. Publishing happens on a background goroutine; when the broker
// falls behind, snapshots are dropped rather than stalling a controller.
func NewMQTTPublisher(cfg MQTTConfig, log logger.Logger) (Repository, error) {
	errFactory := errors.New()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info().Str("broker", cfg.Broker).Msg("Connected to MQTT broker")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", cfg.Broker).Msg("MQTT connection lost")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		// SetConnectRetry keeps trying in the background
		log.Warn().Str("broker", cfg.Broker).Msg("MQTT broker not reachable yet, retrying in background")
	} else if err := token.Error(); err != nil {
		return nil, errFactory.Wrap(ErrPublisherConnect, err)
	}

	return newPublisher(client, cfg.Topic, log), nil
}

func newPublisher(client mqttClient, topic string, log logger.Logger) *publisher {
	p := &publisher{
		client: client,
		topic:  topic,
		logger: log,
		queue:  make(chan *Snapshot, mqttQueueSize),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *publisher) Record(snapshot *Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return errors.New().New(ErrStorageClose)
	}

	select {
	case p.queue <- snapshot:
		return nil
	default:
		return errors.New().WithData(ErrPublisherDropped, snapshot.Fan)
	}
}

func (p *publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	<-p.done
	p.client.Disconnect(mqttQuiesceMillis)
	p.logger.Info().Msg("MQTT publisher closed")

	return nil
}

func (p *publisher) run() {
	defer close(p.done)

	for snapshot := range p.queue {
		if err := p.publish(snapshot); err != nil {
			p.logger.Warn().Err(err).Int("fan", snapshot.Fan).Msg("Failed to publish telemetry")
		}
	}
}

func (p *publisher) publish(snapshot *Snapshot) error {
	errFactory := errors.New()

	payload, err := json.Marshal(snapshot)
	if err != nil {
		return errFactory.Wrap(ErrInvalidSnapshot, err)
	}

	token := p.client.Publish(formatTopic(p.topic, snapshot.Fan), mqttQoS, false, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		return errFactory.New(ErrOperationTimeout)
	}
	if err := token.Error(); err != nil {
		return errFactory.Wrap(ErrCollection, err)
	}

	return nil
}

// formatTopic replaces the {fan} placeholder with the fan index
func formatTopic(pattern string, fan int) string {
	return strings.ReplaceAll(pattern, "{fan}", strconv.Itoa(fan))
}

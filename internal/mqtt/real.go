package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// DefaultBufferSize is how many publishes are held while the broker is away.
const DefaultBufferSize = 256

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// Options configures NewRealPublisher.
type Options struct {
	Broker   string
	ClientID string
	// Base is the topic prefix, normally the hostname.
	Base string
	// Commands receives actuation commands; nil disables the subscription.
	Commands Sink
	Stats    Stats
	// BufferSize bounds the offline queue; DefaultBufferSize when zero.
	BufferSize int
	Logger     *zap.SugaredLogger
	// OnConnectionChange is called from paho's goroutines.
	OnConnectionChange func(connected bool)
}

// RealPublisher publishes to an actual MQTT broker.
type RealPublisher struct {
	client   paho.Client
	base     string
	log      *zap.SugaredLogger
	commands *commandHandler
	onChange func(bool)

	// send delivers one message to the broker and waits for the ack.
	send func(bufferedMsg) error

	mu   sync.Mutex
	buf  *backlog
	link bool // paho reports the session up
	// connected is set once the backlog has been replayed. Until then
	// publishes join the backlog so they go out after the older ones.
	connected bool
	everUp    bool
}

// NewRealPublisher creates a publisher for the given broker. A broker that
// is not reachable yet is not an error: the client keeps retrying and
// publishes are buffered until it connects.
func NewRealPublisher(opts Options) (*RealPublisher, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	size := opts.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}
	clientID := opts.ClientID
	if clientID == "" {
		clientID = opts.Base
	}

	p := &RealPublisher{
		base:     opts.Base,
		log:      log,
		onChange: opts.OnConnectionChange,
		buf:      newBacklog(size),
	}
	p.send = p.deliver
	if opts.Commands != nil {
		p.commands = &commandHandler{base: opts.Base, sink: opts.Commands, stats: opts.Stats, log: log}
	}

	will, err := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: EventOffline})
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}

	co := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(SystemTopic(opts.Base), string(will), 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost)

	p.client = paho.NewClient(co)
	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		log.Warnw("broker not reachable yet, retrying in background", "broker", opts.Broker)
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

// PublishState sends a relay state change, retained so late subscribers
// see the current state.
func (p *RealPublisher) PublishState(event StateEvent) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	return p.publish(StateTopic(p.base, event.Channel), 1, true, payload)
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.publish(SystemTopic(p.base), 1, event.Retained, payload)
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}

func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	msg := bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained}
	p.mu.Lock()
	if !p.connected {
		if p.buf.push(msg) {
			p.log.Warnw("offline buffer full, dropping oldest", "capacity", p.buf.capacity)
		}
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	return p.send(msg)
}

func (p *RealPublisher) deliver(m bufferedMsg) error {
	token := p.client.Publish(m.topic, m.qos, m.retained, m.payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", m.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", m.topic, err)
	}
	return nil
}

// replay sends the backlog until it is empty and then marks the publisher
// connected. Publishes made while a batch is in flight are buffered and go
// out in the next batch. It stops early if the link drops again.
func (p *RealPublisher) replay() int {
	sent := 0
	for {
		p.mu.Lock()
		if !p.link {
			p.mu.Unlock()
			return sent
		}
		pending := p.buf.drainAll()
		if len(pending) == 0 {
			p.connected = true
			p.mu.Unlock()
			return sent
		}
		p.mu.Unlock()

		for _, m := range pending {
			if err := p.send(m); err != nil {
				p.log.Warnw("replay failed", "topic", m.topic, "error", err)
			}
		}
		sent += len(pending)
	}
}

func (p *RealPublisher) onConnect(c paho.Client) {
	p.mu.Lock()
	p.link = true
	reconnect := p.everUp
	p.everUp = true
	p.mu.Unlock()

	if p.commands != nil {
		filter := CommandFilter(p.base)
		token := c.Subscribe(filter, 1, func(_ paho.Client, m paho.Message) {
			p.commands.handle(m.Topic(), m.Payload())
		})
		if token.WaitTimeout(publishTimeout) && token.Error() != nil {
			p.log.Warnw("subscribe failed", "filter", filter, "error", token.Error())
		}
	}

	replayed := p.replay()
	if !p.IsConnected() {
		return
	}
	p.log.Infow("mqtt connected", "replayed", replayed)
	if p.onChange != nil {
		p.onChange(true)
	}

	if reconnect {
		err := p.PublishSystem(SystemEvent{Timestamp: time.Now(), Event: EventReconnected, Retained: true})
		if err != nil {
			p.log.Warnw("publish reconnect event", "error", err)
		}
	}
}

func (p *RealPublisher) onConnectionLost(_ paho.Client, err error) {
	p.mu.Lock()
	p.link = false
	p.connected = false
	p.mu.Unlock()

	p.log.Warnw("mqtt connection lost", "error", err)
	if p.onChange != nil {
		p.onChange(false)
	}
}

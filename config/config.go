package config

import (
	"fmt"
	"log"
	"time"

	"github.com/Meander-Cloud/go-netevent/neterror"
)

const (
	// defaults for when not provided in Config
	MaxFrameLength       uint32        = 10 * 1024 * 1024
	InboundQueueLength   uint32        = 1024
	OutboundQueueLength  uint32        = 256
	EventQueueLength     uint16        = 64
	TcpKeepAliveInterval time.Duration = time.Second * 17
	TcpKeepAliveCount    uint16        = 2
	TcpDialTimeout       time.Duration = time.Second * 3
	TcpReconnectInterval time.Duration = time.Second * 5
	TcpWriteTimeout      time.Duration = time.Second * 10
	TickRate             uint16        = 60

	// smallest legal frame carries only a tag
	MinFrameLength uint32 = 4
)

const (
	QueuePolicyPerType string = "per-type"
	QueuePolicyShared  string = "shared"

	UndrainedPolicyDeliver string = "deliver"
	UndrainedPolicyDiscard string = "discard"

	CodecMsgpack string = "msgpack"
	CodecJSON    string = "json"
)

type Config struct {
	ListenAddress  string `env:"LISTEN_ADDRESS"`
	ConnectAddress string `env:"CONNECT_ADDRESS"`
	Instance       string `env:"INSTANCE"`

	MaxFrameLength      uint32 `env:"MAX_FRAME_LENGTH"`
	InboundQueueLength  uint32 `env:"INBOUND_QUEUE_LENGTH"`
	OutboundQueueLength uint32 `env:"OUTBOUND_QUEUE_LENGTH"`
	EventQueueLength    uint16 `env:"EVENT_QUEUE_LENGTH"`
	QueuePolicy         string `env:"QUEUE_POLICY"`
	UndrainedPolicy     string `env:"UNDRAINED_POLICY"`
	Codec               string `env:"CODEC"`

	// seconds
	TcpKeepAliveInterval uint16 `env:"TCP_KEEPALIVE_INTERVAL"`
	TcpKeepAliveCount    uint16 `env:"TCP_KEEPALIVE_COUNT"`
	TcpDialTimeout       uint16 `env:"TCP_DIAL_TIMEOUT"`
	TcpReconnectInterval uint16 `env:"TCP_RECONNECT_INTERVAL"`
	TcpWriteTimeout      uint16 `env:"TCP_WRITE_TIMEOUT"`

	Reconnect bool   `env:"RECONNECT"`
	TickRate  uint16 `env:"TICK_RATE"`

	LogPrefix string `env:"LOG_PREFIX"`
	LogDebug  bool   `env:"LOG_DEBUG"`
}

func (c *Config) Validate() error {
	if c == nil {
		err := neterror.New(neterror.CodeInvalidConfig, "nil config")
		log.Printf("%s", err.Error())
		return err
	}

	if c.MaxFrameLength != 0 && c.MaxFrameLength < MinFrameLength {
		err := neterror.New(neterror.CodeInvalidConfig, "invalid MaxFrameLength=%d, must be at least %d", c.MaxFrameLength, MinFrameLength)
		log.Printf("%s: %s", c.LogPrefix, err.Error())
		return err
	}

	switch c.QueuePolicy {
	case "", QueuePolicyPerType, QueuePolicyShared:
	default:
		err := neterror.New(neterror.CodeInvalidConfig, "invalid QueuePolicy=%s", c.QueuePolicy)
		log.Printf("%s: %s", c.LogPrefix, err.Error())
		return err
	}

	switch c.UndrainedPolicy {
	case "", UndrainedPolicyDeliver, UndrainedPolicyDiscard:
	default:
		err := neterror.New(neterror.CodeInvalidConfig, "invalid UndrainedPolicy=%s", c.UndrainedPolicy)
		log.Printf("%s: %s", c.LogPrefix, err.Error())
		return err
	}

	switch c.Codec {
	case "", CodecMsgpack, CodecJSON:
	default:
		err := neterror.New(neterror.CodeInvalidConfig, "invalid Codec=%s", c.Codec)
		log.Printf("%s: %s", c.LogPrefix, err.Error())
		return err
	}

	if c.Reconnect && c.ConnectAddress == "" {
		err := neterror.New(neterror.CodeInvalidConfig, "Reconnect requires ConnectAddress")
		log.Printf("%s: %s", c.LogPrefix, err.Error())
		return err
	}

	return nil
}

// WithDefaults returns a copy with every zero field replaced by its default.
func (c *Config) WithDefaults() *Config {
	out := *c

	if out.MaxFrameLength == 0 {
		out.MaxFrameLength = MaxFrameLength
	}
	if out.InboundQueueLength == 0 {
		out.InboundQueueLength = InboundQueueLength
	}
	if out.OutboundQueueLength == 0 {
		out.OutboundQueueLength = OutboundQueueLength
	}
	if out.EventQueueLength == 0 {
		out.EventQueueLength = EventQueueLength
	}
	if out.QueuePolicy == "" {
		out.QueuePolicy = QueuePolicyPerType
	}
	if out.UndrainedPolicy == "" {
		out.UndrainedPolicy = UndrainedPolicyDeliver
	}
	if out.Codec == "" {
		out.Codec = CodecMsgpack
	}
	if out.TcpKeepAliveInterval == 0 {
		out.TcpKeepAliveInterval = uint16(TcpKeepAliveInterval / time.Second)
	}
	if out.TcpKeepAliveCount == 0 {
		out.TcpKeepAliveCount = TcpKeepAliveCount
	}
	if out.TcpDialTimeout == 0 {
		out.TcpDialTimeout = uint16(TcpDialTimeout / time.Second)
	}
	if out.TcpReconnectInterval == 0 {
		out.TcpReconnectInterval = uint16(TcpReconnectInterval / time.Second)
	}
	if out.TcpWriteTimeout == 0 {
		out.TcpWriteTimeout = uint16(TcpWriteTimeout / time.Second)
	}
	if out.TickRate == 0 {
		out.TickRate = TickRate
	}

	return &out
}

func (c *Config) KeepAliveInterval() time.Duration {
	return seconds(c.TcpKeepAliveInterval, TcpKeepAliveInterval)
}

func (c *Config) DialTimeout() time.Duration {
	return seconds(c.TcpDialTimeout, TcpDialTimeout)
}

func (c *Config) ReconnectInterval() time.Duration {
	return seconds(c.TcpReconnectInterval, TcpReconnectInterval)
}

func (c *Config) WriteTimeout() time.Duration {
	return seconds(c.TcpWriteTimeout, TcpWriteTimeout)
}

func (c *Config) String() string {
	return fmt.Sprintf(
		"listen=%s connect=%s instance=%s maxFrame=%d inbound=%d outbound=%d policy=%s undrained=%s codec=%s reconnect=%t",
		c.ListenAddress,
		c.ConnectAddress,
		c.Instance,
		c.MaxFrameLength,
		c.InboundQueueLength,
		c.OutboundQueueLength,
		c.QueuePolicy,
		c.UndrainedPolicy,
		c.Codec,
		c.Reconnect,
	)
}

func seconds(v uint16, fallback time.Duration) time.Duration {
	if v == 0 {
		return fallback
	}
	return time.Second * time.Duration(v)
}

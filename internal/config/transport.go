package config

import (
	"time"

	"irrigation-cloud/internal/channel"
	"irrigation-cloud/internal/retry"
)

// Transport is the broker section shared by the server and device processes.
type Transport struct {
	Driver         string        `yaml:"driver"`
	URL            string        `yaml:"url"`
	ClientPrefix   string        `yaml:"client_prefix"`
	TopicPrefix    string        `yaml:"topic_prefix"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	ReconnectMax   time.Duration `yaml:"reconnect_max_delay"`
}

func loadTransport(clientPrefix string) Transport {
	return Transport{
		Driver:         getenvDefault("TRANSPORT_DRIVER", channel.DriverMQTT),
		URL:            getenvDefault("TRANSPORT_URL", "tcp://localhost:1883"),
		ClientPrefix:   getenvDefault("TRANSPORT_CLIENT_PREFIX", clientPrefix),
		TopicPrefix:    getenvDefault("TRANSPORT_TOPIC_PREFIX", ""),
		Username:       getenvDefault("TRANSPORT_USERNAME", ""),
		Password:       getenvDefault("TRANSPORT_PASSWORD", ""),
		ConnectTimeout: getenvDuration("TRANSPORT_CONNECT_TIMEOUT", channel.DefaultConnectTimeout),
		ReconnectDelay: getenvDuration("TRANSPORT_RECONNECT_DELAY", 500*time.Millisecond),
		ReconnectMax:   getenvDuration("TRANSPORT_RECONNECT_MAX_DELAY", 30*time.Second),
	}
}

// Channel converts the section into a channel.Config.
func (t Transport) Channel() channel.Config {
	reconnect := retry.Reconnect()
	if t.ReconnectDelay > 0 {
		reconnect.InitialDelay = t.ReconnectDelay
	}
	if t.ReconnectMax > 0 {
		reconnect.MaxDelay = t.ReconnectMax
	}
	return channel.Config{
		Driver:         t.Driver,
		URL:            t.URL,
		ClientPrefix:   t.ClientPrefix,
		TopicPrefix:    t.TopicPrefix,
		Username:       t.Username,
		Password:       t.Password,
		ConnectTimeout: t.ConnectTimeout,
		Reconnect:      reconnect,
	}
}

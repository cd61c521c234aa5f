package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"net"
	"strconv"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/proflame-bridge/internal/infrastructure/config"
)

const (
	connectTimeout  = 10 * time.Second
	ackTimeout      = 5 * time.Second
	brokerKeepAlive = 60 * time.Second

	// quiesceMillis is how long Disconnect lets in-flight work finish.
	quiesceMillis = 1000

	maxQoS = 2

	// maxPayloadSize keeps a runaway document from reaching the broker.
	maxPayloadSize = 1 << 20
)

// brokerURL renders the broker address in the form paho expects.
func brokerURL(b config.MQTTBrokerConfig) string {
	scheme := "tcp"
	if b.TLS {
		scheme = "ssl"
	}
	return scheme + "://" + net.JoinHostPort(b.Host, strconv.Itoa(b.Port))
}

// clientOptions maps the mqtt config section onto paho options, including
// the retained offline will for the process status topic.
func clientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	id := cfg.Broker.ClientID
	opts := pahomqtt.NewClientOptions().
		AddBroker(brokerURL(cfg.Broker)).
		SetClientID(id).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay)*time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay)*time.Second).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(brokerKeepAlive).
		SetWill(Topics{}.Status(id), statusPayload(id, statusOffline, "unexpected_disconnect"), 1, true)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username).SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	return opts
}

const (
	statusOnline  = "online"
	statusOffline = "offline"
)

// statusDoc is the retained document on proflame/status/{client_id}.
type statusDoc struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

func statusPayload(clientID, status, reason string) string {
	data, _ := json.Marshal(statusDoc{ //nolint:errchkjson // plain strings always marshal
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return string(data)
}

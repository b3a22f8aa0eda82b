package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/octoprint-bridge/internal/infrastructure/config"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 1000 // milliseconds
	defaultKeepAlive         = 60 * time.Second
	maxQoS                   = 2
	tlsMinVersion            = tls.VersionTLS12

	// lwtQoS is fixed at 1 so the broker delivers the OFFLINE will at least once.
	lwtQoS = 1
)

// Status values carried by the connection-level status payloads. They match
// the bridge's own status names so subscribers see one vocabulary.
const (
	statusOnline  = "ONLINE"
	statusOffline = "OFFLINE"
)

// connectionStatus is the payload the client itself publishes on the status
// topic: the LWT and the graceful shutdown notice. While the bridge runs,
// its own status reports replace it.
type connectionStatus struct {
	Bridge    string `json:"bridge"`
	Timestamp string `json:"timestamp"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
	ClientID  string `json:"client_id"`
}

func buildStatusPayload(bridgeID, clientID, status, reason string) []byte {
	payload, _ := json.Marshal(connectionStatus{ //nolint:errcheck // fixed struct of strings
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Status:    status,
		Reason:    reason,
		ClientID:  clientID,
	})
	return payload
}

// buildClientOptions creates paho options from the mqtt config section.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port))
	opts.SetClientID(cfg.Broker.ClientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second)
	opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)

	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}

	return opts
}

// configureLWT registers a retained OFFLINE status as the Last Will.
func configureLWT(opts *pahomqtt.ClientOptions, topics Topics, clientID string) {
	payload := buildStatusPayload(topics.BridgeID(), clientID, statusOffline, "unexpected_disconnect")
	opts.SetBinaryWill(topics.Status(), payload, lwtQoS, true)
}

package op

import (
	"fmt"

	"github.com/alaub81/shelly/internal/device"
)

// DebugConfig is the Sys.SetConfig fragment that points the device's
// UDP debug log at a collector
type DebugConfig struct {
	Host string
	Port int
}

// NewDebugPush builds the push-config operation for a UDP debug target
func NewDebugPush(cfg DebugConfig, rebootAfter bool) PushConfig {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return PushConfig{
		Method: MethodSysSetConfig,
		Document: func(device.Device) any {
			return map[string]any{
				"config": map[string]any{
					"debug": map[string]any{
						"udp": map[string]any{
							"addr": addr,
						},
					},
				},
			}
		},
		RebootAfter: rebootAfter,
	}
}

// MQTTConfig carries the broker settings pushed to every device. The
// per-device client_id and topic_prefix are derived from the device
// address at apply time.
type MQTTConfig struct {
	Server        string // broker host:port
	User          string
	Password      string
	TopicPrefix   string // optional override; default "shelly/{client_id}"
	SSLCA         string // "*" enables TLS with any CA, "" disables TLS
	EnableRPC     bool
	EnableControl bool
}

type mqttDocument struct {
	Enable        bool   `json:"enable"`
	Server        string `json:"server"`
	User          string `json:"user,omitempty"`
	Pass          string `json:"pass,omitempty"`
	SSLCA         string `json:"ssl_ca,omitempty"`
	RPCNtf        bool   `json:"rpc_ntf"`
	StatusNtf     bool   `json:"status_ntf"`
	UseClientCert bool   `json:"use_client_cert"`
	EnableRPC     bool   `json:"enable_rpc"`
	EnableControl bool   `json:"enable_control"`
	ClientID      string `json:"client_id"`
	TopicPrefix   string `json:"topic_prefix"`
}

// NewMQTTPush builds the push-config operation for MQTT broker settings
func NewMQTTPush(cfg MQTTConfig, rebootAfter bool) PushConfig {
	return PushConfig{
		Method: MethodMQTTSetConfig,
		Document: func(dev device.Device) any {
			clientID := dev.ClientID()
			topicPrefix := cfg.TopicPrefix
			if topicPrefix == "" {
				topicPrefix = fmt.Sprintf("shelly/%s", clientID)
			}
			return map[string]any{
				"config": mqttDocument{
					Enable:        true,
					Server:        cfg.Server,
					User:          cfg.User,
					Pass:          cfg.Password,
					SSLCA:         cfg.SSLCA,
					RPCNtf:        true,
					StatusNtf:     true,
					UseClientCert: false,
					EnableRPC:     cfg.EnableRPC,
					EnableControl: cfg.EnableControl,
					ClientID:      clientID,
					TopicPrefix:   topicPrefix,
				},
			}
		},
		RebootAfter: rebootAfter,
	}
}

// Package mqtt provides MQTT client connectivity for the Free Sleep bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//
// # Architecture
//
// The bridge publishes retained entity state to the broker and listens for
// command topics, so any MQTT-speaking consumer (a Home Assistant MQTT
// integration, dashboards, scripts) can observe and control the pod without
// talking to its firmware directly.
//
//	Pod firmware ↔ Free Sleep bridge ↔ MQTT broker ↔ consumers
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Subscribe to all entity commands
//	err = client.Subscribe(mqtt.Topics{}.AllEntityCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        return dispatch(topic, payload)
//	    })
//
//	// Publish retained entity state
//	topic := mqtt.Topics{}.EntityState("left", "target_temperature")
//	client.PublishRetained(topic, []byte(`{"value":68}`))
package mqtt

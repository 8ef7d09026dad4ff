// Package mqtt connects the bridge to an MQTT broker.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Publishing with QoS and retain flags
//   - Topic subscriptions, restored after reconnect
//   - Last Will and Testament on the site's health topic
//
// # Topics
//
// Every topic lives under directout/{site}/ (see Topics). Variable values
// and the health status are retained; recorded actions are events.
//
// # Usage
//
//	topics := mqtt.Topics{Site: cfg.Site.ID}
//	client, err := mqtt.Connect(cfg.MQTT, topics)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(topics.AllCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        return handle(topic, payload)
//	    })
package mqtt

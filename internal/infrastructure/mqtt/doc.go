// Package mqtt connects the LED locator to an MQTT broker.
//
// MQTT is optional. When enabled the locator:
//   - publishes a retained online/offline status with Last Will
//   - publishes locator events on ledlocator/event/{type}
//   - announces unlocatable locations on ledlocator/notify/unlocatable/{id}
//   - listens on ledlocator/command/locate for remote lookups
//
// The client reconnects with exponential backoff and restores its
// subscriptions after a reconnect.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if errors.Is(err, mqtt.ErrDisabled) {
//	    // run without a broker
//	}
//	defer client.Close()
//
//	client.Publish(mqtt.Topics{}.Event("led.off"), payload, 1, false)
package mqtt

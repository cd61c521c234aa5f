// Package mqtt connects the bridge to an MQTT broker.
//
// The client wraps paho.mqtt.golang with auto-reconnect, subscriptions
// that survive reconnects, a retained online/offline status on
// proflame/status/{client_id} (with a matching Last Will) and panic-safe
// message handlers.
//
// Topic scheme (see Topics):
//
//	proflame/command/{device_id}   commands in
//	proflame/ack/{device_id}       command acknowledgements
//	proflame/state/{device_id}     full fireplace state, retained
//	proflame/health/{device_id}    bridge health, retained
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Publish(mqtt.Topics{}.State("living-room"), doc, 1, true)
package mqtt

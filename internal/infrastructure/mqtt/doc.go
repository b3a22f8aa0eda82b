// Package mqtt connects octobridge to the home-automation host's MQTT broker.
//
// The bridge publishes slot state, channel announcements, command acks,
// health and its ONLINE/OFFLINE status, and subscribes to commands. All
// topics are scoped to one bridge id:
//
//	octobridge/command/{bridge_id}/{command}   host → bridge
//	octobridge/ack/{bridge_id}/{command}       bridge → host
//	octobridge/state/{bridge_id}/{slot_id}     retained
//	octobridge/channel/{bridge_id}/{slot_id}   retained
//	octobridge/status/{bridge_id}              retained, also the LWT
//	octobridge/health/{bridge_id}              retained
//
// The client reconnects automatically and restores its subscriptions.
// When the process dies without a clean Close, the broker publishes the
// Last Will: an OFFLINE status with reason "unexpected_disconnect".
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT, cfg.Bridge.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := client.Topics()
//	err = client.Subscribe(topics.AllCommands(), 1, handleCommand)
package mqtt

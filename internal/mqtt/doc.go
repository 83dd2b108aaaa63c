// Package mqtt publishes device commands to an MQTT broker for
// integrations that are driven by topic conventions rather than a REST
// API (Zigbee2MQTT, Tasmota, ESPHome and similar bridges).
//
// The publisher uses Eclipse Paho v2's [autopaho] package for
// connection management with automatic reconnection. On every
// (re-)connect it publishes a retained birth message ("online") to the
// availability topic; a will message moves that topic to "offline" on
// unexpected disconnects.
//
// Commands are published as JSON at QoS 1 to
//
//	<prefix>/<room>/<target>/set
//
// with the room segment omitted when the command names no room.
package mqtt

// Package mqttbridge ingests measurements published by sensor nodes over
// MQTT. Each message is a JSON record like the HTTP metadata part; MQTT
// messages never carry an image.
package mqttbridge

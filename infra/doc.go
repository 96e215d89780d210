// Package infra contains technical adapters: MQTT request intake and
// transfer notices, Kafka and Postgres persistence, the manager-action feed,
// metrics exporters and error reporting. These packages should depend only
// on the interfaces defined in the core packages.
package infra

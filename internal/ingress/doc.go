// Package ingress turns device messages into gateway actions.
//
// Messages arrive either through the broker's HTTP webhook (HandleWebhook,
// synchronous) or through a direct MQTT subscription (Receive, handled
// asynchronously by Run). Both paths decompress through the dispatch pool
// and decode with the protocol package:
//
//   - reading: buffered in the batch buffer
//   - setup: the setup token's subject becomes the unit owner, the modules
//     are registered and the unit's rules are synced
//   - update: a rule sync is queued
package ingress

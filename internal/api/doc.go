// Package api implements the gateway's HTTP endpoints and live telemetry
// WebSocket.
//
// Route groups:
//   - /api/v1: health, the WebSocket feed and the Prometheus metrics path
//   - /mqtt/v1 broker routes: the ingress webhook and the broker's password
//     hook, authenticated with broker-domain bearer tokens
//   - /mqtt/v1 application routes: device token issue, unit info and the
//     egress endpoints, authenticated with application-domain bearer tokens
//
// Every authentication failure is answered with the same 403 body; the
// reason is logged only. Provisioning failures are 406. Endpoint results
// use a {result, message} body.
package api

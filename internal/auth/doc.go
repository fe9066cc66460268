// Package auth issues and verifies the gateway's credentials.
//
// Two token domains exist and never share a secret:
//
//   - application: tokens presented by the web application when it calls
//     the management endpoints, and embedded as setup tokens in device
//     setup messages.
//   - broker: tokens the broker presents on webhook calls, and long-lived
//     device tokens the broker's JWT authorizer checks when a unit
//     connects. Device tokens carry the unit's topic ACL.
//
// Each token names its domain in the aud claim, so a token from the wrong
// domain is rejected with ErrWrongDomain instead of a signature error.
//
// Device passwords for the broker's HTTP authentication hook are stored
// as Argon2id hashes.
package auth

// Package schema validates raw transport payloads before they enter the
// delivery pipeline. Validation is a pure function over the payload bytes;
// every rejection is a *contracts.ValidationError naming the offending
// field, and validation failures are never retried downstream.
package schema

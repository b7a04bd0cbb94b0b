// Package requestid tags ops HTTP requests with a correlation id taken from
// X-Request-ID or generated, and exposes it to the logger so a manually
// triggered pass can be traced back to the request that started it.
package requestid

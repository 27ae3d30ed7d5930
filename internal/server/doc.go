// Package server hosts the Fiber HTTP front that the player application talks
// to. NewApp wires request-id and recover middlewares and forwards every path
// outside /-/ to the injected ProxyHandler; diagnostics routes are registered
// by the routes subpackage. Keep exports narrow and accept explicit
// dependencies so the proxy package can import RequestID without a cycle.
package server

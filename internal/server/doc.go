// Package server hosts the Fiber HTTP service for the ipahub gateway: the
// request middleware chain (request IDs, panic recovery), the catch-all route
// that hands intercepted traffic to the cache coordinator, and the shared
// upstream HTTP client. API and admin routes live in the routes subpackage and
// are registered after the gateway catch-all; reserved path prefixes fall
// through to them. Keep exports narrow and accept explicit dependencies.
package server

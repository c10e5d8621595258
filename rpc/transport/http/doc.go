// Package http carries data service requests as HTTP POST bodies, one request
// per call, at the path /<shardID>. It is the slowest transport but works
// through proxies and is easy to inspect.
//
// The client spreads requests round robin over the configured endpoints and
// retries a failed call on the next endpoint up to RetryCount times. The server
// logs each request at debug level.
package http

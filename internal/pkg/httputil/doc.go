// Package httputil provides shared HTTP response/request helpers.
//
// Handlers use these instead of raw http.ResponseWriter calls so the
// signup, cron, and webhook endpoints all speak the same JSON envelope.
package httputil

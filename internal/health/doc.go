// Package health classifies service health endpoint responses and runs
// HTTP health checks.
//
// Classification is a pure function of (status code, body):
//
//	no response        -> DOWN
//	2xx                -> HEALTHY, or DEGRADED if the JSON body reports a bad status
//	404                -> ENDPOINT_MISMATCH
//	>= 500             -> SERVER_ERROR
//	anything else      -> DEGRADED
package health

// Package supervisor launches child services and keeps them healthy.
//
// The supervisor:
//   - Starts every configured service as a child process
//   - Checks each service's health endpoint on a fixed interval (default 15s)
//   - Treats a service without a health endpoint as healthy while its process runs
//   - Restarts critical services that stay unhealthy, with backoff between attempts
//   - Gives up on a service after a bounded number of failed recoveries
//   - Stops processes with SIGTERM, then SIGKILL after a timeout
package supervisor

// Package api provides REST access to Binance's public market data.
//
// REST endpoints:
//   - Spot: https://api.binance.com (GET /api/v3/ticker/24hr, /api/v3/ping, /api/v3/time)
//   - USD-M futures: https://fapi.binance.com (via go-binance, GET /fapi/v1/ticker/24hr, /fapi/v1/premiumIndex)
//
// Every spot response carries X-MBX-USED-WEIGHT-1M; the client records it so
// pollers can stay inside the per-minute request weight budget.
package api

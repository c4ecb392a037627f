// Package hostfunc provides the host functions WASM guests can call.
//
// A guest asks for a host function by writing a call frame on stderr; the
// executor looks the name up in a [Registry] and writes the JSON reply on the
// guest's stdin. Nothing is reachable unless it was registered:
//
//	registry := hostfunc.NewRegistry()
//	registry.Register("time_now", hostfunc.TimeNow)
//	hostfunc.NewKV(hostfunc.DefaultKVConfig()).Bind(registry)
//
// Outbound HTTP is refused unless the [HTTP] helper is given an allowlist:
//
//	hostfunc.NewHTTP(hostfunc.HTTPConfig{AllowedHosts: []string{"api.example.com"}}).Bind(registry)
package hostfunc

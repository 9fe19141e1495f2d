package config

import (
	"net"
	"net/url"
	"os"
	"sync"
)

// dockerHostAlias reaches the host machine from inside a container.
const dockerHostAlias = "host.docker.internal"

// inDocker is swapped in tests.
var inDocker = sync.OnceValue(func() bool {
	_, err := os.Stat("/.dockerenv")
	return err == nil
})

// IsRunningInDocker reports whether /.dockerenv exists. The result is cached.
func IsRunningInDocker() bool {
	return inDocker()
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// ResolveHostForDocker maps loopback hosts to host.docker.internal when the
// engine runs in a container, so a database or Redis on the host stays reachable.
func ResolveHostForDocker(host string) string {
	if !inDocker() || !isLoopback(host) {
		return host
	}
	return dockerHostAlias
}

// ResolveURLForDocker applies ResolveHostForDocker to the host of a service
// URL, keeping the port. Unparseable or empty URLs are returned unchanged.
func ResolveURLForDocker(raw string) string {
	if raw == "" || !inDocker() {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil || !isLoopback(u.Hostname()) {
		return raw
	}
	if port := u.Port(); port != "" {
		u.Host = net.JoinHostPort(dockerHostAlias, port)
	} else {
		u.Host = dockerHostAlias
	}
	return u.String()
}

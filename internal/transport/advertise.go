package transport

import (
	"context"
	"fmt"
	"net"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/hashicorp/go-sockaddr"
	"github.com/pkg/errors"
)

// resolver models net.DefaultResolver, so tests can substitute a fake.
type resolver interface {
	LookupIPAddr(ctx context.Context, address string) ([]net.IPAddr, error)
}

// ResolveAdvertiseAddr deduces the host:port a legislator should tell
// its peers to dial, given the address it binds locally and an
// optionally user-supplied advertise host. A bind host of "0.0.0.0"
// (listen on every interface) is not dialable by peers, so in that case
// we fall back to this machine's private IP.
func ResolveAdvertiseAddr(bindHost string, port int, advertiseHost string, logger log.Logger) (string, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	ip, err := calculateAdvertiseIP(bindHost, advertiseHost, net.DefaultResolver, logger)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%d", ip.String(), port), nil
}

// calculateAdvertiseIP prefers an explicit advertise host, falls back
// to resolving the bind host, and special-cases an all-zeroes bind host
// by asking go-sockaddr for this machine's private IP.
func calculateAdvertiseIP(bindHost, advertiseHost string, r resolver, logger log.Logger) (net.IP, error) {
	if advertiseHost != "" {
		if ip := net.ParseIP(advertiseHost); ip != nil {
			if ip4 := ip.To4(); ip4 != nil {
				ip = ip4
			}
			return ip, nil
		}
		ips, err := r.LookupIPAddr(context.Background(), advertiseHost)
		if err == nil && len(ips) == 1 {
			if ip4 := ips[0].IP.To4(); ip4 != nil {
				ips[0].IP = ip4
			}
			return ips[0].IP, nil
		}
		if err == nil && len(ips) != 1 {
			err = fmt.Errorf("advertise host %q resolved to %d IPs", advertiseHost, len(ips))
		}
		level.Warn(logger).Log("msg", "falling back to bind host", "err", err)
	}

	if bindHost == "0.0.0.0" {
		privateIP, err := sockaddr.GetPrivateIP()
		if err != nil {
			return nil, errors.Wrap(err, "transport: deduce private IP from all-zeroes bind address")
		}
		if privateIP == "" {
			return nil, errors.New("transport: no private IP found and no explicit advertise address provided")
		}
		ip := net.ParseIP(privateIP)
		if ip == nil {
			return nil, errors.Errorf("transport: failed to parse private IP %q", privateIP)
		}
		return ip, nil
	}

	if ip := net.ParseIP(bindHost); ip != nil {
		return ip, nil
	}

	ips, err := r.LookupIPAddr(context.Background(), bindHost)
	if err == nil && len(ips) == 1 {
		if ip4 := ips[0].IP.To4(); ip4 != nil {
			ips[0].IP = ip4
		}
		return ips[0].IP, nil
	}
	if err == nil && len(ips) != 1 {
		err = fmt.Errorf("bind host %q resolved to %d IPs", bindHost, len(ips))
	}
	return nil, errors.Wrap(err, "transport: bind host failed to resolve")
}

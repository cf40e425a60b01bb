package utils

import (
	"errors"
	"net/url"
)

// Parses a string of the form tcp://<host>:<port> and returns the
// host and port for use with an HTTP listener.
// If the port is not specified, it defaults to 8080.
func ParseHttpUrl(urlstr string) (string, error) {
	uri, err := url.Parse(urlstr)
	if err != nil {
		return "", err
	}

	if uri.Port() == "" {
		uri.Host += ":8080"
	}

	switch uri.Scheme {
	case "tcp":
		return uri.Host, nil
	default:
		return "", errors.New("unsupported protocol: " + uri.Scheme)
	}
}

// Parses a string of the form tcp://<host>:<port> and returns the
// target for use with a gRPC dialer or listener.
// If the port is not specified, it defaults to 9090.
func ParseGrpcUrl(urlstr string) (string, error) {
	uri, err := url.Parse(urlstr)
	if err != nil {
		return "", err
	}

	if uri.Port() == "" {
		uri.Host += ":9090"
	}

	switch uri.Scheme {
	case "tcp":
		return uri.Host, nil
	default:
		return "", errors.New("unsupported protocol: " + uri.Scheme)
	}
}

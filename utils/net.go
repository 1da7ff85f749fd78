package utils

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

var publicIPURL = "https://api.ipify.org?format=text"

func GetPublicIP(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, publicIPURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("public ip lookup: %s", resp.Status)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return "", err
	}
	ip := strings.TrimSpace(string(raw))
	if net.ParseIP(ip) == nil {
		return "", fmt.Errorf("public ip lookup: unexpected answer %q", ip)
	}
	return ip, nil
}

// PublicBaseURL is the base URL callbacks are addressed to. An explicit url
// wins; otherwise it is built from the host's public IP and port.
func PublicBaseURL(ctx context.Context, explicit, port string) (string, error) {
	if explicit != "" {
		return strings.TrimRight(explicit, "/"), nil
	}
	ip, err := GetPublicIP(ctx)
	if err != nil {
		return "", err
	}
	if port == "" || port == "80" {
		return "http://" + ip, nil
	}
	return "http://" + net.JoinHostPort(ip, port), nil
}

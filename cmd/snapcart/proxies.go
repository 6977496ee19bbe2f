package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"snapcart/internal/config"
	"snapcart/internal/proxy"
)

func newProxiesCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proxies",
		Short: "Manage the proxy pool",
	}
	cmd.AddCommand(newProxiesListCmd(configPath), newProxiesAddCmd(configPath))
	return cmd
}

func proxiesPath(configPath string) (string, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return "", err
	}
	return filepath.Join(cfg.DataDir, "proxies.yaml"), nil
}

func newProxiesListCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the proxy pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := proxiesPath(*configPath)
			if err != nil {
				return err
			}
			endpoints, err := proxy.LoadFile(path)
			if err != nil {
				return err
			}
			if len(endpoints) == 0 {
				fmt.Println("proxy pool is empty")
				return nil
			}
			// Rank through the rotator so the listing matches the
			// order sessions will draw from.
			rotator := proxy.NewRotator(endpoints, proxy.Options{}, slog.Default())
			for _, e := range rotator.Snapshot() {
				fmt.Printf("%-8s %s:%d  fails=%d avg=%.0fms\n",
					e.Protocol, e.Host, e.Port, e.FailCount, e.AverageResponseMs)
			}
			return nil
		},
	}
}

func newProxiesAddCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "add <protocol://host:port>",
		Short: "Add a proxy endpoint to the pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			endpoint, err := parseProxyArg(args[0])
			if err != nil {
				return err
			}

			path, err := proxiesPath(*configPath)
			if err != nil {
				return err
			}
			endpoints, err := proxy.LoadFile(path)
			if err != nil {
				return err
			}
			for _, e := range endpoints {
				if e.Host == endpoint.Host && e.Port == endpoint.Port {
					return fmt.Errorf("proxy %s:%d already in pool", e.Host, e.Port)
				}
			}
			return proxy.SaveFile(path, append(endpoints, endpoint))
		},
	}
}

func parseProxyArg(arg string) (proxy.Endpoint, error) {
	protocol := "http"
	rest := arg
	if i := strings.Index(arg, "://"); i >= 0 {
		protocol = arg[:i]
		rest = arg[i+3:]
	}

	var username, password string
	if i := strings.LastIndexByte(rest, '@'); i >= 0 {
		creds := rest[:i]
		rest = rest[i+1:]
		username, password, _ = strings.Cut(creds, ":")
	}

	host, portStr, ok := strings.Cut(rest, ":")
	if !ok || host == "" {
		return proxy.Endpoint{}, fmt.Errorf("invalid proxy %q, want protocol://host:port", arg)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return proxy.Endpoint{}, fmt.Errorf("invalid proxy port %q", portStr)
	}

	return proxy.Endpoint{
		Protocol: protocol,
		Host:     host,
		Port:     port,
		Username: username,
		Password: password,
	}, nil
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ManuGH/pstnbridge/internal/platform/httpx"
)

type triggerOptions struct {
	baseURL string
	pstn1   string
	pstn2   string
	param1  string
	param2  string
	timeout time.Duration
}

func newTriggerCmd() *cobra.Command {
	opts := triggerOptions{}
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Start a bridge on a running instance",
		Long:  "Calls /startcall on a running instance. Omitted numbers and parameters fall back to the instance defaults.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := runTrigger(opts)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), body)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.baseURL, "url", "http://localhost:8000", "base URL of the running instance")
	f.StringVar(&opts.pstn1, "pstn1", "", "first callee number")
	f.StringVar(&opts.pstn2, "pstn2", "", "second callee number")
	f.StringVar(&opts.param1, "param1", "", "custom parameter of the first side")
	f.StringVar(&opts.param2, "param2", "", "custom parameter of the second side")
	f.DurationVar(&opts.timeout, "timeout", 10*time.Second, "request timeout")
	return cmd
}

func triggerURL(opts triggerOptions) (string, error) {
	base, err := url.Parse(strings.TrimRight(opts.baseURL, "/"))
	if err != nil || base.Host == "" {
		return "", fmt.Errorf("invalid --url %q", opts.baseURL)
	}
	q := url.Values{}
	for k, v := range map[string]string{
		"pstn1":  opts.pstn1,
		"pstn2":  opts.pstn2,
		"param1": opts.param1,
		"param2": opts.param2,
	} {
		if v != "" {
			q.Set(k, v)
		}
	}
	base.Path += "/startcall"
	base.RawQuery = q.Encode()
	return base.String(), nil
}

func runTrigger(opts triggerOptions) (string, error) {
	target, err := triggerURL(opts)
	if err != nil {
		return "", err
	}
	resp, err := httpx.NewClient(opts.timeout).Get(target)
	if err != nil {
		return "", fmt.Errorf("startcall request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("startcall failed: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return strings.TrimSpace(string(body)), nil
}

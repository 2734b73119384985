// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// triage is the operator CLI for quarantined assets. It talks to a running
// daemon's HTTP API.
//
// Usage:
//
//	triage list
//	triage show <asset-id>
//	triage retry <asset-id>
//	triage skip <asset-id>
//
// The daemon address comes from --addr or MEDIASEARCH_ADDR
// (default http://localhost:8080).
//
// Exit codes:
//   - 0: success
//   - 64: invalid input (usage error or the API rejected the request)
//   - 69: daemon unreachable or failing
//   - 75: retryable failure (rate limited or temporarily unavailable)
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ManuGH/mediasearch/internal/config"
)

var Version = "dev"

const (
	exitOK          = 0
	exitUsage       = 64
	exitUnavailable = 69
	exitTempFail    = 75
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("triage", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", config.ParseString("MEDIASEARCH_ADDR", "http://localhost:8080"), "daemon base URL")
	timeout := fs.Duration("timeout", 10*time.Second, "request timeout")
	showVersion := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *showVersion {
		fmt.Fprintln(stdout, Version)
		return exitOK
	}

	rest := fs.Args()
	if len(rest) == 0 {
		usage(stderr)
		return exitUsage
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	client := &apiClient{base: strings.TrimRight(*addr, "/"), http: &http.Client{}}

	var err error
	switch rest[0] {
	case "list":
		err = cmdList(ctx, client, stdout)
	case "show", "retry", "skip":
		if len(rest) != 2 {
			fmt.Fprintf(stderr, "Error: %s requires exactly one asset ID\n", rest[0])
			return exitUsage
		}
		switch rest[0] {
		case "show":
			err = cmdShow(ctx, client, stdout, rest[1])
		case "retry":
			err = cmdRetry(ctx, client, stdout, rest[1])
		case "skip":
			err = cmdSkip(ctx, client, stdout, rest[1])
		}
	default:
		fmt.Fprintf(stderr, "Error: unknown command %q\n", rest[0])
		usage(stderr)
		return exitUsage
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitCodeFor(err)
	}
	return exitOK
}

// exitCodeFor distinguishes rejected requests from unreachable or
// temporarily failing daemons.
func exitCodeFor(err error) int {
	var se *statusError
	if !errors.As(err, &se) {
		return exitUnavailable
	}
	switch {
	case se.status == http.StatusTooManyRequests || se.status == http.StatusServiceUnavailable:
		return exitTempFail
	case se.status >= 400 && se.status < 500:
		return exitUsage
	}
	return exitUnavailable
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  triage list")
	fmt.Fprintln(w, "  triage show <asset-id>")
	fmt.Fprintln(w, "  triage retry <asset-id>")
	fmt.Fprintln(w, "  triage skip <asset-id>")
}

type apiClient struct {
	base string
	http *http.Client
}

type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// statusError preserves the HTTP status for exit-code mapping.
type statusError struct {
	status int
	msg    string
}

func (e *statusError) Error() string { return e.msg }

func (c *apiClient) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return &statusError{status: resp.StatusCode, msg: fmt.Sprintf("%s (%s)", apiErr.Error, resp.Status)}
		}
		return &statusError{status: resp.StatusCode, msg: fmt.Sprintf("unexpected status %s", resp.Status)}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

type triageEntry struct {
	AssetID           string    `json:"asset_id"`
	Bucket            string    `json:"bucket"`
	ObjectKey         string    `json:"object_key"`
	Status            string    `json:"status"`
	TriageState       string    `json:"triage_state"`
	RecommendedAction string    `json:"recommended_action"`
	LastError         string    `json:"last_error"`
	Attempt           int       `json:"attempt"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type dlqEntry struct {
	DLQID        string    `json:"dlq_id"`
	JobID        string    `json:"job_id"`
	VersionID    string    `json:"version_id"`
	ErrorCode    string    `json:"error_code"`
	ErrorMessage string    `json:"error_message"`
	Retryable    bool      `json:"retryable"`
	CreatedAt    time.Time `json:"created_at"`
}

func cmdList(ctx context.Context, c *apiClient, w io.Writer) error {
	var resp struct {
		Quarantined []triageEntry `json:"quarantined"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/triage/", &resp); err != nil {
		return err
	}
	if len(resp.Quarantined) == 0 {
		fmt.Fprintln(w, "No quarantined assets.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ASSET\tOBJECT\tTRIAGE\tATTEMPTS\tACTION")
	for _, e := range resp.Quarantined {
		fmt.Fprintf(tw, "%s\t%s/%s\t%s\t%d\t%s\n",
			e.AssetID, e.Bucket, e.ObjectKey, e.TriageState, e.Attempt, e.RecommendedAction)
	}
	return tw.Flush()
}

func cmdShow(ctx context.Context, c *apiClient, w io.Writer, assetID string) error {
	var detail struct {
		triageEntry
		DLQ []dlqEntry `json:"dlq"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/triage/"+assetID, &detail); err != nil {
		return err
	}
	fmt.Fprintf(w, "Asset:      %s\n", detail.AssetID)
	fmt.Fprintf(w, "Object:     %s/%s\n", detail.Bucket, detail.ObjectKey)
	fmt.Fprintf(w, "Status:     %s\n", detail.Status)
	fmt.Fprintf(w, "Triage:     %s\n", detail.TriageState)
	fmt.Fprintf(w, "Action:     %s\n", detail.RecommendedAction)
	fmt.Fprintf(w, "Attempts:   %d\n", detail.Attempt)
	if detail.LastError != "" {
		fmt.Fprintf(w, "Last error: %s\n", detail.LastError)
	}
	if len(detail.DLQ) > 0 {
		fmt.Fprintln(w, "\nDead-letter entries:")
		for _, d := range detail.DLQ {
			fmt.Fprintf(w, "  %s  job=%s  code=%s  retryable=%v\n    %s\n",
				d.CreatedAt.Format(time.RFC3339), d.JobID, d.ErrorCode, d.Retryable, d.ErrorMessage)
		}
	}
	return nil
}

func cmdRetry(ctx context.Context, c *apiClient, w io.Writer, assetID string) error {
	var resp map[string]string
	if err := c.do(ctx, http.MethodPost, "/api/triage/"+assetID+"/retry", &resp); err != nil {
		return err
	}
	fmt.Fprintf(w, "✓ retry scheduled for %s (job %s)\n", assetID, resp["job_id"])
	return nil
}

func cmdSkip(ctx context.Context, c *apiClient, w io.Writer, assetID string) error {
	if err := c.do(ctx, http.MethodPost, "/api/triage/"+assetID+"/skip", nil); err != nil {
		return err
	}
	fmt.Fprintf(w, "✓ %s marked FAILED and removed from the dead-letter queue\n", assetID)
	return nil
}

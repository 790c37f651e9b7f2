package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"swappilot/sdk/go/swappilot"
)

var (
	okColor   = color.New(color.FgGreen, color.Bold)
	failColor = color.New(color.FgRed, color.Bold)
	warnColor = color.New(color.FgYellow)
	dimColor  = color.New(color.Faint)
)

func printResponse(w io.Writer, resp swappilot.SwapResponse, verbose bool) {
	if resp.IsConfirmed() {
		c := resp.Confirmed
		okColor.Fprintln(w, "✓ Route found")
		fmt.Fprintf(w, "  %s\n", c.Summary)
		fmt.Fprintf(w, "  Route:          %s\n", c.Quote.RouteID)
		fmt.Fprintf(w, "  Expected:       %s %s\n", c.Quote.ExpectedOutput, c.Intent.Destination.Symbol)
		fmt.Fprintf(w, "  Min received:   %s %s\n", c.MinReceived, c.Intent.Destination.Symbol)
		fmt.Fprintf(w, "  Max slippage:   %s%%\n", c.Intent.MaxSlippage)
		if c.ApprovalRequired {
			warnColor.Fprintf(w, "  Approval of %s is required before swapping\n", c.Intent.Source.Symbol)
		}
	} else if resp.Rejected != nil {
		failColor.Fprintf(w, "✗ %s\n", resp.Rejected.Reason)
		fmt.Fprintf(w, "  %s\n", resp.Rejected.Explanation)
	} else {
		failColor.Fprintln(w, "✗ Empty response")
	}
	if resp.Metadata.Degraded {
		warnColor.Fprintln(w, "  Knowledge retrieval was degraded")
	}
	if verbose {
		printStages(w, resp.Metadata)
	}
}

func printStages(w io.Writer, meta swappilot.Metadata) {
	dimColor.Fprintf(w, "  request %s, final state %s\n", meta.RequestID, meta.FinalState)
	for _, st := range meta.Stages {
		line := fmt.Sprintf("  %-11s attempts=%d %dms", st.Stage, st.Attempts, st.DurationMS)
		if st.Code != "" {
			line += " code=" + st.Code
		}
		dimColor.Fprintln(w, line)
	}
}

func printJob(w io.Writer, job swappilot.Job, verbose bool) {
	fmt.Fprintf(w, "Job %s: %s (attempt %d/%d)\n", job.ID, statusLabel(job.Status), job.Attempts, job.MaxAttempts)
	if job.LastError != "" {
		warnColor.Fprintf(w, "  last error [%s]: %s\n", job.ErrorCode, job.LastError)
	}
	if job.Response != nil {
		printResponse(w, *job.Response, verbose)
	}
}

func statusLabel(status string) string {
	switch status {
	case "succeeded":
		return okColor.Sprint(status)
	case "failed":
		return failColor.Sprint(status)
	case "running":
		return warnColor.Sprint(status)
	default:
		return status
	}
}

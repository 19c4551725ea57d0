package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/gatekeeper/internal/config"
	"github.com/felixgeelhaar/gatekeeper/internal/httpclient"
	"github.com/felixgeelhaar/gatekeeper/internal/store"
)

// DoctorReport is the outcome of every diagnostic.
type DoctorReport struct {
	Checks  []DoctorCheck `json:"checks"`
	Healthy bool          `json:"healthy"`
}

// DoctorCheck represents a single health check result
type DoctorCheck struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "ok", "warning", "error"
	Message string `json:"message"`
}

const (
	checkOK      = "ok"
	checkWarning = "warning"
	checkError   = "error"
)

func newDoctorCmd(a *app) *cobra.Command {
	var (
		asJSON  bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose configuration, storage and identity API reachability",
		Long: `Run diagnostics without changing any state.

Checks include:
  • Configuration validity
  • Route table
  • Session store backend
  • Identity API health endpoint

The command exits non-zero when any check fails.`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationRawConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			report := runDoctor(cmd.Context(), a, timeout)

			if asJSON {
				enc := json.NewEncoder(a.out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				printDoctorReport(a, report)
			}
			if !report.Healthy {
				return errors.New("one or more checks failed")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "timeout for the identity API probe")
	return cmd
}

func runDoctor(ctx context.Context, a *app, timeout time.Duration) DoctorReport {
	var report DoctorReport

	cfgErr := a.cfg.Validate()
	if cfgErr != nil {
		report.Checks = append(report.Checks, DoctorCheck{Name: "Configuration", Status: checkError, Message: cfgErr.Error()})
	} else {
		report.Checks = append(report.Checks, DoctorCheck{Name: "Configuration", Status: checkOK, Message: "valid (" + configFilePath(a) + ")"})
	}

	if routes, err := a.routes(); err != nil {
		report.Checks = append(report.Checks, DoctorCheck{Name: "Routes", Status: checkError, Message: err.Error()})
	} else {
		source := "built-in table"
		if a.cfg.RoutesFile != "" {
			source = a.cfg.RoutesFile
		}
		report.Checks = append(report.Checks, DoctorCheck{
			Name:    "Routes",
			Status:  checkOK,
			Message: fmt.Sprintf("%d routes from %s", len(routes.Routes), source),
		})
	}

	report.Checks = append(report.Checks, checkStore(ctx, a.cfg.Store, a))

	if cfgErr == nil {
		report.Checks = append(report.Checks, checkIdentityAPI(ctx, a, timeout))
	}

	report.Healthy = true
	for _, c := range report.Checks {
		if c.Status == checkError {
			report.Healthy = false
		}
	}
	return report
}

// checkStore opens the configured backend directly. Unlike openStore it
// does not fall back to memory, so failures are reported.
func checkStore(ctx context.Context, cfg config.StoreConfig, a *app) DoctorCheck {
	c := DoctorCheck{Name: "Store (" + cfg.Backend + ")"}
	switch cfg.Backend {
	case config.BackendFile:
		if _, err := os.Stat(cfg.Path); errors.Is(err, fs.ErrNotExist) {
			c.Status, c.Message = checkOK, cfg.Path+" (no session saved)"
		} else if err != nil {
			c.Status, c.Message = checkError, err.Error()
		} else {
			c.Status, c.Message = checkOK, cfg.Path
		}
	case config.BackendSQLite:
		s, err := store.OpenSQLite(cfg.Path)
		if err != nil {
			c.Status, c.Message = checkError, err.Error()
			break
		}
		defer s.Close()
		c.Status, c.Message = checkOK, cfg.Path
	case config.BackendRedis:
		s, err := store.OpenRedis(ctx, cfg.URL, cfg.Prefix, a.logger)
		if err != nil {
			c.Status, c.Message = checkError, err.Error()
			break
		}
		defer s.Close()
		c.Status, c.Message = checkOK, cfg.URL
	case config.BackendMemory:
		c.Status, c.Message = checkWarning, "sessions do not outlive the process"
	default:
		c.Status, c.Message = checkError, "unknown backend"
	}
	return c
}

func checkIdentityAPI(ctx context.Context, a *app, timeout time.Duration) DoctorCheck {
	c := DoctorCheck{Name: "Identity API"}
	client := newClient(a.cfg, a.logger, a.metrics)
	_, err := client.Get(ctx, "/healthz", nil, httpclient.WithRequestTimeout(timeout))
	switch {
	case err == nil:
		c.Status, c.Message = checkOK, a.cfg.APIBaseURL+" is healthy"
	case httpclient.IsHTTP(err):
		// Reachable, but without the health endpoint.
		c.Status = checkWarning
		c.Message = fmt.Sprintf("%s answered HTTP %d on /healthz", a.cfg.APIBaseURL, httpclient.StatusOf(err))
	default:
		c.Status, c.Message = checkError, fmt.Sprintf("%s: %s", a.cfg.APIBaseURL, httpclient.MessageOf(err))
	}
	return c
}

func printDoctorReport(a *app, report DoctorReport) {
	fmt.Fprintln(a.out, a.styles.Title.Render("Gatekeeper Doctor"))
	fmt.Fprintln(a.out)
	for _, c := range report.Checks {
		var icon string
		switch c.Status {
		case checkOK:
			icon = a.styles.Success.Render("✓")
		case checkWarning:
			icon = a.styles.Warning.Render("!")
		default:
			icon = a.styles.Error.Render("✗")
		}
		fmt.Fprintf(a.out, "%s %s %s\n", icon, a.styles.Label.Render(c.Name), c.Message)
	}
	fmt.Fprintln(a.out)
	if report.Healthy {
		fmt.Fprintln(a.out, a.styles.Success.Render("All checks passed"))
	} else {
		fmt.Fprintln(a.out, a.styles.Error.Render("Some checks failed"))
	}
}

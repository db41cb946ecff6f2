package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/gwlsn/avfarm/internal/model"
)

var adminURL string

// adminCmd is a thin HTTP client over the coordinator's own /admin surface
// (spec §6) — an operator convenience, not a second implementation of the
// admin operations themselves.
func adminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "operator commands against a running coordinator",
	}
	cmd.PersistentFlags().StringVar(&adminURL, "url", "http://localhost:8484", "coordinator base URL")

	cmd.AddCommand(
		adminPostCmd("scan", "/admin/scan", nil),
		adminFileCmd("reset", "reset"),
		adminFileCmd("retry", "retry"),
		adminFileCmd("skip", "skip"),
		adminFileDeleteCmd(),
		adminPriorityCmd(),
		adminPreferredWorkerCmd(),
		adminWorkersCmd(),
		adminStatusCmd(),
	)
	return cmd
}

// adminStatusCmd fetches /status and renders it the way an operator reads
// it at a terminal rather than as raw JSON: byte counts humanized, queue
// depths per state.
func adminStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "print a human-readable cluster summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := http.Get(adminURL + "/status")
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			if resp.StatusCode/100 != 2 {
				return fmt.Errorf("coordinator returned status %d: %s", resp.StatusCode, body)
			}

			var payload struct {
				Stats model.Stats `json:"stats"`
			}
			if err := json.Unmarshal(body, &payload); err != nil {
				return err
			}

			s := payload.Stats
			fmt.Printf("queue:     pending=%d assigned=%d processing=%d completed=%d failed=%d skipped=%d\n",
				s.PendingCount, s.AssignedCount, s.ProcessingCount, s.CompletedCount, s.FailedCount, s.SkippedCount)
			fmt.Printf("workers:   online=%d draining=%d\n", s.WorkersOnline, s.WorkersDraining)
			fmt.Printf("storage:   %s scanned, %s reclaimed\n",
				humanize.Bytes(uint64(s.TotalSourceBytes)), humanize.Bytes(uint64(s.TotalSavedBytes)))
			return nil
		},
	}
}

func adminPriorityCmd() *cobra.Command {
	return &cobra.Command{
		Use:  "priority <file_id> <value>",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			priority, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("priority must be an integer: %w", err)
			}
			return postAdmin(fmt.Sprintf("/admin/files/%s/priority", args[0]), map[string]int32{"priority": int32(priority)})
		},
	}
}

func adminPreferredWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:  "preferred_worker <file_id> <worker_id>",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postAdmin(fmt.Sprintf("/admin/files/%s/preferred_worker", args[0]), map[string]string{"worker_id": args[1]})
		},
	}
}

// adminWorkersCmd groups operator actions that target a worker rather than a file.
func adminWorkersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "operator commands targeting a specific worker",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:  "fade_out <worker_id> <true|false>",
			Args: cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				fadeOut, err := strconv.ParseBool(args[1])
				if err != nil {
					return fmt.Errorf("expected true or false: %w", err)
				}
				return postAdmin(fmt.Sprintf("/admin/workers/%s/fade_out", args[0]), map[string]bool{"fade_out": fadeOut})
			},
		},
		&cobra.Command{
			Use:  "cancel_current <worker_id> <lease_token>",
			Args: cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return postAdmin(fmt.Sprintf("/admin/workers/%s/cancel_current", args[0]), map[string]string{"lease_token": args[1]})
			},
		},
	)
	return cmd
}

func adminPostCmd(use, path string, body func(args []string) any) *cobra.Command {
	return &cobra.Command{
		Use: use,
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload any
			if body != nil {
				payload = body(args)
			}
			return postAdmin(path, payload)
		},
	}
}

func adminFileCmd(use, route string) *cobra.Command {
	return &cobra.Command{
		Use:  use + " <file_id>",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postAdmin(fmt.Sprintf("/admin/files/%s/%s", args[0], route), nil)
		},
	}
}

func adminFileDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:  "delete <file_id>",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := http.NewRequest(http.MethodDelete, adminURL+fmt.Sprintf("/admin/files/%s", args[0]), nil)
			if err != nil {
				return err
			}
			return doAdmin(req)
		},
	}
}

func postAdmin(path string, body any) error {
	buf := &bytes.Buffer{}
	if body != nil {
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequest(http.MethodPost, adminURL+path, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return doAdmin(req)
}

func doAdmin(req *http.Request) error {
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	fmt.Println(string(body))
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("coordinator returned status %d", resp.StatusCode)
	}
	return nil
}

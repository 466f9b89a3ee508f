// sentryctl is the operator CLI: schema migration, cost stats and webhook
// smoke tests against a running deployment.
package main

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/codesentry/codesentry/internal/config"
	"github.com/codesentry/codesentry/internal/infra/db"
)

func main() {
	var cfgPath string

	root := &cobra.Command{
		Use:           "sentryctl",
		Short:         "CodeSentry operations CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "path to config.yaml")

	root.AddCommand(migrateCmd(&cfgPath))
	root.AddCommand(statsCmd(&cfgPath))
	root.AddCommand(sendWebhookCmd(&cfgPath))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func openEngine(cfgPath string) (*config.Config, *db.Engine, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	engine, err := db.Open(context.Background(), cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, engine, nil
}

func migrateCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, engine, err := openEngine(*cfgPath)
			if err != nil {
				return err
			}
			defer engine.Close()
			if err := engine.Store.Init(cmd.Context()); err != nil {
				return fmt.Errorf("init schema: %w", err)
			}
			fmt.Println("schema up to date")
			return nil
		},
	}
}

func statsCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print model cost statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, engine, err := openEngine(*cfgPath)
			if err != nil {
				return err
			}
			defer engine.Close()
			stats, err := engine.Store.CostStats(cmd.Context())
			if err != nil {
				return err
			}
			out, _ := json.MarshalIndent(stats, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
}

func sendWebhookCmd(cfgPath *string) *cobra.Command {
	var (
		target      string
		payloadFile string
		repo        string
		prNumber    int
		headSHA     string
		install     int64
	)
	cmd := &cobra.Command{
		Use:   "send-webhook",
		Short: "Sign and send a pull_request webhook for smoke testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}

			var payload []byte
			if payloadFile != "" {
				payload, err = os.ReadFile(payloadFile)
				if err != nil {
					return err
				}
			} else {
				payload, err = json.Marshal(map[string]any{
					"action": "opened",
					"pull_request": map[string]any{
						"number": prNumber,
						"head":   map[string]any{"sha": headSHA},
					},
					"repository":   map[string]any{"full_name": repo},
					"installation": map[string]any{"id": install},
				})
				if err != nil {
					return err
				}
			}

			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, target, bytes.NewReader(payload))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("X-GitHub-Event", "pull_request")
			if secret := cfg.GitHub.WebhookSecret; secret != "" {
				mac := hmac.New(sha256.New, []byte(secret))
				mac.Write(payload)
				req.Header.Set("X-Hub-Signature-256", "sha256="+hex.EncodeToString(mac.Sum(nil)))
			}

			client := &http.Client{Timeout: 10 * time.Second}
			resp, err := client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			fmt.Printf("%s %s\n", resp.Status, bytes.TrimSpace(body))
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "url", "http://localhost:8080/webhook", "webhook endpoint")
	cmd.Flags().StringVar(&payloadFile, "payload", "", "read the payload from a file instead of building one")
	cmd.Flags().StringVar(&repo, "repo", "octocat/hello-world", "repository full name")
	cmd.Flags().IntVar(&prNumber, "pr", 1, "pull request number")
	cmd.Flags().StringVar(&headSHA, "sha", "0123456789abcdef0123456789abcdef01234567", "head commit SHA")
	cmd.Flags().Int64Var(&install, "installation", 1, "installation id")
	return cmd
}

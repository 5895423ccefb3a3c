package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"chathub/internal/servicetoken"
	"chathub/services/chat/internal/app"
	"chathub/services/chat/internal/bootstrap"
)

func newDigestCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Produce daily channel digests",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the digest in this process against the configured store",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return root.withRuntime(c.Context(), func(rt *bootstrap.Runtime) error {
				report, err := rt.App.RunDigest(c.Context())
				if err != nil {
					return err
				}
				return printJSON(c.OutOrStdout(), report)
			})
		},
	}

	var baseURL string
	var timeout time.Duration
	triggerCmd := &cobra.Command{
		Use:   "trigger",
		Short: "Ask a running chat service to run the digest",
		Args:  cobra.NoArgs,
		Example: `  chatctl digest trigger
  chatctl digest trigger --url http://chat:8080 --timeout 5m`,
		RunE: func(c *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if baseURL == "" {
				baseURL = cfg.ChatServiceURL
			}
			signer, err := servicetoken.NewSigner(servicetoken.SignerOptions{
				PrivateKeyPath: cfg.InternalJWTPrivateKeyPath,
				KeyID:          cfg.InternalJWTKeyID,
				Issuer:         cfg.InternalJWTIssuer,
				TTL:            time.Duration(cfg.InternalJWTTTLSeconds) * time.Second,
			})
			if err != nil {
				return err
			}
			client := &http.Client{Timeout: timeout}
			report, err := triggerDigest(c.Context(), client, baseURL, signer, cfg.InternalJWTAudience)
			if err != nil {
				return err
			}
			return printJSON(c.OutOrStdout(), report)
		},
	}
	triggerCmd.Flags().StringVar(&baseURL, "url", "",
		"Chat service base URL (default: chatServiceURL from config)")
	triggerCmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute,
		"How long to wait for the digest to finish")

	cmd.AddCommand(runCmd, triggerCmd)
	return cmd
}

type tokenSigner interface {
	Sign(audience, action string) (string, error)
}

// triggerDigest posts to the service's cron endpoint with a freshly signed
// service token and decodes the report.
func triggerDigest(ctx context.Context, client *http.Client, baseURL string, signer tokenSigner, audience string) (app.DigestReport, error) {
	var report app.DigestReport
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return report, errors.New("chat service url is required (--url or chatServiceURL)")
	}
	token, err := signer.Sign(audience, servicetoken.ActionRunDigest)
	if err != nil {
		return report, fmt.Errorf("sign service token: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/cron/digest", nil)
	if err != nil {
		return report, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := client.Do(req)
	if err != nil {
		return report, fmt.Errorf("trigger digest: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return report, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(body, &apiErr)
		if apiErr.Error == "" {
			apiErr.Error = http.StatusText(resp.StatusCode)
		}
		return report, fmt.Errorf("trigger digest: status %d: %s", resp.StatusCode, apiErr.Error)
	}
	if err := json.Unmarshal(body, &report); err != nil {
		return report, fmt.Errorf("decode report: %w", err)
	}
	return report, nil
}

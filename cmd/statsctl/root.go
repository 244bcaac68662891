package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cppla/pagestats/broker"
	"github.com/cppla/pagestats/config"
	"github.com/cppla/pagestats/events"
	"github.com/cppla/pagestats/utils"
)

type deps struct {
	loadConfig    func(path string) (config.AppConfig, error)
	openPublisher func(ctx context.Context, cfg config.BrokerConfig) (broker.Publisher, error)
}

func defaultDeps() deps {
	return deps{loadConfig: config.LoadFile, openPublisher: broker.OpenPublisher}
}

func newRootCmd(d deps) *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "statsctl",
		Short:         "Operate the page statistics service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config/config.json", "path to the JSON config file")

	load := func(needSecret bool) (config.AppConfig, error) {
		cfg, err := d.loadConfig(configPath)
		if errors.Is(err, config.ErrMissingSecret) && !needSecret {
			return cfg, nil
		}
		return cfg, err
	}

	root.AddCommand(newPublishCmd(d, load), newTokenCmd(load))
	return root
}

func newPublishCmd(d deps, load func(bool) (config.AppConfig, error)) *cobra.Command {
	var (
		kind    string
		payload string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish one domain event to the statistics queue",
		Long: `Publish one domain event using the same wire contract as the primary API.

Examples:

1. Create a page:
   statsctl publish --kind page_created --payload '{"id": 1, "owner": 7, "name": "Cats"}'

2. Count a like:
   statsctl publish --kind like_created --payload 1

3. Accept a batch of follow requests:
   statsctl publish --kind follower_added_all --payload '{"page_id": 1, "quantity": 5}'
`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			k := events.Kind(strings.TrimSpace(kind))
			if !k.Known() {
				return fmt.Errorf("unknown kind %q (known: %v)", kind, events.Kinds())
			}
			// passed through as raw JSON so large ids keep every digit
			body := json.RawMessage(strings.TrimSpace(payload))
			if !json.Valid(body) {
				return fmt.Errorf("payload is not JSON: %s", payload)
			}
			ev, err := events.New(k, body)
			if err != nil {
				return err
			}

			cfg, err := load(false)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			pub, err := d.openPublisher(ctx, cfg.Broker)
			if err != nil {
				return err
			}
			defer pub.Close()

			if err := pub.Publish(ctx, ev); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %s message_id=%s\n", ev.Kind, ev.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "event kind, e.g. page_created")
	cmd.Flags().StringVar(&payload, "payload", "", "JSON payload")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "publish timeout")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("payload")
	return cmd
}

func newTokenCmd(load func(bool) (config.AppConfig, error)) *cobra.Command {
	var (
		userID int64
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the query API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if userID <= 0 {
				return errors.New("--user must be a positive id")
			}
			cfg, err := load(true)
			if err != nil {
				return err
			}
			token, err := utils.GenerateToken(cfg.JWTSecret, userID, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "user id to put in the id claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime; 0 for no expiry")
	return cmd
}

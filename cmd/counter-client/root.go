package main

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"os"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/code-payments/counter-program/pkg/counter/client"
	"github.com/code-payments/counter-program/pkg/metrics"
)

const (
	appName = "counter-client"

	newRelicLicenseKeyEnvName = "NEW_RELIC_LICENSE_KEY"
)

type rootOptions struct {
	configPath     string
	programKeypair string
	programID      string
	logLevel       string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   appName,
		Short: "Count with a deployed counter program",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			ctx, err := configureMetrics(cmd.Context())
			if err != nil {
				return err
			}
			cmd.SetContext(ctx)
			configureLogger(ctx, opts.logLevel)
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.DisableAutoGenTag = true
	cmd.SilenceUsage = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", client.DefaultSolanaCLIConfigPath(), "solana cli config file")
	cmd.PersistentFlags().StringVar(&opts.programKeypair, "program-keypair", "", "keypair file of the deployed program")
	cmd.PersistentFlags().StringVar(&opts.programID, "program-id", "", "base58 address of the deployed program, instead of --program-keypair")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level")

	cmd.AddCommand(
		newCountCmd(opts),
		newReportCmd(opts),
	)

	return cmd
}

func newCountCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Fund the payer, create the counter account if needed, count once and report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			c, err := opts.newClient(ctx)
			if err != nil {
				return err
			}

			if _, err := c.EstablishConnection(ctx); err != nil {
				return err
			}
			if _, err := c.EstablishPayer(ctx); err != nil {
				return err
			}
			if err := c.CheckProgram(ctx); err != nil {
				return err
			}

			sig, err := c.Count(ctx)
			if err != nil {
				return errors.Wrap(err, "failed to count")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "counted in transaction %s\n", sig.ToBase58())

			return report(cmd, c)
		},
	}
}

func newReportCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Print how many times the counter account has been counted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.newClient(cmd.Context())
			if err != nil {
				return err
			}
			return report(cmd, c)
		},
	}
}

func report(cmd *cobra.Command, c *client.Client) error {
	state, err := c.Report(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s has been counted %d time(s)\n", base58.Encode(c.Counter()), state.Counter)
	return nil
}

func (o *rootOptions) newClient(ctx context.Context) (*client.Client, error) {
	programID, err := o.program()
	if err != nil {
		return nil, err
	}

	return client.NewFromConfig(ctx, programID, client.WithSolanaCLIConfig(o.configPath))
}

func (o *rootOptions) program() (ed25519.PublicKey, error) {
	switch {
	case len(o.programID) > 0:
		key, err := base58.Decode(o.programID)
		if err != nil {
			return nil, errors.Wrap(err, "invalid --program-id")
		}
		if len(key) != ed25519.PublicKeySize {
			return nil, errors.Errorf("invalid --program-id length: %d", len(key))
		}
		return key, nil
	case len(o.programKeypair) > 0:
		keypair, err := client.LoadKeypair(o.programKeypair)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read program keypair, the program may need to be deployed with `solana program deploy`")
		}
		return keypair.Public().(ed25519.PublicKey), nil
	}

	return nil, errors.New("one of --program-id or --program-keypair is required")
}

// configureMetrics attaches a New Relic application to ctx when a license key is
// present in the environment.
func configureMetrics(ctx context.Context) (context.Context, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	licenseKey := os.Getenv(newRelicLicenseKeyEnvName)
	if len(licenseKey) == 0 {
		return ctx, nil
	}

	app, err := newrelic.NewApplication(
		newrelic.ConfigFromEnvironment(),
		newrelic.ConfigAppName(appName),
		newrelic.ConfigLicense(licenseKey),
		newrelic.ConfigAppLogForwardingEnabled(true),
	)
	if err != nil {
		return nil, errors.Wrap(err, "error connecting to new relic")
	}

	return metrics.NewContext(ctx, app), nil
}

func configureLogger(ctx context.Context, logLevel string) {
	if app, ok := metrics.FromContext(ctx); ok {
		logrus.SetFormatter(metrics.NewCustomNewRelicLogFormatter(app, &logrus.JSONFormatter{}))
	} else {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(strings.ToLower(logLevel))
	if err != nil {
		logrus.StandardLogger().WithField("log_level", logLevel).Warn("unknown log level, ignoring")
	} else {
		logrus.SetLevel(level)
	}

	logrus.SetOutput(os.Stderr)
}

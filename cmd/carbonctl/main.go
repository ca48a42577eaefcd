package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/jmerrifield20/CarbonLedger/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	ledgerURL   string
	cfgFile     string
	outFormat   string
	bearerToken string
	carrierID   string
	adminSecret string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "carbonctl",
	Short: "Carbon record integrity ledger CLI",
	Long: `carbonctl talks to a carbon ledger over its HTTP API.

It records emissions, manages carrier signing keys, signs and verifies
records and chains, screens for anomalies and pulls audit exports.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.carbonctl")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("CARBON")
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if ledgerURL == "" {
			ledgerURL = viper.GetString("ledger_url")
		}
		if ledgerURL == "" {
			ledgerURL = "http://localhost:8080"
		}
		if bearerToken == "" {
			bearerToken = viper.GetString("token")
		}
		if carrierID == "" {
			carrierID = viper.GetString("carrier_id")
		}
		if adminSecret == "" {
			adminSecret = viper.GetString("admin_secret")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.carbonctl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&ledgerURL, "ledger", "", "ledger base URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVarP(&outFormat, "format", "o", "text", "output format: text or json")
	rootCmd.PersistentFlags().StringVar(&bearerToken, "token", "", "carrier bearer token (env CARBON_TOKEN)")
	rootCmd.PersistentFlags().StringVar(&carrierID, "carrier", "", "carrier id sent as X-Carrier-ID when the ledger runs without tokens")
	rootCmd.PersistentFlags().StringVar(&adminSecret, "admin-secret", "", "admin secret for token issuance and sweeps (env CARBON_ADMIN_SECRET)")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the carbonctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("carbonctl", version)
	},
}

// newClient builds an SDK client from the persistent flags.
func newClient() (*client.Client, error) {
	var opts []client.Option
	if bearerToken != "" {
		opts = append(opts, client.WithBearerToken(bearerToken))
	}
	if carrierID != "" {
		opts = append(opts, client.WithCarrierID(carrierID))
	}
	if adminSecret != "" {
		opts = append(opts, client.WithAdminSecret(adminSecret))
	}
	return client.New(ledgerURL, opts...)
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v any) error {
	return writeJSON(os.Stdout, v)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func jsonOutput() bool {
	return outFormat == "json"
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

package cmd

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	coordinatorURL string
	outputFormat   string
	cfgFile        string
	apiKey         string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "trainctl",
	Short: "CLI for the trainctl distributed training system",
	Long:  `trainctl is a command line interface for launching training runs and managing nodes and experiments in the trainctl distributed training system.`,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.trainctl/config)")
	rootCmd.PersistentFlags().StringVar(&coordinatorURL, "coordinator", "", "coordinator API URL (default from config or http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "table", "output format: table or json")
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".trainctl")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.AutomaticEnv()
	viper.BindEnv("api_key", "TRAINCTL_API_KEY")
	viper.BindEnv("coordinator_url", "TRAINCTL_COORDINATOR")

	if err := viper.ReadInConfig(); err == nil {
		if viper.GetString("coordinator_url") != "" && coordinatorURL == "" {
			coordinatorURL = viper.GetString("coordinator_url")
		}
	}

	if apiKey == "" && viper.GetString("api_key") != "" {
		apiKey = viper.GetString("api_key")
	}
	if coordinatorURL == "" && viper.GetString("coordinator_url") != "" {
		coordinatorURL = viper.GetString("coordinator_url")
	}

	if coordinatorURL == "" {
		coordinatorURL = "http://localhost:8080"
	}
}

// GetCoordinatorURL returns the configured coordinator URL without trailing slashes
func GetCoordinatorURL() string {
	return strings.TrimRight(coordinatorURL, "/")
}

// IsJSONOutput returns true if JSON output is requested
func IsJSONOutput() bool {
	return outputFormat == "json"
}

// GetHTTPClient returns the HTTP client used for coordinator calls
func GetHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

// CreateAuthenticatedRequest creates an HTTP request with an auth header if an API key is configured
func CreateAuthenticatedRequest(method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, err
	}

	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	return req, nil
}

package cmd

import (
	"fmt"
	u "net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/tanq16/grabber/internal/retry"
	"github.com/tanq16/grabber/internal/utils"
)

var (
	workers         int
	connectTimeout  time.Duration
	timeout         time.Duration
	kaTimeout       time.Duration
	flushThreshold  string
	retryInitial    time.Duration
	retryMultiplier float64
	retryMaxDelay   time.Duration
	retryAttempts   int
	retryMaxElapsed time.Duration
	userAgent       string
	proxyURL        string
	proxyUsername   string
	proxyPassword   string
	headers         []string
	bearerToken     string
	awsProfile      string
	plainOutput     bool
	debug           bool
	logFile         string
	metricsFile     string
)

var GrabberVersion = "dev"

var rootCmd = &cobra.Command{
	Use:     "grabber",
	Short:   "Grabber downloads batches of files concurrently, verifies them and publishes them atomically",
	Version: GrabberVersion,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loadEnv(cmd)
		utils.InitLogger(debug)
		if !debug {
			zerolog.SetGlobalLevel(zerolog.WarnLevel)
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadEnv reads a .env file when present and fills unset flags from it.
func loadEnv(cmd *cobra.Command) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: could not read .env file: %v\n", err)
	}
	if !cmd.Flags().Changed("token") {
		if v := os.Getenv("GRABBER_TOKEN"); v != "" {
			bearerToken = v
		}
	}
	if !cmd.Flags().Changed("profile") {
		if v := os.Getenv("GRABBER_PROFILE"); v != "" {
			awsProfile = v
		}
	}
}

func buildConfig() (utils.DownloadConfig, error) {
	cfg := utils.DefaultDownloadConfig()
	flush, err := utils.ParseBytes(flushThreshold)
	if err != nil {
		return cfg, utils.NewError(utils.KindConfig, "config", err)
	}
	if userAgent == "randomize" {
		userAgent = utils.GetRandomUserAgent()
	}
	// credentials embedded in the proxy URL win unless given explicitly
	parsedProxy, err := u.Parse(proxyURL)
	if err == nil && parsedProxy.User != nil && proxyUsername == "" {
		proxyUsername = parsedProxy.User.Username()
		if password, set := parsedProxy.User.Password(); set {
			proxyPassword = password
		}
		parsedProxy.User = nil
		proxyURL = parsedProxy.String()
	}
	cfg.MaxConcurrent = workers
	cfg.ConnectTimeout = connectTimeout
	cfg.Timeout = timeout
	cfg.FlushThreshold = flush
	cfg.Retry = retry.Policy{
		InitialDelay: retryInitial,
		Multiplier:   retryMultiplier,
		MaxDelay:     retryMaxDelay,
		MaxAttempts:  retryAttempts,
		MaxElapsed:   retryMaxElapsed,
	}
	cfg.HTTPClientConfig = utils.HTTPClientConfig{
		KATimeout:     kaTimeout,
		ProxyURL:      proxyURL,
		ProxyUsername: proxyUsername,
		ProxyPassword: proxyPassword,
		UserAgent:     userAgent,
		Headers:       utils.ParseHeaderArgs(headers),
		BearerToken:   bearerToken,
		AWSProfile:    awsProfile,
	}
	return cfg, cfg.Validate()
}

func init() {
	policy := retry.DefaultPolicy()
	flags := rootCmd.PersistentFlags()
	flags.IntVarP(&workers, "workers", "w", utils.DefaultMaxConcurrent, "Number of downloads to run in parallel")
	flags.DurationVar(&connectTimeout, "connect-timeout", utils.DefaultConnectTimeout, "Time allowed until a response starts (eg. 2s)")
	flags.DurationVarP(&timeout, "timeout", "t", utils.DefaultTimeout, "Time allowed for one attempt to connect and stream (eg. 60s, 10m)")
	flags.DurationVarP(&kaTimeout, "keep-alive-timeout", "k", 90*time.Second, "Keep-alive timeout for idle connections")
	flags.StringVar(&flushThreshold, "flush-threshold", "512KB", "Bytes buffered before each write to disk (eg. 64KB, 4MB)")
	flags.DurationVar(&retryInitial, "retry-initial", policy.InitialDelay, "Delay before the first retry")
	flags.Float64Var(&retryMultiplier, "retry-multiplier", policy.Multiplier, "Backoff multiplier between retries")
	flags.DurationVar(&retryMaxDelay, "retry-max-delay", policy.MaxDelay, "Longest single delay between retries")
	flags.IntVar(&retryAttempts, "retry-attempts", policy.MaxAttempts, "Total attempts per download, the first one included")
	flags.DurationVar(&retryMaxElapsed, "retry-max-elapsed", policy.MaxElapsed, "Stop retrying once this much time has passed (0 disables)")
	flags.StringVarP(&userAgent, "user-agent", "a", utils.ToolUserAgent, "User agent (\"randomize\" picks a browser agent)")
	flags.StringVarP(&proxyURL, "proxy", "p", "", "HTTP/HTTPS proxy URL (e.g., proxy.example.com:8080)")
	flags.StringVar(&proxyUsername, "proxy-username", "", "Proxy username (if not provided in proxy URL)")
	flags.StringVar(&proxyPassword, "proxy-password", "", "Proxy password (if not provided in proxy URL)")
	flags.StringArrayVarP(&headers, "header", "H", []string{}, "Custom headers (like 'Authorization: Basic dXNlcjpwYXNz'); can be specified multiple times")
	flags.StringVar(&bearerToken, "token", "", "Bearer token for HTTP downloads (or GRABBER_TOKEN)")
	flags.StringVar(&awsProfile, "profile", "", "AWS profile for s3:// downloads (or GRABBER_PROFILE)")
	flags.BoolVar(&plainOutput, "plain", false, "Print one line per event instead of the live display")
	flags.BoolVar(&debug, "debug", false, "Enable debug logging")
	flags.StringVar(&logFile, "log-file", "", "Write logs to this file while the live display runs")
	flags.StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics for the run to this file")

	rootCmd.AddCommand(newHTTPCmd())
	rootCmd.AddCommand(newS3Cmd())
	rootCmd.AddCommand(newBatchCmd())
	rootCmd.AddCommand(newCleanCmd())
}

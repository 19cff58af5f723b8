package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"remix-studio-go/internal/config"
	"remix-studio-go/internal/download"
	"remix-studio-go/internal/inspector"
	"remix-studio-go/internal/logger"
	"remix-studio-go/internal/normalizer"
	"remix-studio-go/internal/remix"
	"remix-studio-go/internal/statistics"
	"remix-studio-go/internal/web"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile    string
	modelPath  string
	topPath    string
	bottomPath string
	outerPath  string
	dressPath  string
	numOutputs int
	outputDir  string
	noDownload bool
	verbose    bool
	quiet      bool
	version    string
	buildTime  string
	port       int
	compOut    string
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "remix-studio",
	Short: "Generate clothing remix images from a model photo",
	Long: `RemixStudio submits a model photo and clothing-item photos to a remote
generation service and retrieves the generated remix images.

Before upload, every image is normalized: downscaled to fit the configured
pixel bounds and re-encoded until it fits the byte-size budget. The tool
then polls the service until the job reaches a terminal state and downloads
the results.

Clothing slots: top, bottom, outer, dress. At least one must be provided.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRemix()
	},
}

// compressCmd normalizes images without submitting anything.
var compressCmd = &cobra.Command{
	Use:   "compress <file>...",
	Short: "Normalize images to the configured size budget without uploading",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCompress(args)
	},
}

// statusCmd issues a single status query for an existing job.
var statusCmd = &cobra.Command{
	Use:   "status <prediction-id>",
	Short: "Query the current status of a generation job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus(args[0])
	},
}

// inspectCmd shows metadata for a local image file.
var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Show dimensions, format, and EXIF capture time of an image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInspect(args[0])
	},
}

// serveCmd starts the web interface server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start web interface server",
	Long: `Starts a web server with a graphical interface for RemixStudio.
The web interface allows you to:
- Upload a model photo and clothing photos
- Submit generation jobs
- Watch job status updates in real-time
- View the generated images

Access the interface at http://localhost:<port> (default: 8080)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	rootCmd.Flags().StringVar(&modelPath, "model", "", "model photo (required)")
	rootCmd.Flags().StringVar(&topPath, "top", "", "top clothing photo")
	rootCmd.Flags().StringVar(&bottomPath, "bottom", "", "bottom clothing photo")
	rootCmd.Flags().StringVar(&outerPath, "outer", "", "outerwear photo")
	rootCmd.Flags().StringVar(&dressPath, "dress", "", "dress photo")
	rootCmd.Flags().IntVar(&numOutputs, "outputs", 0, "number of result images (1-4, default from config)")
	rootCmd.Flags().StringVar(&outputDir, "output-dir", "", "directory for downloaded results (default from config)")
	rootCmd.Flags().BoolVar(&noDownload, "no-download", false, "print result URLs instead of downloading")

	compressCmd.Flags().StringVar(&compOut, "out", ".", "directory for normalized copies")
	serveCmd.Flags().IntVar(&port, "port", 8080, "port to run web server on")

	rootCmd.AddCommand(compressCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(serveCmd)
}

// initConfig loads configuration file and environment variables.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.remix-studio")
		viper.AddConfigPath("/etc/remix-studio")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// runRemix executes the full flow: normalize, submit, poll, download.
func runRemix() error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := setupLogger(cfg)
	stats := statistics.NewStatistics()

	if modelPath == "" {
		return fmt.Errorf("--model is required")
	}

	clothingPaths := map[remix.Slot]string{
		remix.SlotTop:    topPath,
		remix.SlotBottom: bottomPath,
		remix.SlotOuter:  outerPath,
		remix.SlotDress:  dressPath,
	}

	model, err := normalizer.LoadFile(modelPath)
	if err != nil {
		return fmt.Errorf("failed to load model image: %w", err)
	}

	var slots []remix.Slot
	assets := []normalizer.Asset{model}
	for _, slot := range remix.Slots() {
		path := clothingPaths[slot]
		if path == "" {
			continue
		}
		asset, err := normalizer.LoadFile(path)
		if err != nil {
			return fmt.Errorf("failed to load %s image: %w", slot, err)
		}
		slots = append(slots, slot)
		assets = append(assets, asset)
	}
	if len(slots) == 0 {
		return fmt.Errorf("at least one clothing image is required (--top, --bottom, --outer, --dress)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	norm := normalizer.NewDefaultNormalizer(log)
	normalized, err := norm.NormalizeAll(ctx, assets, cfg.Policy())
	if err != nil {
		stats.AddError("normalize", err)
		return fmt.Errorf("failed to normalize images: %w", err)
	}
	for i, asset := range assets {
		stats.RecordNormalization(asset.Size(), normalized[i].Size(), normalizer.PassedThrough(asset, normalized[i]))
		logger.WithAsset(log, asset.Name).Infof("prepared for upload: %d -> %d bytes", asset.Size(), normalized[i].Size())
	}

	clothing := make(map[remix.Slot]normalizer.Asset, len(slots))
	for i, slot := range slots {
		clothing[slot] = normalized[i+1]
	}

	httpClient := &http.Client{Timeout: cfg.Service.RequestTimeout}
	client := remix.NewClient(remix.Options{
		BaseURL:    cfg.Service.BaseURL,
		HTTPClient: httpClient,
		Logger:     log,
	})

	outputs := cfg.Output.Count
	if numOutputs > 0 {
		outputs = numOutputs
	}

	predictionID, err := client.Submit(ctx, normalized[0], clothing, outputs)
	if err != nil {
		stats.AddError("submit", err)
		return err
	}
	stats.RecordSubmission()
	printf("Submitted job %s\n", predictionID)

	poller := remix.NewPoller(client, cfg.Service.PollInterval, log)
	snap, err := poller.Await(ctx, predictionID, func(s remix.Snapshot) {
		printf("  status: %s\n", s.Status)
	})
	if err != nil {
		stats.AddError("poll", err)
		return err
	}
	stats.RecordTerminalStatus(string(snap.Status))

	switch {
	case snap.Error != "":
		return fmt.Errorf("generation failed: %s", snap.Error)
	case snap.Status != remix.StatusSucceeded:
		return fmt.Errorf("job ended with status %s", snap.Status)
	}

	if noDownload {
		for _, url := range snap.Output {
			printf("%s\n", url)
		}
	} else {
		dir := cfg.Output.Directory
		if outputDir != "" {
			dir = outputDir
		}
		dl := download.NewDownloader(httpClient, log)
		paths, err := dl.Outputs(ctx, snap.Output, dir)
		if err != nil {
			stats.AddError("download", err)
			return fmt.Errorf("failed to download results: %w", err)
		}
		for _, p := range paths {
			stats.RecordDownload()
			printf("Saved %s\n", p)
		}
	}

	stats.Finish()
	printf("\n%s\n", stats.GetSummary())
	return nil
}

// runCompress normalizes local files and writes the copies next to the
// originals or into --out.
func runCompress(paths []string) error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := setupLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	norm := normalizer.NewDefaultNormalizer(log)
	policy := cfg.Policy()

	if err := os.MkdirAll(compOut, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	for _, path := range paths {
		asset, err := normalizer.LoadFile(path)
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
		out, err := norm.Normalize(ctx, asset, policy)
		if err != nil {
			return fmt.Errorf("failed to normalize %s: %w", path, err)
		}
		dest := compOut + string(os.PathSeparator) + out.Name
		if err := os.WriteFile(dest, out.Data, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", dest, err)
		}
		printf("%s: %d -> %d bytes\n", out.Name, asset.Size(), out.Size())
	}
	return nil
}

// runStatus issues one poll for the given job and prints the snapshot.
func runStatus(predictionID string) error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := setupLogger(cfg)

	client := remix.NewClient(remix.Options{
		BaseURL:    cfg.Service.BaseURL,
		HTTPClient: &http.Client{Timeout: cfg.Service.RequestTimeout},
		Logger:     log,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*cfg.Service.RequestTimeout)
	defer cancel()

	snap, err := client.PollOnce(ctx, predictionID)
	if err != nil {
		return err
	}

	printf("Job:    %s\n", snap.PredictionID)
	printf("Status: %s\n", snap.Status)
	if snap.Message != "" {
		printf("Message: %s\n", snap.Message)
	}
	if snap.Error != "" {
		printf("Error:  %s\n", snap.Error)
	}
	for _, url := range snap.Output {
		printf("Output: %s\n", url)
	}
	return nil
}

// runInspect prints metadata for a local image file.
func runInspect(path string) error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := setupLogger(cfg)

	info, err := inspector.NewInspector(log).Inspect(path)
	if err != nil {
		return err
	}

	printf("File:       %s\n", info.Path)
	printf("Format:     %s (%s)\n", info.Format, info.MIMEType)
	printf("Dimensions: %dx%d\n", info.Width, info.Height)
	printf("Size:       %d bytes\n", info.SizeBytes)
	printf("Modified:   %s\n", info.ModTime.Format(time.RFC3339))
	if info.CapturedAt != nil {
		printf("Captured:   %s\n", info.CapturedAt.Format(time.RFC3339))
	}
	return nil
}

// runServe starts the web interface server.
func runServe() error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := setupLogger(cfg)

	server := web.NewServer(cfg, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(port)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("web server failed: %w", err)
		}
	case <-sigCh:
		log.Info("Shutting down web server")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Stop(ctx); err != nil {
			return fmt.Errorf("failed to stop web server: %w", err)
		}
	}
	return nil
}

// setupLogger builds the logger from the configuration and CLI flags.
func setupLogger(cfg *config.Config) *logrus.Logger {
	logCfg := logger.LoggerConfig{
		Level:      cfg.Logging.Level,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
		Console:    !quiet,
	}
	if verbose {
		logCfg.Level = "debug"
	}

	log, err := logger.NewLogger(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to configure logger: %v\n", err)
		log = logrus.New()
	}
	return log
}

// printf writes user-facing output unless --quiet is set.
func printf(format string, args ...interface{}) {
	if quiet {
		return
	}
	fmt.Printf(format, args...)
}

func main() {
	if version != "" {
		rootCmd.Version = version
		if buildTime != "" {
			rootCmd.Version = fmt.Sprintf("%s (built %s)", version, buildTime)
		}
	}
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

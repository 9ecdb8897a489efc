package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/videocore/internal/capture"
	"github.com/breeze-rmm/videocore/internal/config"
	"github.com/breeze-rmm/videocore/internal/logging"
	"github.com/breeze-rmm/videocore/internal/session"
	"github.com/breeze-rmm/videocore/internal/videocore"
)

var (
	version = "0.1.0"
	cfgFile string
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "breeze-videocore",
	Short: "Breeze video streaming core",
	Long:  `Breeze video streaming core - adaptive remote-desktop video, cursor, and input channel server`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the signaling and streaming server",
	Run: func(cmd *cobra.Command, args []string) {
		runServe()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("breeze-videocore v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/breeze-videocore/videocore.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initLogging(cfg *config.Config) {
	var output io.Writer = os.Stdout
	if cfg.LogFile != "" {
		rw, err := logging.NewRotatingWriter(cfg.LogFile, 50, 3)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file, logging to stdout: %v\n", err)
		} else {
			output = logging.TeeWriter(os.Stdout, rw)
		}
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, output)
	log = logging.L("main")
}

func parseCodec(name string) videocore.Codec {
	switch name {
	case "mjpeg":
		return videocore.CodecMJPEG
	case "h264":
		return videocore.CodecH264
	default:
		return videocore.CodecVP8
	}
}

func runServe() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	initLogging(cfg)

	template := session.Config{
		Codec:           parseCodec(cfg.Codec),
		SourceFPS:       uint32(cfg.SourceFPS),
		MinBitRate:      cfg.MinBitRate,
		MaxBitRate:      cfg.StartingBitRate * 2,
		VBufferMS:       cfg.VBufferSizeMS,
		CursorCacheSize: cfg.CursorCacheSize,
		AckBunch:        cfg.AckBunch,
	}

	srv := session.NewServer(template,
		func() session.FrameSource { return capture.NewX11FrameSource(0) },
		func() videocore.InputSink {
			kb := capture.NewLinuxKeyboardSink()
			mouse := capture.NewLinuxMouseSink(1920, 1080)
			return videocore.InputSink{
				PushScan:       kb.PushScan,
				TabletPosition: mouse.TabletPosition,
				TabletButtons:  mouse.TabletButtons,
				TabletWheel:    mouse.TabletWheel,
			}
		},
	)

	mux := http.NewServeMux()
	mux.Handle("/signal", srv)

	httpSrv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	go func() {
		log.Info("listening", "addr", cfg.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	srv.Shutdown()
	_ = httpSrv.Close()
}

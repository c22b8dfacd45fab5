package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/annel0/wordle-server/internal/app"
	"github.com/annel0/wordle-server/internal/config"
	"github.com/annel0/wordle-server/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
		tcpPort    int
		restPort   int
	)

	rootCmd := &cobra.Command{
		Use:   "wordle-server",
		Short: "Многопользовательский сервер игры в угадывание слов",
		Long: `wordle-server принимает игроков по TCP (кадры с префиксом длины + JSON),
обслуживает REST API регистрации и рейтинга и websocket push-канал.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Log.Level = logLevel
			}
			if tcpPort > 0 {
				cfg.Server.TCPPort = tcpPort
			}
			if restPort > 0 {
				cfg.Server.RESTPort = restPort
			}
			return run(cfg)
		},
	}

	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "Путь к YAML конфигурации (env: WORDLE_CONFIG)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "Уровень логирования: trace, debug, info, warn, error")
	rootCmd.Flags().IntVar(&tcpPort, "tcp-port", 0, "TCP порт игрового протокола (env: WORDLE_TCP_PORT)")
	rootCmd.Flags().IntVar(&restPort, "rest-port", 0, "Порт REST API и push-канала (env: WORDLE_REST_PORT)")

	rootCmd.AddCommand(newConfigCmd(&configPath))
	return rootCmd
}

// newConfigCmd печатает итоговую конфигурацию с учётом env
func newConfigCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Показать итоговую конфигурацию",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			out, err := cfg.Dump()
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
}

func run(cfg *config.Config) error {
	level := logging.ParseLevel(cfg.Log.Level)
	if cfg.Log.Files {
		if err := logging.InitDefaultLogger("server", level); err != nil {
			return fmt.Errorf("❌ Ошибка инициализации логирования: %w", err)
		}
		defer logging.CloseDefaultLogger()
	}

	logging.Info("🎮 Запуск Wordle сервера...")
	logging.Info("📡 Конфигурация: TCP=%s, REST=%s, storage=%s", cfg.Server.TCPAddr(), cfg.Server.RESTAddr(), cfg.Storage.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server, err := app.New(ctx, cfg)
	if err != nil {
		logging.Error("❌ Ошибка создания сервера: %v", err)
		return err
	}

	logging.Info("   🎮 Игровой трафик: TCP %s", server.TCPAddr())
	logging.Info("   🌐 REST API: http://%s", server.RESTAddr())
	logging.Info("   🔔 Push: ws://%s/ws/push?username=..&token=..", server.RESTAddr())
	logging.Info("   ❤️  Health check: http://%s/health", server.RESTAddr())

	if err := server.Run(ctx); err != nil {
		logging.Error("❌ Ошибка остановки: %v", err)
		return err
	}
	logging.Info("👋 Сервер успешно остановлен")
	return nil
}

package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-chat/backend/internal/config"
	"github.com/zhouzirui/z-chat/backend/internal/logging"
	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
	"github.com/zhouzirui/z-chat/backend/internal/service/ai"
	"github.com/zhouzirui/z-chat/backend/internal/service/controller"
	"github.com/zhouzirui/z-chat/backend/internal/service/persistence"
	"github.com/zhouzirui/z-chat/backend/internal/service/session"
	"github.com/zhouzirui/z-chat/backend/internal/service/transport"
)

var (
	serverURL   string
	sendTimeout time.Duration
	noStream    bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "chatctl",
	Short:         "Talk to a z-chat backend over its websocket transport",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(); err != nil {
			log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
		}

		loaded, err := config.Load()
		if err != nil {
			return fmt.Errorf("配置加载失败: %w", err)
		}
		cfg = loaded

		logger, err = logging.New(cfg.Log)
		if err != nil {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(replCmd)

	rootCmd.PersistentFlags().StringVar(&serverURL, "url", "", "websocket endpoint (default TRANSPORT_URL)")
	rootCmd.PersistentFlags().DurationVar(&sendTimeout, "timeout", 0, "completion timeout (default SESSION_COMPLETION_TIMEOUT)")
	rootCmd.PersistentFlags().BoolVar(&noStream, "no-stream", false, "ask for a single reply instead of stream frames")
}

// localSession is a controller whose completions travel over a transport
// channel to the backend.
type localSession struct {
	store   *session.Store
	ctrl    *controller.Controller
	channel *transport.Channel
	closers []func()
}

func (s *localSession) Close() {
	s.ctrl.Close()
	s.channel.Disconnect()
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func openSession(ctx context.Context) (*localSession, error) {
	tc := cfg.Transport
	url := serverURL
	if url == "" {
		url = tc.URL
	}

	opts := transport.DefaultOptions(url)
	opts.BaseDelay = tc.BaseDelay
	opts.MaxDelay = tc.MaxDelay
	opts.MaxAttempts = tc.MaxAttempts
	opts.HeartbeatInterval = tc.HeartbeatInterval
	opts.AckTimeout = tc.AckTimeout
	opts.ReadTimeout = tc.ReadTimeout
	opts.HandshakeTimeout = tc.HandshakeTimeout
	opts.Logger = logger

	ch := transport.NewChannel(opts)
	if err := ch.Connect(ctx); err != nil {
		ch.Disconnect()
		return nil, fmt.Errorf("connect %s: %w", url, err)
	}

	sess := &localSession{channel: ch}

	var blobs persistence.BlobStore = persistence.NewMemoryBlobStore()
	if cfg.Storage.Backend == config.StorageSQLite {
		sqlite, err := persistence.OpenSQLite(cfg.Storage.Path)
		if err != nil {
			ch.Disconnect()
			return nil, err
		}
		blobs = sqlite
		sess.closers = append(sess.closers, func() { _ = sqlite.Close() })
	}

	timeout := cfg.Session.CompletionTimeout
	if sendTimeout > 0 {
		timeout = sendTimeout
	}

	sess.store = session.NewStore(session.NewState(cfg.Session.Defaults, time.Now().UTC()))
	sess.ctrl = controller.New(controller.Deps{
		Store:       sess.store,
		Gateway:     ai.NewRemoteGateway(ch),
		Persistence: persistence.NewAdapter(blobs, logger),
		Logger:      logger,
	}, controller.Options{
		MaxAttachmentBytes: cfg.Session.MaxAttachmentBytes,
		CompletionTimeout:  timeout,
	})
	sess.ctrl.Hydrate(ctx)
	sess.ctrl.BindTransport(ch)

	if noStream {
		// 仅影响本次进程，不写回持久化的设置
		off := false
		sess.ctrl.OverrideSettings(chat.SettingsPatch{EnableStreaming: &off})
	}
	return sess, nil
}

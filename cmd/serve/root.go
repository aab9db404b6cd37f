package serve

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lni/dragonboat/v4/logger"
	cmdUtil "github.com/pyrohost/prometheus/cmd/util"
	"github.com/pyrohost/prometheus/lib/admin"
	"github.com/pyrohost/prometheus/lib/common"
	"github.com/pyrohost/prometheus/lib/databases"
	"github.com/pyrohost/prometheus/lib/modules/lorax"
	"github.com/pyrohost/prometheus/lib/modules/recording"
	"github.com/pyrohost/prometheus/lib/modules/testservers"
	"github.com/pyrohost/prometheus/lib/tasks"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	log = logger.GetLogger("bot")

	ServeCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the stores, background tasks and admin endpoint",
		Long:  `Open every module store in the data directory, run the background tasks (lorax stage changes, test server expiry, idle recordings) and serve /metrics, /healthz and /stores on the admin endpoint. The configuration can be set via command line flags or environment variables. The format of the environment variables is PROMETHEUS_<flag> (e.g. PROMETHEUS_WRITE_TIMEOUT=10)`,
		RunE:  run,
	}
)

func init() {
	// add flags
	key := "endpoint"
	ServeCmd.Flags().String(key, "0.0.0.0:9090", cmdUtil.WrapString("The address on which the admin API will listen"))

	key = "lorax-interval"
	ServeCmd.Flags().Int(key, 60, cmdUtil.WrapString("Seconds between checks for lorax events that were started or ended"))

	key = "expiry-interval"
	ServeCmd.Flags().Int(key, 300, cmdUtil.WrapString("Seconds between runs of the test server cleanup"))

	key = "recording-idle"
	ServeCmd.Flags().Int(key, 30, cmdUtil.WrapString("Minutes without activity after which a recording is stopped"))
}

// run starts the bot's data layer and blocks until SIGINT or SIGTERM
func run(_ *cobra.Command, _ []string) error {
	config := cmdUtil.GetConfig()
	log.Infof("starting with configuration:%s", config)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return Run(ctx, config)
}

// Run opens the stores and runs tasks and the admin server until ctx is done.
// The stores are closed before it returns.
func Run(ctx context.Context, config *common.Config) (err error) {
	opts, err := cmdUtil.GetStoreOptions(config)
	if err != nil {
		return err
	}

	dbs, err := databases.Open(config.DataDir, opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := dbs.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("failed to close stores: %w", cerr))
		}
		log.Infof("stores closed")
	}()

	handlers := dbs.Handlers()
	manager := tasks.NewManager()
	manager.Add(lorax.NewSupervisorTask(handlers.Lorax, manager, lorax.NotifierFunc(announce), config.LoraxInterval))
	manager.Add(testservers.NewExpiryTask(handlers.Testing, testservers.ReaperFunc(reap), config.ExpiryInterval))
	manager.Add(recording.NewIdleTask(handlers.Recording, nil, config.RecordingIdleTime))

	server := admin.NewServer(admin.Config{
		Endpoint:    config.Endpoint,
		LogRequests: config.LogLevel == "debug",
	}, dbs.Infos)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return manager.Run(gctx) })
	g.Go(func() error { return server.Serve(gctx) })

	return g.Wait()
}

// announce logs lorax stage changes. Posting them to the guild is the job of
// the Discord side.
func announce(_ context.Context, t lorax.Transition) error {
	log.Infof("lorax event of guild %d: %s", t.GuildID, t)
	if t.Event.Stage == lorax.StageCompleted {
		if winner, ok := t.Event.Winner(); ok {
			log.Infof("lorax event of guild %d won by %q", t.GuildID, winner)
		}
	}
	return nil
}

// reap logs expired test servers so an operator can verify their deletion at
// the hosting provider.
func reap(_ context.Context, s testservers.TestServer) error {
	log.Infof("test server %s (%s) of user %d expired at %s", s.ServerID, s.Name, s.UserID, s.ExpiresAt.Format(time.RFC3339))
	return nil
}

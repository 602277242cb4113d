package serve

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	cmdUtil "github.com/ValentinKolb/dCache/cmd/util"
	"github.com/ValentinKolb/dCache/rpc/common"
	"github.com/ValentinKolb/dCache/rpc/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = common.DefaultServerConfig()
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the dCache server",
		Long:    `Start the dCache server with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is DCACHE_<flag> (e.g. DCACHE_REQUEST_LEDGER=true)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitConfig)

	defaults := common.DefaultServerConfig()

	// add flags
	key := "caches"
	ServeCmd.PersistentFlags().String(key, "1=default", cmdUtil.WrapString("Comma-separated list of caches to serve. Format: ID=NAME (e.g. 1=default,2=sessions)"))

	key = "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:8080", cmdUtil.WrapString("The address on which the API will listen (e.g. localhost:8080, /tmp/dcache.sock, ...)"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, defaults.TimeoutSecond, cmdUtil.WrapString("Socket timeout of the transport in seconds"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, defaults.LogLevel, cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))

	key = "workers"
	ServeCmd.PersistentFlags().Int(key, defaults.Workers, cmdUtil.WrapString("Maximum number of requests handled in parallel"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Address of the Prometheus metrics endpoint (e.g. localhost:9090), empty disables it"))

	key = "request-ledger"
	ServeCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("Track the outcome of write requests so clients can inquire about them after a reconnect"))

	key = "request-ledger-ttl"
	ServeCmd.PersistentFlags().Int64(key, defaults.RequestLedgerTTLSecond, cmdUtil.WrapString("Seconds a request ledger record is kept"))

	key = "pooling"
	ServeCmd.PersistentFlags().Bool(key, defaults.Pooling, cmdUtil.WrapString("Reuse command and context objects between requests"))

	key = "stack-traces"
	ServeCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("Send stack traces with exception responses"))

	key = "chunk-size"
	ServeCmd.PersistentFlags().Int(key, defaults.ChunkSize, cmdUtil.WrapString("Rows per response packet of bulk gets and readers"))

	key = "cancellation"
	ServeCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("Cancel commands that run longer than the operation timeout of their client"))

	key = "slow-command-ms"
	ServeCmd.PersistentFlags().Int64(key, 0, cmdUtil.WrapString("Log commands that take longer than this many milliseconds, 0 disables the log"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	caches, err := common.ParseCaches(viper.GetString("caches"))
	if err != nil {
		return err
	}
	serveCmdConfig.Caches = caches

	// read the configuration from the command line flags and environment variables
	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.LogLevel = viper.GetString("log-level")
	serveCmdConfig.Workers = viper.GetInt("workers")
	serveCmdConfig.MetricsEndpoint = viper.GetString("metrics-endpoint")
	serveCmdConfig.RequestLedger = viper.GetBool("request-ledger")
	serveCmdConfig.RequestLedgerTTLSecond = viper.GetInt64("request-ledger-ttl")
	serveCmdConfig.Pooling = viper.GetBool("pooling")
	serveCmdConfig.SendStackTraces = viper.GetBool("stack-traces")
	serveCmdConfig.ChunkSize = viper.GetInt("chunk-size")
	serveCmdConfig.EnableRequestCancellation = viper.GetBool("cancellation")
	serveCmdConfig.SlowCommandThresholdMs = viper.GetInt64("slow-command-ms")

	if serveCmdConfig.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", serveCmdConfig.Workers)
	}
	if serveCmdConfig.ChunkSize < 1 {
		return fmt.Errorf("chunk-size must be at least 1, got %d", serveCmdConfig.ChunkSize)
	}
	return nil
}

// run starts the dCache server and stops it on SIGINT or SIGTERM
func run(_ *cobra.Command, _ []string) error {
	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}
	t, err := cmdUtil.GetServerTransport()
	if err != nil {
		return err
	}

	serv := server.NewRPCServer(serveCmdConfig, t, s)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)
	go func() {
		if _, ok := <-sig; ok {
			server.Logger.Infof("shutting down")
			if err := serv.Close(); err != nil {
				server.Logger.Errorf("shutdown failed: %v", err)
			}
		}
	}()

	return serv.Serve()
}

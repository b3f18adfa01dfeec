package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Hogen32/intmax2-mining-cli/internal/blobstore"
	"github.com/Hogen32/intmax2-mining-cli/internal/chain"
	"github.com/Hogen32/intmax2-mining-cli/internal/chainsync"
	"github.com/Hogen32/intmax2-mining-cli/internal/claimtask"
	"github.com/Hogen32/intmax2-mining-cli/internal/cooldown"
	"github.com/Hogen32/intmax2-mining-cli/internal/events"
	eventspg "github.com/Hogen32/intmax2-mining-cli/internal/events/postgres"
	"github.com/Hogen32/intmax2-mining-cli/internal/minerkey"
	"github.com/Hogen32/intmax2-mining-cli/internal/miningtask"
	"github.com/Hogen32/intmax2-mining-cli/internal/mode"
	"github.com/Hogen32/intmax2-mining-cli/internal/orchestrator"
	"github.com/Hogen32/intmax2-mining-cli/internal/proverclient"
	"github.com/Hogen32/intmax2-mining-cli/internal/queue"
	"github.com/Hogen32/intmax2-mining-cli/internal/secrets"
)

func main() {
	var (
		runMode = flag.String("mode", "", "run mode: mining|claim|exit|interactive (default interactive)")

		rpcURL        = flag.String("rpc-url", "", "Ethereum JSON-RPC URL (required)")
		chainID       = flag.Uint64("chain-id", 0, "chain id (required)")
		liquidityAddr = flag.String("liquidity-address", "", "liquidity contract address (required)")

		masterKeySource = flag.String("master-key-source", "env", "master key source: env|aws")
		masterKeyName   = flag.String("master-key-name", "MINING_MASTER_KEY", "env var or secret name holding the master private key hex")

		miningUnit   = flag.String("mining-unit", "100000000000000000", "deposit amount per mining action, in wei")
		miningTimes  = flag.Uint64("mining-times", 10, "deposits per key before advancing")
		maxKeys      = flag.Uint64("max-keys", 0, "keys to mine before stopping; 0 => run until interrupted")
		startKey     = flag.Uint64("start-key-number", 0, "first key number to derive")
		keyCount     = flag.Uint64("key-count", 10, "keys scanned by the claim and exit modes")
		gasAllowance = flag.String("gas-allowance", "10000000000000000", "wei reserved per key for its own gas")

		loopCooldown   = flag.Duration("loop-cooldown", 1*time.Minute, "fixed delay between loop iterations")
		miningCooldown = flag.Duration("mining-cooldown-max", 10*time.Minute, "upper bound of the random post-deposit delay; 0 disables")

		storeDriver = flag.String("store-driver", "postgres", "deposit event store driver: postgres|memory")
		postgresDSN = flag.String("postgres-dsn", "", "Postgres DSN (required when --store-driver=postgres)")

		queueDriver  = flag.String("queue-driver", queue.DriverKafka, "witness queue driver: kafka|stdio")
		queueBrokers = flag.String("queue-brokers", "", "comma-separated queue brokers (required for kafka)")
		claimTopic   = flag.String("claim-topic", proverclient.DefaultTopic, "witness batch topic")

		blobDriver = flag.String("blob-driver", blobstore.DriverS3, "witness archive driver: s3|memory")
		blobBucket = flag.String("blob-bucket", "", "S3 bucket for witness archives (required for s3)")
		blobPrefix = flag.String("blob-prefix", "claims", "key prefix inside the witness archive")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	selected, err := mode.Parse(*runMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
	if *rpcURL == "" || *chainID == 0 || *liquidityAddr == "" {
		fmt.Fprintln(os.Stderr, "error: --rpc-url, --chain-id, and --liquidity-address are required")
		os.Exit(2)
	}
	if !common.IsHexAddress(*liquidityAddr) {
		fmt.Fprintln(os.Stderr, "error: --liquidity-address must be a valid hex address")
		os.Exit(2)
	}
	unit, ok := new(big.Int).SetString(*miningUnit, 10)
	if !ok || unit.Sign() <= 0 {
		fmt.Fprintln(os.Stderr, "error: --mining-unit must be a positive wei amount")
		os.Exit(2)
	}
	allowance, ok := new(big.Int).SetString(*gasAllowance, 10)
	if !ok || allowance.Sign() < 0 {
		fmt.Fprintln(os.Stderr, "error: --gas-allowance must be a non-negative wei amount")
		os.Exit(2)
	}
	if *miningTimes == 0 {
		fmt.Fprintln(os.Stderr, "error: --mining-times must be > 0")
		os.Exit(2)
	}
	if *keyCount == 0 {
		fmt.Fprintln(os.Stderr, "error: --key-count must be > 0")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	secretProvider, err := secrets.New(ctx, *masterKeySource)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
	master, err := secrets.MasterKey(ctx, secretProvider, *masterKeyName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	if selected == mode.ModeInteractive {
		selected, err = promptMode(os.Stdin, os.Stdout)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(2)
		}
	}

	ethc, err := ethclient.DialContext(ctx, *rpcURL)
	if err != nil {
		log.Error("dial rpc", "err", err)
		os.Exit(2)
	}
	defer ethc.Close()

	chainClient, err := chain.NewClient(ethc, chain.Config{
		ChainID:      new(big.Int).SetUint64(*chainID),
		GasAllowance: allowance,
		Log:          log,
	})
	if err != nil {
		log.Error("init chain client", "err", err)
		os.Exit(2)
	}

	var store events.Store
	switch strings.ToLower(strings.TrimSpace(*storeDriver)) {
	case "postgres":
		if strings.TrimSpace(*postgresDSN) == "" {
			fmt.Fprintln(os.Stderr, "error: --postgres-dsn is required when --store-driver=postgres")
			os.Exit(2)
		}
		pool, err := pgxpool.New(ctx, *postgresDSN)
		if err != nil {
			log.Error("init pgx pool", "err", err)
			os.Exit(2)
		}
		defer pool.Close()

		pgStore, err := eventspg.New(pool)
		if err != nil {
			log.Error("init event store", "err", err)
			os.Exit(2)
		}
		if err := pgStore.EnsureSchema(ctx); err != nil {
			log.Error("ensure event schema", "err", err)
			os.Exit(2)
		}
		store = pgStore
	case "memory":
		store = events.NewMemoryStore()
	default:
		fmt.Fprintf(os.Stderr, "error: unsupported --store-driver %q\n", *storeDriver)
		os.Exit(2)
	}

	state, err := chainsync.New(store, log)
	if err != nil {
		log.Error("init sync state", "err", err)
		os.Exit(2)
	}

	scheduler, err := cooldown.New(cooldown.Config{
		Loop:      *loopCooldown,
		MiningMax: *miningCooldown,
	})
	if err != nil {
		log.Error("init cooldown scheduler", "err", err)
		os.Exit(2)
	}

	contract, err := miningtask.NewContract(chainClient, common.HexToAddress(*liquidityAddr), log)
	if err != nil {
		log.Error("init liquidity contract", "err", err)
		os.Exit(2)
	}
	miner, err := miningtask.New(miningtask.Config{
		Deposits:    contract,
		Withdrawals: contract,
		Recorder:    state,
		Log:         log,
	})
	if err != nil {
		log.Error("init mining task", "err", err)
		os.Exit(2)
	}

	report := orchestrator.LogReporter{Log: log}

	log.Info("mining cli started",
		"mode", selected.String(),
		"chainID", *chainID,
		"liquidity", *liquidityAddr,
		"miningUnit", unit.String(),
		"miningTimes", *miningTimes,
		"storeDriver", strings.ToLower(strings.TrimSpace(*storeDriver)),
		"queueDriver", *queueDriver,
		"blobDriver", *blobDriver,
	)

	switch selected {
	case mode.ModeMining:
		loop, err := orchestrator.NewMiningLoop(orchestrator.MiningConfig{
			Unit:    unit,
			Times:   *miningTimes,
			MaxKeys: *maxKeys,
		}, state, miner, chainClient, scheduler, report, log)
		if err != nil {
			log.Error("init mining loop", "err", err)
			os.Exit(2)
		}
		err = loop.Run(ctx, master, *startKey)
		exitOnLoopErr(log, "mining", err)

	case mode.ModeExit:
		keys, err := minerkey.DeriveRange(master, *startKey, *keyCount)
		if err != nil {
			log.Error("derive keys", "err", err)
			os.Exit(2)
		}
		loop, err := orchestrator.NewExitLoop(state, miner, scheduler, report, log)
		if err != nil {
			log.Error("init exit loop", "err", err)
			os.Exit(2)
		}
		if err := loop.Run(ctx, keys); err != nil {
			exitOnLoopErr(log, "exit", err)
			return
		}
		// Retired keys keep no dust: whatever is left after gas goes back
		// to the withdrawal address.
		for _, key := range keys {
			_, err := chainClient.DrainBalance(ctx, key.DepositPrivateKey, key.WithdrawalAddress)
			switch {
			case errors.Is(err, chain.ErrNothingToDrain):
				continue
			case err != nil:
				log.Error("drain deposit address", "address", key.DepositAddress.Hex(), "err", err)
				os.Exit(1)
			}
		}
		log.Info("exit finished")

	case mode.ModeClaim:
		producer, err := queue.NewProducer(queue.ProducerConfig{
			Driver:  *queueDriver,
			Brokers: queue.SplitCommaList(*queueBrokers),
		})
		if err != nil {
			log.Error("init queue producer", "err", err)
			os.Exit(2)
		}
		defer func() { _ = producer.Close() }()

		blobs, err := initBlobstore(ctx, *blobDriver, *blobBucket, *blobPrefix)
		if err != nil {
			log.Error("init witness archive", "err", err)
			os.Exit(2)
		}
		prover, err := proverclient.NewQueueClient(proverclient.QueueConfig{
			Topic:    *claimTopic,
			Producer: producer,
			Blobs:    blobs,
			Log:      log,
		})
		if err != nil {
			log.Error("init prover client", "err", err)
			os.Exit(2)
		}
		task, err := claimtask.New(claimtask.Config{
			Trees:    state,
			Terms:    state,
			Recorder: state,
			Prover:   prover,
			Log:      log,
		})
		if err != nil {
			log.Error("init claim task", "err", err)
			os.Exit(2)
		}
		keys, err := minerkey.DeriveRange(master, *startKey, *keyCount)
		if err != nil {
			log.Error("derive keys", "err", err)
			os.Exit(2)
		}
		loop, err := orchestrator.NewClaimLoop(state, task, scheduler, report, log)
		if err != nil {
			log.Error("init claim loop", "err", err)
			os.Exit(2)
		}
		err = loop.Run(ctx, keys)
		exitOnLoopErr(log, "claim", err)

	default:
		fmt.Fprintf(os.Stderr, "error: mode %s cannot be run\n", selected)
		os.Exit(2)
	}
}

func initBlobstore(ctx context.Context, driver, bucket, prefix string) (blobstore.Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case blobstore.DriverS3:
		if strings.TrimSpace(bucket) == "" {
			return nil, errors.New("--blob-bucket is required when --blob-driver=s3")
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return blobstore.New(blobstore.Config{
			Driver:   blobstore.DriverS3,
			Prefix:   prefix,
			Bucket:   bucket,
			S3Client: s3.NewFromConfig(awsCfg),
		})
	default:
		return blobstore.New(blobstore.Config{Driver: driver, Prefix: prefix})
	}
}

// promptMode runs the minimal interactive menu.
func promptMode(in io.Reader, out io.Writer) (mode.RunMode, error) {
	fmt.Fprintln(out, "select mode:")
	fmt.Fprintln(out, "  1) mining  - deposit and settle")
	fmt.Fprintln(out, "  2) claim   - build and submit claim witnesses")
	fmt.Fprintln(out, "  3) exit    - withdraw and cancel everything")
	fmt.Fprint(out, "> ")

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		switch strings.TrimSpace(scanner.Text()) {
		case "1", "mining":
			return mode.ModeMining, nil
		case "2", "claim":
			return mode.ModeClaim, nil
		case "3", "exit":
			return mode.ModeExit, nil
		case "q", "quit":
			return mode.ModeUnknown, errors.New("aborted")
		}
		fmt.Fprint(out, "enter 1, 2, 3, or q: ")
	}
	if err := scanner.Err(); err != nil {
		return mode.ModeUnknown, err
	}
	return mode.ModeUnknown, errors.New("stdin closed before a mode was chosen")
}

func exitOnLoopErr(log *slog.Logger, name string, err error) {
	switch {
	case err == nil:
		log.Info(name + " finished")
	case errors.Is(err, context.Canceled):
		log.Info(name + " stopped")
	default:
		log.Error(name+" failed", "err", err)
		os.Exit(1)
	}
}

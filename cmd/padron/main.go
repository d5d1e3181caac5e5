package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"padron/internal/config"
	"padron/internal/logging"
	"padron/internal/pipeline"
	"padron/internal/storage"
	"padron/internal/web"
)

func main() {
	cfg, err := config.Load()
	must(err)

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	must(err)
	defer func() { _ = logger.Sync() }()

	registry, err := storage.OpenRegistry(cfg.UsersDBPath, cfg.DataDir)
	must(err)
	defer registry.Close()

	ctx := context.Background()
	importer := pipeline.NewImportService(registry, logger)

	cmd := os.Args[1]
	switch cmd {
	case "serve":
		srv, err := web.NewServer(cfg, registry, importer, logger)
		must(err)
		sigCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer cancel()
		must(srv.Run(sigCtx))
	case "account:create":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		name := fs.String("name", "", "account name")
		_ = fs.Parse(os.Args[2:])
		account, err := registry.CreateAccount(ctx, *name)
		must(err)
		store, err := registry.OpenRolls(account.Name)
		must(err)
		must(store.Close())
		fmt.Printf("account created id=%d name=%s db=%s\n", account.ID, account.Name, registry.RollDBPath(account.Name))
	case "account:list":
		accounts, err := registry.ListAccounts(ctx)
		must(err)
		for _, a := range accounts {
			fmt.Printf("%d\t%s\t%s\n", a.ID, a.Name, a.CreatedAt)
		}
	case "roll:create":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		account := fs.String("account", "", "account name")
		name := fs.String("name", "", "roll name")
		_ = fs.Parse(os.Args[2:])
		store := openStore(ctx, registry, *account)
		defer store.Close()
		roll, err := store.CreateRoll(ctx, *name)
		must(err)
		fmt.Printf("roll created id=%d name=%s\n", roll.ID, roll.Name)
	case "roll:list":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		account := fs.String("account", "", "account name")
		_ = fs.Parse(os.Args[2:])
		store := openStore(ctx, registry, *account)
		defer store.Close()
		rolls, err := store.ListRolls(ctx)
		must(err)
		for _, r := range rolls {
			summary, err := store.Summary(ctx, r.ID)
			must(err)
			fmt.Printf("%d\t%s\ttotal=%d voted=%d remaining=%d\n", r.ID, r.Name, summary.Total, summary.Voted, summary.Remaining)
		}
	case "roll:import":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		account := fs.String("account", "", "account name")
		rollID := fs.Int64("roll", 0, "roll id")
		file := fs.String("file", "", "xlsx, xls or csv path")
		_ = fs.Parse(os.Args[2:])
		if *rollID == 0 || strings.TrimSpace(*file) == "" {
			must(fmt.Errorf("--roll and --file are required"))
		}
		requireAccount(ctx, registry, *account)
		in, err := os.Open(*file)
		must(err)
		defer in.Close()
		res, err := importer.Import(ctx, *account, *rollID, filepath.Base(*file), in)
		if msg, ok := pipeline.UserMessage(err); ok {
			must(fmt.Errorf("%s", msg))
		}
		must(err)
		fmt.Printf("import done roll=%d records=%d trace=%s\n", res.RollID, res.Records, res.TraceID)
	case "roll:preview":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		file := fs.String("file", "", "xlsx, xls or csv path")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*file) == "" {
			must(fmt.Errorf("--file is required"))
		}
		in, err := os.Open(*file)
		must(err)
		defer in.Close()
		records, err := pipeline.Normalize(filepath.Base(*file), in)
		must(err)
		enc := json.NewEncoder(os.Stdout)
		for _, rec := range records {
			must(enc.Encode(rec))
		}
		logger.Debug("preview done", zap.String("file", *file), zap.Int("records", len(records)))
	case "roll:export":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		account := fs.String("account", "", "account name")
		rollID := fs.Int64("roll", 0, "roll id")
		out := fs.String("out", "", "output xlsx path")
		_ = fs.Parse(os.Args[2:])
		if *rollID == 0 || strings.TrimSpace(*out) == "" {
			must(fmt.Errorf("--roll and --out are required"))
		}
		store := openStore(ctx, registry, *account)
		defer store.Close()
		roll, err := store.GetRoll(ctx, *rollID)
		must(err)
		if roll == nil {
			must(fmt.Errorf("no roll id=%d for account %s", *rollID, *account))
		}
		members, err := store.ListMembers(ctx, roll.ID, "")
		must(err)
		must(pipeline.ExportRollToFile(members, *out))
		fmt.Printf("exported %d members to %s\n", len(members), *out)
	default:
		usage()
		os.Exit(1)
	}
}

func requireAccount(ctx context.Context, registry *storage.Registry, name string) {
	if strings.TrimSpace(name) == "" {
		must(fmt.Errorf("--account is required"))
	}
	account, err := registry.GetAccount(ctx, name)
	must(err)
	if account == nil {
		must(fmt.Errorf("unknown account: %s", name))
	}
}

func openStore(ctx context.Context, registry *storage.Registry, name string) storage.RollStore {
	requireAccount(ctx, registry, name)
	store, err := registry.OpenRolls(name)
	must(err)
	return store
}

func usage() {
	fmt.Println("usage: padron <command>")
	fmt.Println("commands:")
	fmt.Println("  serve")
	fmt.Println("  account:create --name=...")
	fmt.Println("  account:list")
	fmt.Println("  roll:create --account=... --name=...")
	fmt.Println("  roll:list --account=...")
	fmt.Println("  roll:import --account=... --roll=1 --file=./socios.xlsx")
	fmt.Println("  roll:preview --file=./socios.csv")
	fmt.Println("  roll:export --account=... --roll=1 --out=./out/padron.xlsx")
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

// 盈亏对账命令行：扫描已执行未结算的镜像单，从交易所流水
// 匹配已实现盈亏并落盘。支持单次运行和 cron 定时两种模式。
// 退出码：0 本轮无失败，1 有镜像单对账失败，2 运行环境错误。
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/copytrade/mirror/internal/repository"
	"github.com/copytrade/mirror/internal/service"
	"github.com/copytrade/mirror/internal/venue"
	"github.com/copytrade/mirror/pkg/crypto"
	"github.com/copytrade/mirror/pkg/logger"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
)

type reconcileConfig struct {
	DBURL        string
	VenueBaseURL string
	VenueTimeout time.Duration
	CredKey      string
	DryRun       bool
	Verbose      bool
	ReportPath   string
	Cron         string
}

var (
	runCLIFunc = runCLI
	exitFunc   = os.Exit
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code := runCLIFunc(ctx, os.Args[1:], os.Stdout, os.Stderr, func(dsn string) (*sql.DB, error) {
		return sql.Open("postgres", dsn)
	})
	exitFunc(code)
}

func parseFlags(args []string) (reconcileConfig, error) {
	fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var cfg reconcileConfig
	fs.StringVar(&cfg.DBURL, "db-url", "", "PostgreSQL connection string")
	fs.StringVar(&cfg.VenueBaseURL, "venue-url", "", "trading venue base url")
	fs.DurationVar(&cfg.VenueTimeout, "venue-timeout", 10*time.Second, "venue http timeout")
	fs.StringVar(&cfg.CredKey, "cred-key", os.Getenv("CRED_KEY"), "credential master key")
	fs.BoolVar(&cfg.DryRun, "dry-run", false, "match and report without writing settlements")
	fs.BoolVar(&cfg.Verbose, "verbose", false, "show detailed progress")
	fs.StringVar(&cfg.ReportPath, "report", "", "write sweep report to file")
	fs.StringVar(&cfg.Cron, "cron", "", "cron expression for scheduled sweeps")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if strings.TrimSpace(cfg.DBURL) == "" {
		return cfg, errors.New("missing required --db-url")
	}
	if strings.TrimSpace(cfg.VenueBaseURL) == "" {
		return cfg, errors.New("missing required --venue-url")
	}
	return cfg, nil
}

func runCLI(ctx context.Context, args []string, out, errOut io.Writer, opener func(string) (*sql.DB, error)) int {
	cfg, err := parseFlags(args)
	if err != nil {
		fmt.Fprintln(errOut, err.Error())
		return 2
	}

	if strings.TrimSpace(cfg.Cron) != "" {
		return runScheduled(ctx, cfg, out, errOut, opener)
	}

	return runOnce(ctx, cfg, out, errOut, opener)
}

func runOnce(ctx context.Context, cfg reconcileConfig, out, errOut io.Writer, opener func(string) (*sql.DB, error)) int {
	db, err := opener(cfg.DBURL)
	if err != nil {
		fmt.Fprintf(errOut, "failed to connect to database: %v\n", err)
		return 2
	}
	defer db.Close()

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := db.PingContext(pingCtx); err != nil {
		fmt.Fprintf(errOut, "failed to ping database: %v\n", err)
		return 2
	}

	sealer, err := crypto.NewSealer(cfg.CredKey)
	if err != nil {
		fmt.Fprintf(errOut, "failed to init credential sealer: %v\n", err)
		return 2
	}

	logOut := io.Discard
	if cfg.Verbose {
		logOut = errOut
	}
	log := logger.New("reconcile", logOut)

	svc := service.NewReconcileService(
		repository.NewFollowerRepository(db),
		repository.NewMirrorRepository(db),
		venue.NewClient(cfg.VenueBaseURL, cfg.VenueTimeout),
		sealer,
		nil,
		log,
	)
	svc.SetDryRun(cfg.DryRun)

	report, err := svc.SweepOnce(ctx)
	if err != nil {
		fmt.Fprintf(errOut, "sweep failed: %v\n", err)
		return 2
	}

	if cfg.ReportPath != "" {
		if err := writeReport(cfg.ReportPath, report); err != nil {
			fmt.Fprintf(errOut, "failed to write report: %v\n", err)
			return 2
		}
	}

	if report.Failed == 0 {
		if cfg.DryRun {
			fmt.Fprintf(out, "✓ Dry-run passed: %d scanned, %d matched, %d still pending\n",
				report.Scanned, report.Settled, report.Pending)
			return 0
		}
		fmt.Fprintf(out, "✓ Sweep passed: %d scanned, %d settled, %d still pending\n",
			report.Scanned, report.Settled, report.Pending)
		return 0
	}

	for _, msg := range report.Errors {
		fmt.Fprintf(errOut, "✗ Reconcile error: %s\n", msg)
	}
	fmt.Fprintf(out, "Sweep finished with failures: %d scanned, %d settled, %d pending, %d failed\n",
		report.Scanned, report.Settled, report.Pending, report.Failed)
	return 1
}

func runScheduled(ctx context.Context, cfg reconcileConfig, out, errOut io.Writer, opener func(string) (*sql.DB, error)) int {
	if cfg.Verbose {
		fmt.Fprintln(out, "Starting scheduled reconcile sweeps...")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(cfg.Cron)
	if err != nil {
		fmt.Fprintf(errOut, "invalid cron expression: %v\n", err)
		return 2
	}

	if code := runOnce(ctx, cfg, out, errOut, opener); code == 2 {
		return code
	}

	c := cron.New(cron.WithParser(parser))
	c.Schedule(schedule, cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		if cfg.Verbose {
			fmt.Fprintln(out, "Running scheduled sweep...")
		}
		if code := runOnce(ctx, cfg, out, errOut, opener); code == 2 {
			fmt.Fprintf(errOut, "scheduled sweep exited with code %d\n", code)
		}
	}))

	c.Start()
	<-ctx.Done()
	c.Stop()
	return 0
}

func writeReport(path string, report *service.SweepReport) error {
	raw, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(raw, '\n'), 0o644)
}

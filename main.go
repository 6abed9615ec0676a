package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/fatih/color"
	"github.com/go-pkgz/lgr"
	"github.com/jessevdk/go-flags"

	"github.com/umputun/sftpcloud/internal/bootstrap"
	"github.com/umputun/sftpcloud/internal/creds"
	"github.com/umputun/sftpcloud/internal/identitystore"
	"github.com/umputun/sftpcloud/server"
)

type options struct {
	Listen      string        `short:"l" long:"listen" env:"LISTEN" default:":2222" description:"address to listen on"`
	SharedRoot  string        `short:"r" long:"root" env:"SFTP_ROOT" default:"./sftp_root" description:"shared root directory all user homes live under"`
	HostKeyFile string        `long:"host-key" env:"HOST_KEY" default:"sftpcloud_rsa" description:"SSH host key file path"`
	IdleTimeout time.Duration `long:"idle-timeout" env:"IDLE_TIMEOUT" default:"10m" description:"connection idle timeout"`

	Store struct {
		Type         string `long:"type" env:"TYPE" default:"sqlite" description:"identity store backend (sqlite or postgres)"`
		SQLitePath   string `long:"sqlite-path" env:"SQLITE_PATH" default:"sftpcloud.db" description:"sqlite database file path"`
		PostgresHost string `long:"postgres-host" env:"POSTGRES_HOST" description:"postgres host"`
		PostgresPort int    `long:"postgres-port" env:"POSTGRES_PORT" default:"5432" description:"postgres port"`
		PostgresDB   string `long:"postgres-db" env:"POSTGRES_DB" description:"postgres database name"`
		PostgresUser string `long:"postgres-user" env:"POSTGRES_USER" description:"postgres user"`
		PostgresPass string `long:"postgres-pass" env:"POSTGRES_PASS" description:"postgres password"`
	} `group:"Store options" namespace:"store" env-namespace:"STORE"`

	Admin struct {
		Username string `long:"username" env:"USERNAME" default:"admin" description:"default admin username, seeded at first start"`
		Password string `long:"password" env:"PASSWORD" default:"admin" description:"default admin password, seeded at first start"`
	} `group:"Admin seeding options" namespace:"admin" env-namespace:"ADMIN"`

	// Admin API options are accepted for compatibility with the external
	// admin surface's deployment but are not consumed by this program: the
	// core neither depends on nor drives that HTTP API (spec.md §6).
	JWT struct {
		Secret    string `long:"secret" env:"SECRET" description:"JWT signing secret, used by the external admin API"`
		Algorithm string `long:"algorithm" env:"ALGORITHM" default:"HS256" description:"JWT signing algorithm, used by the external admin API"`
		ExpHours  int    `long:"exp-hours" env:"EXP_HOURS" default:"12" description:"JWT expiry in hours, used by the external admin API"`
	} `group:"JWT options" namespace:"jwt" env-namespace:"JWT"`

	Version bool `short:"v" long:"version" description:"show version and exit"`
	Dbg     bool `long:"dbg" env:"DEBUG" description:"debug mode"`
}

var opts options

func main() {
	fmt.Printf("sftpcloud %s\n", versionInfo())
	p := flags.NewParser(&opts, flags.PrintErrors|flags.PassDoubleDash|flags.HelpFlag)
	if _, err := p.Parse(); err != nil {
		if !errors.Is(err.(*flags.Error).Type, flags.ErrHelp) {
			fmt.Printf("%v", err)
		}
		os.Exit(1)
	}
	setupLog(opts.Dbg, opts.Admin.Password, opts.Store.PostgresPass, opts.JWT.Secret)

	if opts.Version {
		fmt.Printf("version: %s\n", versionInfo())
		os.Exit(0)
	}

	defer func() {
		if x := recover(); x != nil {
			log.Printf("[WARN] run time panic:\n%v", x)
			panic(x)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	if err := run(ctx, &opts); err != nil {
		log.Printf("[FATAL] %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *options) error {
	sharedRoot, err := filepath.Abs(opts.SharedRoot)
	if err != nil {
		return fmt.Errorf("failed to resolve shared root: %w", err)
	}
	if err := os.MkdirAll(sharedRoot, 0o755); err != nil {
		return fmt.Errorf("failed to create shared root %s: %w", sharedRoot, err)
	}

	storeConfig := &identitystore.Config{Type: identitystore.Type(opts.Store.Type)}
	storeConfig.SQLite.Path = opts.Store.SQLitePath
	storeConfig.Postgres = identitystore.PostgresConfig{
		Host:     opts.Store.PostgresHost,
		Port:     opts.Store.PostgresPort,
		Database: opts.Store.PostgresDB,
		User:     opts.Store.PostgresUser,
		Password: opts.Store.PostgresPass,
	}

	store, err := identitystore.New(storeConfig)
	if err != nil {
		return fmt.Errorf("failed to open identity store: %w", err)
	}

	if err := bootstrap.EnsureDefaultAdmin(ctx, store, sharedRoot, opts.Admin.Username, opts.Admin.Password); err != nil {
		return fmt.Errorf("failed to seed default admin: %w", err)
	}

	srv := &server.Server{
		Config: server.Config{
			ListenAddr:  opts.Listen,
			HostKeyFile: opts.HostKeyFile,
			SharedRoot:  sharedRoot,
			IdleTimeout: opts.IdleTimeout,
			Version:     versionInfo(),
		},
		Verifier: creds.New(store),
		Store:    store,
	}

	return srv.Run(ctx)
}

func versionInfo() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "" {
			return info.Main.Version
		}
	}
	return "dev"
}

func setupLog(dbg bool, secrets ...string) {
	logOpts := []lgr.Option{lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	if dbg {
		logOpts = []lgr.Option{lgr.Debug, lgr.CallerFile, lgr.CallerFunc, lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	}

	colorizer := lgr.Mapper{
		ErrorFunc:  func(s string) string { return color.New(color.FgHiRed).Sprint(s) },
		WarnFunc:   func(s string) string { return color.New(color.FgRed).Sprint(s) },
		InfoFunc:   func(s string) string { return color.New(color.FgYellow).Sprint(s) },
		DebugFunc:  func(s string) string { return color.New(color.FgWhite).Sprint(s) },
		CallerFunc: func(s string) string { return color.New(color.FgBlue).Sprint(s) },
		TimeFunc:   func(s string) string { return color.New(color.FgCyan).Sprint(s) },
	}
	logOpts = append(logOpts, lgr.Map(colorizer))

	var nonEmpty []string
	for _, secret := range secrets {
		if secret != "" {
			nonEmpty = append(nonEmpty, secret)
		}
	}
	if len(nonEmpty) > 0 {
		logOpts = append(logOpts, lgr.Secret(nonEmpty...))
	}
	lgr.SetupStdLogger(logOpts...)
	lgr.Setup(logOpts...)
}

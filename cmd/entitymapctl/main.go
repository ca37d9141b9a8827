// Command entitymapctl converges a host application's registered entity
// types onto a live database: check (apply), --dry-run (show DDL without
// applying) and --export (show the DDL a from-scratch convergence would
// issue), grounded in the teacher's cmd/mssqldef flag set and password
// prompt.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"syscall"

	flags "github.com/jessevdk/go-flags"
	"golang.org/x/term"

	"github.com/entitymapper/entitymapper/config"
	"github.com/entitymapper/entitymapper/registry"
	"github.com/entitymapper/entitymapper/schema"
)

var version string

type options struct {
	ConfigFile    string `short:"c" long:"config" description:"Path to the YAML configuration file" value-name:"config.yaml" required:"true"`
	User          string `short:"U" long:"user" description:"Application database user" value-name:"user_name"`
	Password      string `short:"P" long:"password" description:"Application database password, overridden by $ENTITYMAP_PWD" value-name:"password"`
	AdminUser     string `long:"admin-user" description:"Administrative user for --create/exists checks" value-name:"user_name"`
	AdminPassword string `long:"admin-password" description:"Administrative password, overridden by $ENTITYMAP_ADMIN_PWD" value-name:"password"`
	Prompt        bool   `long:"password-prompt" description:"Force a password prompt instead of --password/$ENTITYMAP_PWD"`
	Create        bool   `long:"create" description:"Create the target database first if it does not exist"`
	DryRun        bool   `long:"dry-run" description:"Don't run DDLs but just show them"`
	Export        bool   `long:"export" description:"Show the DDL a from-scratch convergence would issue, without touching the live database"`
	Force         bool   `long:"force" description:"Re-check every entity regardless of its stored declared_version"`
	Help          bool   `long:"help" description:"Show this help"`
	Version       bool   `long:"version" description:"Show this version"`
}

func parseOptions(args []string) *options {
	var opts options
	parser := flags.NewParser(&opts, flags.None)
	parser.Usage = "[options]"
	if _, err := parser.ParseArgs(args); err != nil {
		log.Fatal(err)
	}

	if opts.Help {
		parser.WriteHelp(os.Stdout)
		os.Exit(0)
	}
	if opts.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	if password, ok := os.LookupEnv("ENTITYMAP_PWD"); ok {
		opts.Password = password
	}
	if adminPassword, ok := os.LookupEnv("ENTITYMAP_ADMIN_PWD"); ok {
		opts.AdminPassword = adminPassword
	}
	if opts.Prompt {
		fmt.Printf("Enter Password: ")
		pass, err := term.ReadPassword(int(syscall.Stdin))
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println()
		opts.Password = string(pass)
	}
	return &opts
}

func main() {
	opts := parseOptions(os.Args[1:])

	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		log.Fatal(err)
	}

	db, err := config.New(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	db.SetCredentials(opts.User, opts.Password)
	db.SetAdminCredentials(opts.AdminUser, opts.AdminPassword)

	ctx := context.Background()

	if opts.Create {
		exists, err := db.Exists(ctx)
		if err != nil {
			log.Fatal(err)
		}
		if !exists {
			if err := db.Create(ctx); err != nil {
				log.Fatal(err)
			}
			fmt.Printf("-- Created database %q\n", cfg.DatabaseName)
		}
	}

	tables, views := registeredEntities()
	if len(tables) == 0 && len(views) == 0 {
		fmt.Println("No entities are registered; link an application package that calls registry.Register before running entitymapctl.")
		return
	}

	if opts.Export || opts.DryRun {
		ddls, err := dryRunDDLs(db, tables, views, opts.Force)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println("-- Apply --")
		for _, ddl := range ddls {
			fmt.Printf("%s;\n", ddl)
		}
		return
	}

	feedback := func(entityName string) { fmt.Printf("-- Checked %s\n", entityName) }
	if err := db.Check(ctx, tables, views, feedback, opts.Force); err != nil {
		log.Fatal(err)
	}
}

// registeredEntities splits every process-registered TypeDesc into tables
// and views, the shape config.Database.Check and dryRunDDLs both expect.
func registeredEntities() (tables, views []*registry.TypeDesc) {
	for _, d := range registry.All() {
		switch d.Kind {
		case registry.Table:
			tables = append(tables, d)
		case registry.View:
			views = append(views, d)
		}
	}
	return tables, views
}

// dryRunDDLs runs the same convergence schema.Engine.Check would, against a
// simulated empty live schema, and returns the DDL statements that would be
// issued instead of executing them (via schema.NewDryRunDB, grounded in
// cmd/mssqldef's --dry-run/--export handling).
func dryRunDDLs(db *config.Database, tables, views []*registry.TypeDesc, force bool) ([]string, error) {
	dryDB, rec, err := schema.NewDryRunDB(schema.ExistingSchema{})
	if err != nil {
		return nil, err
	}
	defer dryDB.Close()

	resolve := func(name string) (*registry.TypeDesc, bool) {
		for _, t := range tables {
			if t.Name == name {
				return t, true
			}
		}
		return nil, false
	}

	engine := schema.New(dryDB, db.Translator(), schema.Config{}, resolve)

	ctx := context.Background()
	all := make([]*registry.TypeDesc, 0, len(tables)+len(views))
	all = append(all, tables...)
	all = append(all, views...)
	for _, desc := range all {
		if err := engine.Check(ctx, desc, force); err != nil {
			return nil, err
		}
	}
	return rec.ExportDDLs(), nil
}

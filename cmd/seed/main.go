/*
main.go - Demo data loader

PURPOSE:
  Loads a scenario (see package scenario) into the configured database and
  prints bearer tokens for the seeded staff, so the API can be exercised
  right away.

COMMAND-LINE FLAGS:
  -scenario  Scenario id (default: month-end)
  -period    Month receiving the transactions, yyyy-mm (default: current)
  -db        Database DSN, overrides DB_DSN
  -list      Print the available scenarios and exit

EXAMPLES:
  ./seed -list
  ./seed -scenario=fresh -db="./data/ksp.db"
  ./seed -period=2025-03
*/
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/api"
	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/app"
	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/config"
	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/ledger"
	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/logging"
	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/scenario"
)

func main() {
	log := logging.Get()

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	log.SetLevel(logging.ParseLevel(cfg.LogLevel))

	id := flag.String("scenario", scenario.MonthEnd, "Scenario to load")
	period := flag.String("period", "", "Month receiving the transactions (yyyy-mm)")
	dsn := flag.String("db", cfg.DBDSN, "Database DSN")
	list := flag.Bool("list", false, "List scenarios and exit")
	flag.Parse()
	cfg.DBDSN = *dsn

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if *list {
		enc.Encode(scenario.List())
		return
	}

	var p ledger.Period
	if *period != "" {
		if p, err = ledger.ParsePeriod(*period); err != nil {
			log.WithError(err).Fatal("Invalid -period")
		}
	}

	ctx := context.Background()
	engine, err := app.New(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize engine")
	}
	defer engine.Close()

	loader := &scenario.Loader{
		Store:    engine.Store,
		Savings:  engine.Savings,
		Loans:    engine.Loans,
		Period:   p,
		Location: cfg.Location(),
	}
	res, err := loader.Load(ctx, *id)
	if err != nil {
		log.WithError(err).WithField("scenario", *id).Error("Failed to load scenario")
		return
	}
	enc.Encode(res)

	if cfg.JWTSecret == "" {
		fmt.Fprintln(os.Stderr, "JWT_SECRET not set; skipping tokens")
		return
	}
	auth := api.NewAuth(cfg.JWTSecret)
	tokens := map[string]string{}
	for staff, role := range map[string]string{
		scenario.StaffAdmin:   api.RoleAdmin,
		scenario.StaffManager: api.RoleManager,
		scenario.StaffTeller:  api.RoleTeller,
	} {
		tok, err := auth.Sign(staff, role, rolePermissions[role], 24*time.Hour)
		if err != nil {
			log.WithError(err).Fatal("Failed to sign token")
		}
		tokens[role] = tok
	}
	enc.Encode(tokens)
}

var rolePermissions = map[string][]string{
	api.RoleManager: {
		api.PermTransactionCreate,
		api.PermTransactionProcess,
		api.PermTransactionRead,
		api.PermReportRead,
		api.PermReportExport,
		api.PermSnapshotGenerate,
	},
	api.RoleTeller: {
		api.PermTransactionCreate,
		api.PermTransactionRead,
	},
}

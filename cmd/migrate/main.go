// migrate is a one-shot schema runner: it auto-migrates the gorm models and
// optionally executes a SQL bootstrap file. When the file fails as a whole it
// falls back to running statement by statement, logging and continuing past
// individual failures.
package main

import (
	"flag"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/schatrath100/junyper/config"
	"github.com/schatrath100/junyper/models"
)

var log = logrus.New()

func main() {
	configPath := flag.String("config", "junyper.json", "path to the config file")
	sqlPath := flag.String("sql", "", "optional SQL bootstrap file to execute after auto-migration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	var db *gorm.DB
	if cfg.DatabaseURL != "" {
		db, err = gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	} else {
		db, err = gorm.Open(sqlite.Open("junyper.db"), &gorm.Config{})
	}
	if err != nil {
		log.Fatalf("open database: %v", err)
	}

	if err := db.AutoMigrate(models.Tables()...); err != nil {
		log.Fatalf("auto migrate: %v", err)
	}
	log.Info("schema migrated")

	if *sqlPath == "" {
		return
	}
	script, err := os.ReadFile(*sqlPath)
	if err != nil {
		log.Fatalf("read sql file: %v", err)
	}
	runScript(db, string(script))
}

// runScript executes the whole script first; if that fails it retries one
// statement at a time so a single bad statement does not block the rest.
func runScript(db *gorm.DB, script string) {
	if err := db.Exec(script).Error; err == nil {
		log.Info("sql bootstrap executed")
		return
	} else {
		log.WithField("error", err.Error()).
			Warn("whole-file execution failed, retrying statement by statement")
	}

	failed := 0
	for _, stmt := range splitStatements(script) {
		if err := db.Exec(stmt).Error; err != nil {
			failed++
			log.WithFields(logrus.Fields{
				"statement": truncate(stmt, 80),
				"error":     err.Error(),
			}).Warn("statement failed")
		}
	}
	log.WithField("failed", failed).Info("sql bootstrap finished")
}

func splitStatements(script string) []string {
	var statements []string
	for _, stmt := range strings.Split(script, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt != "" {
			statements = append(statements, stmt)
		}
	}
	return statements
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

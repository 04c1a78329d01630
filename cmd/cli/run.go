package main

import (
	"context"
	"fmt"

	"leadflow/internal/config"
	"leadflow/internal/models"
	"leadflow/internal/services"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	runTenantID   string
	runMaxActions int
)

var automationRunCmd = &cobra.Command{
	Use:   "automation-run",
	Short: "Execute one automation pass for a tenant",
	Long:  `Execute one automation pass for a tenant synchronously and print the outcome`,
	RunE:  runAutomation,
}

func init() {
	automationRunCmd.Flags().StringVar(&runTenantID, "tenant", "", "tenant id (required)")
	automationRunCmd.Flags().IntVar(&runMaxActions, "max-actions", 0, "action cap for this run (0 = configured default)")
	_ = automationRunCmd.MarkFlagRequired("tenant")
	rootCmd.AddCommand(automationRunCmd)
}

func runAutomation(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if err := config.InitLogger(cfg); err != nil {
		logrus.Warnf("init logger: %v", err)
	}
	appLogger := logrus.StandardLogger()

	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
		cfg.Database.Host, cfg.Database.User, cfg.Database.Password, cfg.Database.Name, cfg.Database.Port,
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	if err := db.AutoMigrate(
		&models.Tenant{}, &models.Lead{}, &models.Task{}, &models.AuditEvent{},
		&models.AutomationRule{}, &models.AutomationRun{}, &models.AutomationRunAction{},
	); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	lock := services.NewWriteLock()
	audit := services.NewAuditService(db)
	rules := services.NewAutomationRuleService(db, lock, audit, appLogger)
	selector := services.NewTargetSelector(db, appLogger)
	applier := services.NewActionApplier(db, lock, audit, appLogger)
	runs := services.NewAutomationRunService(db, lock, rules, selector, applier, appLogger, cfg.Automation.DefaultMaxActions)

	run, err := runs.RunNow(context.Background(), runTenantID, "cli", runMaxActions)
	if err != nil {
		return fmt.Errorf("run automation: %w", err)
	}

	fmt.Printf("Run: %s\nStatus: %s\nActions executed: %d\n", run.ID, run.Status, run.ActionsExecuted)
	if run.AbortedReason != "" {
		fmt.Printf("Aborted reason: %s\n", run.AbortedReason)
	}
	if run.Warnings != "" && run.Warnings != "[]" {
		fmt.Printf("Warnings: %s\n", run.Warnings)
	}
	return nil
}

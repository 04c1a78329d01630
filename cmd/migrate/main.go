package main

import (
	"fmt"
	"log"
	"os"

	"leadflow/internal/config"
	"leadflow/internal/models"
	"leadflow/pkg/utils"

	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func main() {
	// 加载配置
	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()
	cfg := config.Load()

	// 连接数据库
	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
		cfg.Database.Host, cfg.Database.User, cfg.Database.Password, cfg.Database.Name, cfg.Database.Port,
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	log.Println("Starting database migration...")

	// 自动迁移所有模型
	err = db.AutoMigrate(
		&models.Tenant{},
		&models.Lead{},
		&models.Task{},
		&models.AuditEvent{},
		&models.AutomationRule{},
		&models.AutomationRun{},
		&models.AutomationRunAction{},
	)
	if err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	log.Println("Database migration completed successfully!")

	// 创建索引
	log.Println("Creating additional indexes...")

	// 为线索表创建复合索引
	db.Exec("CREATE INDEX IF NOT EXISTS idx_leads_tenant_status ON leads(tenant_id, status)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_leads_tenant_response_due ON leads(tenant_id, response_due)")

	// 为任务表创建复合索引
	db.Exec("CREATE INDEX IF NOT EXISTS idx_tasks_tenant_status ON tasks(tenant_id, status)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_tasks_tenant_lead ON tasks(tenant_id, lead_id)")

	// 为审计事件表创建索引
	db.Exec("CREATE INDEX IF NOT EXISTS idx_audit_events_tenant_entity ON audit_events(tenant_id, entity_id, created_at)")

	// 为运行表创建索引
	db.Exec("CREATE INDEX IF NOT EXISTS idx_automation_runs_tenant_started ON automation_runs(tenant_id, started_at)")

	log.Println("Additional indexes created successfully!")

	// 插入默认数据
	if len(os.Args) > 1 && os.Args[1] == "--seed" {
		log.Println("Seeding default data...")
		seedDefaultData(db)
		log.Println("Default data seeded successfully!")
	}

	log.Println("Migration process completed!")
}

func seedDefaultData(db *gorm.DB) {
	// 创建默认租户
	var tenant models.Tenant
	if err := db.Where("name = ?", "default").First(&tenant).Error; err != nil {
		tenant = models.Tenant{
			ID:   utils.GenerateID(),
			Name: "default",
		}
		db.Create(&tenant)
		log.Printf("Created default tenant %s", tenant.ID)
	}

	// 创建示例线索
	var lead models.Lead
	if err := db.Where("tenant_id = ? AND name = ?", tenant.ID, "Sample lead").First(&lead).Error; err != nil {
		lead = models.Lead{
			ID:       utils.GenerateID(),
			TenantID: tenant.ID,
			Name:     "Sample lead",
			Status:   "new",
			Priority: "normal",
		}
		db.Create(&lead)
		log.Println("Created sample lead")
	}
}

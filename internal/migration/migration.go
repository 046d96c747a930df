package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	billdomain "github.com/smallbiznis/chargeflow/internal/bill/domain"
	paymentdomain "github.com/smallbiznis/chargeflow/internal/payment/domain"
	purchasedomain "github.com/smallbiznis/chargeflow/internal/purchase/domain"
	referencedomain "github.com/smallbiznis/chargeflow/internal/reference/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Migrate brings the schema up to date. Postgres runs the versioned SQL files;
// mysql and sqlite are created from the gorm models.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if conn.Dialector.Name() == "postgres" {
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}
	return AutoMigrate(conn)
}

// RunMigrations applies the embedded postgres migrations.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

// AutoMigrate creates the tables from the models and loads the reference rows.
func AutoMigrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(
		&purchasedomain.Purchase{},
		&purchasedomain.Contract{},
		&purchasedomain.OrganizationMember{},
		&billdomain.Bill{},
		&paymentdomain.StoredCard{},
		&referencedomain.Country{},
		&referencedomain.Currency{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return seedReferenceData(conn)
}

func seedReferenceData(conn *gorm.DB) error {
	countries := []referencedomain.Country{
		{Code: "ES", Name: "Spain", NumericCode: "724"},
		{Code: "DE", Name: "Germany", NumericCode: "276"},
		{Code: "FR", Name: "France", NumericCode: "250"},
		{Code: "GB", Name: "United Kingdom", NumericCode: "826"},
		{Code: "IT", Name: "Italy", NumericCode: "380"},
		{Code: "PT", Name: "Portugal", NumericCode: "620"},
		{Code: "US", Name: "United States", NumericCode: "840"},
	}
	euro, dollar, pound := "€", "$", "£"
	currencies := []referencedomain.Currency{
		{Code: "EUR", Name: "Euro", Symbol: &euro, MinorUnit: 2, NumericCode: "978", IsActive: true},
		{Code: "USD", Name: "US Dollar", Symbol: &dollar, MinorUnit: 2, NumericCode: "840", IsActive: true},
		{Code: "GBP", Name: "Pound Sterling", Symbol: &pound, MinorUnit: 2, NumericCode: "826", IsActive: true},
	}

	return conn.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&countries).Error; err != nil {
			return fmt.Errorf("seed countries: %w", err)
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&currencies).Error; err != nil {
			return fmt.Errorf("seed currencies: %w", err)
		}
		return nil
	})
}

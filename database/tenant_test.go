package database

import (
	"fmt"
	"testing"

	"abonnement-backend/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func TestSchemaName(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Acme", "acme"},
		{" Big Co-Op ", "big_co_op"},
		{"globex_intl", "globex_intl"},
	}
	for _, tc := range cases {
		in, want := tc.in, tc.want
		got, err := SchemaName(in)
		if err != nil {
			t.Fatalf("SchemaName(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("SchemaName(%q): want=%q got=%q", in, want, got)
		}
	}
	for _, bad := range []string{"", "9lives", "acme;drop", "café"} {
		if _, err := SchemaName(bad); err == nil {
			t.Fatalf("SchemaName(%q): want error", bad)
		}
	}
}

func TestMigrateTenantSchemaOnSQLite(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:migrate?mode=memory&cache=shared"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	if err := MigrateTenantSchema(db, ""); err == nil {
		t.Fatalf("MigrateTenantSchema(empty): want error")
	}
	// twice: migrations are idempotent
	for i := 0; i < 2; i++ {
		if err := MigrateTenantSchema(db, "acme"); err != nil {
			t.Fatalf("MigrateTenantSchema #%d: %v", i, err)
		}
	}
	for _, m := range TenantModels() {
		if !db.Migrator().HasTable(m) {
			t.Fatalf("table for %T missing", m)
		}
	}
	if err := CreateSchema(db, "acme"); err != nil {
		t.Fatalf("CreateSchema on sqlite: want no-op got=%v", err)
	}
	if err := CreateSchema(db, `acme"; drop`); err == nil {
		t.Fatalf("CreateSchema(invalid): want error")
	}

	for i, name := range []string{"zeta", "acme", "acme"} {
		company := models.Company{
			CompanyName: fmt.Sprintf("Company %d", i), Address: "a", City: "c", Country: "FR", Zip: "1",
			SchemaName: name,
		}
		if err := db.Omit("User", "ContactPerson").Create(&company).Error; err != nil {
			t.Fatalf("company: %v", err)
		}
	}
	schemas, err := TenantSchemas(db)
	if err != nil {
		t.Fatalf("TenantSchemas: %v", err)
	}
	if len(schemas) != 2 || schemas[0] != "acme" || schemas[1] != "zeta" {
		t.Fatalf("TenantSchemas: want=[acme zeta] got=%v", schemas)
	}
}

package main

import (
	"context"
	"database/sql"
	"maps"
	"time"

	"protorm/internal/engine"
	"protorm/internal/pg"
	"protorm/internal/reference"
)

// Встроенный каталог: склад, поставщики, товары.

type Warehouse struct {
	Code string `orm:"code,pk"`
	City string `orm:"city,notnull"`
}

type Supplier struct {
	ID     int64  `orm:"id,pk,auto"`
	Name   string `orm:"name,notnull,unique"`
	Rating int    `orm:"rating,sentinel=-1,range=[1,5]"`
}

type Item struct {
	SKU         string     `orm:"sku,pk,auto"`
	Title       string     `orm:"title,notnull"`
	Price       float64    `orm:"price,range=[0,1000000]"`
	Stock       int        `orm:"stock,sentinel=-1"`
	Status      string     `orm:"status,domain=@item_status,default=active"`
	Warehouse   *Warehouse `orm:"warehouse,notnull"`
	Supplier    *Supplier  `orm:"supplier,on_delete=set_null"`
	Substitutes []*Item    `orm:"substitutes,ordered,on_delete=cascade"`
	Created     time.Time  `orm:"created"`
}

func sampleTypes() []any { return []any{&Warehouse{}, &Supplier{}, &Item{}} }

// builtinEnums: справочники каталога; файлы из enums_dir их дополняют или заменяют.
func builtinEnums() map[string]reference.EnumDirectory {
	return map[string]reference.EnumDirectory{
		"item_status": {
			Name: "item_status",
			Items: []reference.EnumItem{
				{Code: "active", Name: "Active", Order: 1},
				{Code: "discontinued", Name: "Discontinued", Order: 2},
				{Code: "archived", Name: "Archived", Order: 3, Deprecated: true},
			},
		},
	}
}

func loadEnums() (map[string]reference.EnumDirectory, error) {
	enums := builtinEnums()
	if cfg.EnumsDir == "" {
		return enums, nil
	}
	loaded, err := reference.LoadEnumCatalog(cfg.EnumsDir)
	if err != nil {
		return nil, err
	}
	maps.Copy(enums, loaded)
	return enums, nil
}

// newSession: сессия с прикреплённым каталогом; db может быть nil (только plan).
func newSession(db *sql.DB) (*engine.Session, error) {
	enums, err := loadEnums()
	if err != nil {
		return nil, configError("loading enum catalogs", err)
	}
	s := engine.New(db,
		engine.WithLogger(logger),
		engine.WithNamespace(cfg.Database.Namespace),
		engine.WithEnums(enums),
	)
	if err := s.Attach(sampleTypes()...); err != nil {
		return nil, schemaError("attaching entities", err)
	}
	return s, nil
}

func openDB(ctx context.Context) (*sql.DB, error) {
	if cfg.Database.URL == "" {
		return nil, configError("database.url is required", nil)
	}
	db, err := pg.Open(ctx, cfg.Database.Driver, cfg.Database.URL, cfg.PoolOptions())
	if err != nil {
		return nil, dbConnectError("connecting to database", err)
	}
	return db, nil
}
